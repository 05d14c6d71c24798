package arkwarden

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/arkwarden/internal/events"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func TestManagerFacadeStartStatsStop(t *testing.T) {
	requireUnix(t)
	m := New()
	defer func() { _ = m.Close() }()
	dir := t.TempDir()

	sub := m.Subscribe("island")
	pid, err := m.Start(context.Background(), StartRequest{
		ID:          "island",
		InstallPath: dir,
		Executable:  "/bin/sh",
		Args:        []string{"-c", "sleep 30"},
		LogPath:     filepath.Join(dir, "server.log"),
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if pid <= 0 {
		t.Fatalf("unexpected pid %d", pid)
	}
	if _, ok := m.Get("island"); !ok {
		t.Fatal("instance not listed")
	}
	if _, err := m.Stats("island"); err != nil {
		t.Fatalf("stats: %v", err)
	}
	if err := m.Stop("island"); err != nil {
		t.Fatalf("stop: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-sub.C:
			if e.Type == events.TypeProcessExited {
				if len(m.List()) != 0 {
					t.Fatalf("registry not cleared: %+v", m.List())
				}
				return
			}
		case <-deadline:
			t.Fatal("no exit event")
		}
	}
}

func TestNewFromConfigHistory(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, "ark.env")
	if err := os.WriteFile(envFile, []byte("MAP=TheIsland_WP\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "arkwarden.toml")
	toml := `
env_files = ["` + envFile + `"]

[history]
enabled = true
dsn = "sqlite://` + filepath.Join(dir, "history.db") + `"

[[instances]]
id = "island"
install_path = "` + dir + `"
executable = "/bin/sh"
args = ["-c", "echo $MAP > ` + filepath.Join(dir, "map.txt") + `"]
autostart = true

[[instances.schedules]]
name = "save"
command = "SaveWorld"
schedule = "0 4 * * *"
`
	if err := os.WriteFile(cfgPath, []byte(toml), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfig(cfgPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	m, err := NewFromConfig(c)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = m.Close() }()

	m.Autostart(context.Background())
	if err := m.StartSchedules(context.Background()); err != nil {
		t.Fatalf("schedules: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		b, err := os.ReadFile(filepath.Join(dir, "map.txt"))
		if err == nil && strings.TrimSpace(string(b)) == "TheIsland_WP" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("autostarted instance did not see the env file variable")
}

func TestHandlerServesAPI(t *testing.T) {
	m := New()
	defer func() { _ = m.Close() }()
	if err := RegisterMetrics(prometheus.NewRegistry()); err != nil {
		t.Fatalf("register metrics: %v", err)
	}

	h := m.Handler(context.Background(), "/api", MetricsHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/instances", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
}

func TestNewMetricsServer(t *testing.T) {
	srv := NewMetricsServer("127.0.0.1:0")
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
}
