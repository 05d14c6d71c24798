package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/arkwarden/internal/config"
	"github.com/loykin/arkwarden/internal/events"
	"github.com/loykin/arkwarden/internal/maintenance"
	"github.com/loykin/arkwarden/internal/server"
	"github.com/loykin/arkwarden/internal/supervisor"
	"github.com/loykin/arkwarden/pkg/client"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	color.NoColor = true
	buf := &bytes.Buffer{}
	prevOut, prevErr := stdout, stderr
	stdout, stderr = buf, buf
	t.Cleanup(func() { stdout, stderr = prevOut, prevErr })
	return buf
}

func newTestDaemon(t *testing.T) command {
	t.Helper()
	gin.SetMode(gin.TestMode)
	bus := events.NewBus(16)
	sup := supervisor.New(supervisor.Options{Emitter: bus})
	maint := maintenance.New(maintenance.Config{MaxAttempts: 1, RetryDelay: time.Millisecond}, nil, bus)
	r := server.NewRouter(context.Background(), server.Deps{Supervisor: sup, Maintenance: maint, Bus: bus}, "/api")
	srv := httptest.NewServer(r.Handler())
	t.Cleanup(func() {
		for _, rec := range sup.List() {
			_ = sup.Stop(rec.ID)
		}
		bus.Close()
		srv.Close()
	})
	return command{flags: &GlobalFlags{APIUrl: srv.URL + "/api", APITimeout: 5 * time.Second}}
}

func TestListEmpty(t *testing.T) {
	out := captureOutput(t)
	c := newTestDaemon(t)
	require.NoError(t, c.List(false))
	assert.Contains(t, out.String(), "No running instances")

	out.Reset()
	require.NoError(t, c.List(true))
	assert.Equal(t, "[]", strings.TrimSpace(out.String()))
}

func TestStartRequiresPaths(t *testing.T) {
	captureOutput(t)
	c := newTestDaemon(t)
	err := c.Start("island", StartFlags{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--install-path")
}

func TestStartUsesProfile(t *testing.T) {
	if os.PathSeparator != '/' {
		t.Skip("requires /bin/sh")
	}
	out := captureOutput(t)
	c := newTestDaemon(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "arkwarden.toml")
	toml := `
[[instances]]
id = "island"
install_path = "` + dir + `"
executable = "/bin/sh"
args = ["-c", "sleep 30"]
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(toml), 0o644))
	c.flags.ConfigPath = cfgPath

	require.NoError(t, c.Start("island", StartFlags{}))
	assert.Contains(t, out.String(), "Started island with PID")

	out.Reset()
	require.NoError(t, c.Stats("island", false))
	assert.Contains(t, out.String(), "memory")

	require.NoError(t, c.Stop("island"))
}

func TestStatsNotRunning(t *testing.T) {
	captureOutput(t)
	c := newTestDaemon(t)
	err := c.Stats("island", false)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "not_running", apiErr.Kind)
}

func TestDiagnoseRequiresEndpoint(t *testing.T) {
	captureOutput(t)
	c := newTestDaemon(t)
	assert.Error(t, c.Diagnose(DiagnoseFlags{}))
}

func TestDiagnoseReportsFailure(t *testing.T) {
	out := captureOutput(t)
	c := newTestDaemon(t)
	err := c.Diagnose(DiagnoseFlags{Host: "127.0.0.1", Port: 1})
	require.Error(t, err)
	assert.Contains(t, out.String(), "✓ Host Resolution")
	assert.Contains(t, out.String(), "✗ Raw TCP")
}

func TestAPIURL(t *testing.T) {
	c := command{flags: &GlobalFlags{}}
	assert.Equal(t, client.DefaultConfig().BaseURL, c.apiURL(nil))

	cfg := &config.Config{Server: config.ServerConfig{Listen: "0.0.0.0:9000", BasePath: "/ark"}}
	assert.Equal(t, "http://127.0.0.1:9000/ark", c.apiURL(cfg))

	cfg.Server.Listen = ":9001"
	assert.Equal(t, "http://127.0.0.1:9001/ark", c.apiURL(cfg))

	cfg.Server.TLS.Enabled = true
	assert.Equal(t, "https://127.0.0.1:9001/ark", c.apiURL(cfg))

	c.flags.APIUrl = "http://remote:8420/api"
	assert.Equal(t, "http://remote:8420/api", c.apiURL(cfg))
}

func TestFormatEvent(t *testing.T) {
	color.NoColor = true
	mb := 2048.0
	code := 0
	ok := false

	tests := []struct {
		event client.Event
		want  string
	}{
		{client.Event{Type: client.EventLogLine, InstanceID: "island", Line: "hello"}, "[island] hello"},
		{client.Event{Type: client.EventMemorySample, InstanceID: "island", MemoryMB: &mb}, "[island] memory 2048.0 MB"},
		{client.Event{Type: client.EventPlayerJoined, InstanceID: "island", Player: &client.Player{Name: "Rex", ID: "0002"}}, "[island] Rex (0002) joined"},
		{client.Event{Type: client.EventProcessExited, InstanceID: "island", ExitCode: &code}, "[island] server stopped (exit code 0)"},
		{client.Event{Type: client.EventProcessExited, InstanceID: "island"}, "[island] server stopped (exit code unknown)"},
		{client.Event{Type: client.EventMaintenanceFinished, OperationID: "0123456789", Line: "failed", Success: &ok}, "[01234567] failed"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatEvent(tt.event))
	}
}

func TestRootHasCommands(t *testing.T) {
	root := buildRoot()
	for _, name := range []string{"serve", "start", "stop", "console", "stats", "list", "maintenance", "diagnose", "events", "login", "hash-password"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}

	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetArgs([]string{"--help"})
	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "arkwarden")
}

func TestHashPassword(t *testing.T) {
	out := captureOutput(t)
	require.NoError(t, HashPassword(nil, strings.NewReader("hunter2\n")))
	hash := strings.TrimSpace(out.String())
	assert.True(t, strings.HasPrefix(hash, "$2a$"), hash)

	out.Reset()
	require.NoError(t, HashPassword([]string{"hunter2"}, nil))
	assert.NotEqual(t, hash, strings.TrimSpace(out.String()))

	assert.Error(t, HashPassword(nil, strings.NewReader("")))
}

func TestLoginNeedsUser(t *testing.T) {
	c := command{flags: &GlobalFlags{APITimeout: time.Second}}
	assert.Error(t, c.Login())
}
