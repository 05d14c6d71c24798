//go:build !windows

package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/arkwarden/internal/apperr"
	"github.com/loykin/arkwarden/internal/events"
	"github.com/loykin/arkwarden/internal/maintenance"
	"github.com/loykin/arkwarden/internal/registry"
	"github.com/loykin/arkwarden/internal/supervisor"
	"github.com/loykin/arkwarden/internal/tailer"
)

type fixture struct {
	h   http.Handler
	bus *events.Bus
	sup *supervisor.Supervisor
}

func setupRouter(t *testing.T, base string) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	bus := events.NewBus(16)
	sup := supervisor.New(supervisor.Options{
		Emitter: bus,
		Tailer:  tailer.Options{PollInterval: 10 * time.Millisecond, ReadInterval: 10 * time.Millisecond},
	})
	maint := maintenance.New(maintenance.Config{MaxAttempts: 1, RetryDelay: time.Millisecond}, nil, bus)
	r := NewRouter(context.Background(), Deps{
		Supervisor:  sup,
		Maintenance: maint,
		Bus:         bus,
		Metrics:     http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) }),
	}, base)
	t.Cleanup(func() {
		for _, rec := range sup.List() {
			_ = sup.Stop(rec.ID)
		}
		bus.Close()
	})
	return fixture{h: r.Handler(), bus: bus, sup: sup}
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResp {
	t.Helper()
	var e errorResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e), rec.Body.String())
	return e
}

func sleeperBody(dir string) startBody {
	return startBody{
		InstallPath: dir,
		Executable:  "/bin/sh",
		Args:        []string{"-c", "sleep 30"},
		LogPath:     filepath.Join(dir, "server.log"),
		Console:     consoleBody{Host: "127.0.0.1", Port: 27020, Password: "secret"},
	}
}

func TestInstanceLifecycle(t *testing.T) {
	f := setupRouter(t, "/api")
	dir := t.TempDir()

	rec := doReq(t, f.h, http.MethodPost, "/api/instances/island/start", sleeperBody(dir))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pid pidResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pid))
	assert.Greater(t, pid.PID, 0)

	rec = doReq(t, f.h, http.MethodPost, "/api/instances/island/start", sleeperBody(dir))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperr.KindAlreadyRunning, decodeError(t, rec).Kind)

	rec = doReq(t, f.h, http.MethodGet, "/api/instances", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
	var list []registry.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, pid.PID, list[0].PID)

	rec = doReq(t, f.h, http.MethodGet, "/api/instances/island/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "memory_bytes")

	rec = doReq(t, f.h, http.MethodPost, "/api/instances/island/console", commandBody{Command: "saveworld"})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, apperr.KindNotEnabled, decodeError(t, rec).Kind)

	rec = doReq(t, f.h, http.MethodPost, "/api/instances/island/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool { return len(f.sup.List()) == 0 }, 5*time.Second, 10*time.Millisecond)
	rec = doReq(t, f.h, http.MethodPost, "/api/instances/island/stop", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperr.KindNotRunning, decodeError(t, rec).Kind)
}

func TestStartValidation(t *testing.T) {
	f := setupRouter(t, "")
	dir := t.TempDir()

	rec := doReq(t, f.h, http.MethodPost, "/instances/a..b/start", sleeperBody(dir))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := sleeperBody(dir)
	body.Executable = ""
	rec = doReq(t, f.h, http.MethodPost, "/instances/island/start", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.KindInvalid, decodeError(t, rec).Kind)

	body = sleeperBody(dir)
	body.InstallPath = "relative/dir"
	rec = doReq(t, f.h, http.MethodPost, "/instances/island/start", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = sleeperBody(dir)
	body.Console = consoleBody{Enabled: true}
	rec = doReq(t, f.h, http.MethodPost, "/instances/island/start", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/instances/island/start", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConsoleAndStatsNotRunning(t *testing.T) {
	f := setupRouter(t, "")

	rec := doReq(t, f.h, http.MethodPost, "/instances/island/console", commandBody{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doReq(t, f.h, http.MethodPost, "/instances/island/console", commandBody{Command: "saveworld"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doReq(t, f.h, http.MethodGet, "/instances/island/stats", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMaintenanceAccepted(t *testing.T) {
	f := setupRouter(t, "")
	sub := f.bus.Subscribe(nil)

	rec := doReq(t, f.h, http.MethodPost, "/maintenance", maintenance.Request{InstallPath: t.TempDir(), Target: maintenance.TargetServer})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var op operationResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &op))
	require.NotEmpty(t, op.OperationID)

	// steamcmd is missing, so the single attempt fails and the operation finishes
	deadline := time.After(10 * time.Second)
	for {
		select {
		case e := <-sub.C:
			if e.Type != events.TypeMaintenanceFinished {
				continue
			}
			assert.Equal(t, op.OperationID, e.OperationID)
			require.NotNil(t, e.Success)
			assert.False(t, *e.Success)
			return
		case <-deadline:
			t.Fatal("maintenance did not finish")
		}
	}
}

func TestMaintenanceValidation(t *testing.T) {
	f := setupRouter(t, "")
	rec := doReq(t, f.h, http.MethodPost, "/maintenance", map[string]string{"install_path": t.TempDir(), "target": "everything"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doReq(t, f.h, http.MethodPost, "/maintenance", map[string]string{"target": "server"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDiagnose(t *testing.T) {
	f := setupRouter(t, "")

	rec := doReq(t, f.h, http.MethodPost, "/console/diagnose", map[string]any{"port": 27020})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	sub := f.bus.Subscribe(nil)
	rec = doReq(t, f.h, http.MethodPost, "/console/diagnose", map[string]any{"host": "127.0.0.1", "port": 1})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var op operationResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &op))

	deadline := time.After(15 * time.Second)
	for {
		select {
		case e := <-sub.C:
			assert.Equal(t, op.OperationID, e.OperationID)
			if e.Type == events.TypeDiagnosticFinished {
				return
			}
		case <-deadline:
			t.Fatal("diagnostic did not finish")
		}
	}
}

func TestDiagnoseUsesCallerOperationID(t *testing.T) {
	f := setupRouter(t, "")
	const want = "5f0c6d1e-8a8b-4c43-9d55-4c4c2b1f7a10"

	rec := doReq(t, f.h, http.MethodPost, "/console/diagnose", map[string]any{"host": "127.0.0.1", "port": 1, "operation_id": "not-a-uuid"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	sub := f.bus.Subscribe(events.ForOperation(want))
	rec = doReq(t, f.h, http.MethodPost, "/console/diagnose", map[string]any{"host": "127.0.0.1", "port": 1, "operation_id": want})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var op operationResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &op))
	assert.Equal(t, want, op.OperationID)

	select {
	case e := <-sub.C:
		assert.Equal(t, want, e.OperationID)
	case <-time.After(15 * time.Second):
		t.Fatal("no event for the requested operation")
	}
}

func TestMetricsMounted(t *testing.T) {
	f := setupRouter(t, "/api")
	rec := doReq(t, f.h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestEventsSSE(t *testing.T) {
	f := setupRouter(t, "/api")
	srv := httptest.NewServer(f.h)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events?instance=island", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	br := bufio.NewReader(resp.Body)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event:"+ReadyEvent, strings.TrimSpace(line))

	f.bus.Emit(events.LogLine("other", "not for us"))
	f.bus.Emit(events.LogLine("island", "hello"))

	for {
		line, err = br.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") || strings.Contains(line, "subscriber") {
			continue
		}
		var e events.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &e))
		assert.Equal(t, "island", e.InstanceID)
		assert.Equal(t, "hello", e.Line)
		return
	}
}

func TestEventsWebSocket(t *testing.T) {
	f := setupRouter(t, "")
	srv := httptest.NewServer(f.h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events/ws?operation=op-1"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	require.Eventually(t, func() bool { return f.bus.Len() == 1 }, 5*time.Second, 10*time.Millisecond)
	f.bus.Emit(events.MaintenanceLine("op-2", "skip"))
	f.bus.Emit(events.MaintenanceLine("op-1", "Update successful"))

	var e events.Event
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, events.TypeMaintenanceLine, e.Type)
	assert.Equal(t, "op-1", e.OperationID)
	assert.Equal(t, "Update successful", e.Line)
}
