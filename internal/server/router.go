package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/loykin/arkwarden/internal/apperr"
	"github.com/loykin/arkwarden/internal/auth"
	"github.com/loykin/arkwarden/internal/console"
	"github.com/loykin/arkwarden/internal/events"
	"github.com/loykin/arkwarden/internal/maintenance"
	"github.com/loykin/arkwarden/internal/registry"
	"github.com/loykin/arkwarden/internal/supervisor"
)

// Router provides embeddable HTTP handlers for managing server instances.
// Endpoints (relative to basePath):
//
//	GET  /instances                 running instances
//	POST /instances/:id/start       body: startBody
//	POST /instances/:id/stop
//	POST /instances/:id/console     body: {"command": "..."}
//	GET  /instances/:id/stats
//	POST /maintenance               body: maintenance.Request
//	POST /console/diagnose          body: diagnoseBody
//	GET  /events                    SSE; ?instance= and ?operation= filters
//	GET  /events/ws                 same events over WebSocket
//	POST /auth/login                basic credentials in, bearer token out
//
// With an auth service configured, GET routes need the read permission and
// POST routes the write permission.
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup      *supervisor.Supervisor
	maint    *maintenance.Service
	bus      *events.Bus
	basePath string
	metrics  http.Handler
	auth     *auth.Middleware

	// ctx bounds background work started by requests (maintenance, diagnostics).
	ctx context.Context
}

// Deps are the services the router dispatches to.
type Deps struct {
	Supervisor  *supervisor.Supervisor
	Maintenance *maintenance.Service
	Bus         *events.Bus

	// Auth is nil when the API is open.
	Auth *auth.AuthService

	// Metrics, when set, is mounted at /metrics outside the base path.
	Metrics http.Handler
}

// NewRouter constructs a Router. ctx is the lifetime of background operations.
func NewRouter(ctx context.Context, d Deps, basePath string) *Router {
	return &Router{
		sup:      d.Supervisor,
		maint:    d.Maintenance,
		bus:      d.Bus,
		metrics:  d.Metrics,
		auth:     auth.NewMiddleware(d.Auth),
		basePath: sanitizeBase(basePath),
		ctx:      ctx,
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	if r.metrics != nil {
		g.GET("/metrics", gin.WrapH(r.metrics))
	}
	base := g.Group(r.basePath)
	base.POST("/auth/login", r.auth.Login)

	group := base.Group("", r.auth.GinAuth())
	read := r.auth.GinRequirePermission(auth.ActionRead)
	write := r.auth.GinRequirePermission(auth.ActionWrite)
	group.GET("/instances", read, r.handleList)
	group.POST("/instances/:id/start", write, r.handleStart)
	group.POST("/instances/:id/stop", write, r.handleStop)
	group.POST("/instances/:id/console", write, r.handleConsole)
	group.GET("/instances/:id/stats", read, r.handleStats)
	group.POST("/maintenance", write, r.handleMaintenance)
	group.POST("/console/diagnose", write, r.handleDiagnose)
	group.GET("/events", read, r.handleEvents)
	group.GET("/events/ws", read, r.handleEventsWS)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// A non-nil tlsConfig serves HTTPS.
func NewServer(ctx context.Context, addr, basePath string, d Deps, tlsConfig *tls.Config) (*http.Server, error) {
	r := NewRouter(ctx, d, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		var err error
		if tlsConfig != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "listen", addr, "error", err)
		}
	}()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string      `json:"error"`
	Kind  apperr.Kind `json:"kind"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type consoleResp struct {
	OK       bool   `json:"ok"`
	Response string `json:"response"`
}

type pidResp struct {
	PID int `json:"pid"`
}

type operationResp struct {
	OperationID string `json:"operation_id"`
}

type startBody struct {
	InstallPath string      `json:"install_path" validate:"required"`
	Executable  string      `json:"executable" validate:"required"`
	Args        []string    `json:"args"`
	Env         []string    `json:"env"`
	LogPath     string      `json:"log_path"`
	Console     consoleBody `json:"console"`
}

// consoleBody carries the password, which registry.Console never serializes.
type consoleBody struct {
	Host     string `json:"host" validate:"required_if=Enabled true"`
	Port     uint16 `json:"port" validate:"required_if=Enabled true"`
	Password string `json:"password"`
	Enabled  bool   `json:"enabled"`
}

type commandBody struct {
	Command string `json:"command" validate:"required"`
}

type diagnoseBody struct {
	console.Endpoint
	Password    string `json:"password"`
	OperationID string `json:"operation_id" validate:"omitempty,uuid"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func writeError(c *gin.Context, err error) {
	writeJSON(c, apperr.HTTPStatus(err), errorResp{Error: err.Error(), Kind: apperr.KindOf(err)})
}

func invalid(c *gin.Context, msg string) {
	writeError(c, apperr.New(apperr.KindInvalid, "http", msg))
}

// bind decodes the JSON body into v and runs struct validation.
func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		invalid(c, "invalid JSON: "+err.Error())
		return false
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			invalid(c, verrs[0].Field()+" failed "+verrs[0].Tag())
			return false
		}
		invalid(c, err.Error())
		return false
	}
	return true
}

func instanceID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if !isSafeName(id) {
		invalid(c, "invalid instance id: allowed [A-Za-z0-9._-] and no '..'")
		return "", false
	}
	return id, true
}

func (r *Router) handleList(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.List())
}

func (r *Router) handleStart(c *gin.Context) {
	id, ok := instanceID(c)
	if !ok {
		return
	}
	var body startBody
	if !bind(c, &body) {
		return
	}
	if !isSafeAbsPath(body.InstallPath) {
		invalid(c, "invalid install_path: must be absolute path without traversal")
		return
	}
	if !isSafeAbsPath(body.LogPath) {
		invalid(c, "invalid log_path: must be absolute path without traversal")
		return
	}
	pid, err := r.sup.Start(c.Request.Context(), supervisor.StartRequest{
		ID:          id,
		InstallPath: body.InstallPath,
		Executable:  body.Executable,
		Args:        body.Args,
		Env:         body.Env,
		LogPath:     body.LogPath,
		Console: registry.Console{
			Host:     body.Console.Host,
			Port:     body.Console.Port,
			Password: body.Console.Password,
			Enabled:  body.Console.Enabled,
		},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, pidResp{PID: pid})
}

func (r *Router) handleStop(c *gin.Context) {
	id, ok := instanceID(c)
	if !ok {
		return
	}
	if err := r.sup.Stop(id); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleConsole(c *gin.Context) {
	id, ok := instanceID(c)
	if !ok {
		return
	}
	var body commandBody
	if !bind(c, &body) {
		return
	}
	// the response is also delivered as a manager line on the event stream
	resp, err := r.sup.Execute(c.Request.Context(), id, body.Command)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, consoleResp{OK: true, Response: resp})
}

func (r *Router) handleStats(c *gin.Context) {
	id, ok := instanceID(c)
	if !ok {
		return
	}
	st, err := r.sup.Stats(id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleMaintenance(c *gin.Context) {
	var req maintenance.Request
	if !bind(c, &req) {
		return
	}
	if !isSafeAbsPath(req.InstallPath) {
		invalid(c, "invalid install_path: must be absolute path without traversal")
		return
	}
	op, err := r.maint.Start(r.ctx, req)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, operationResp{OperationID: op})
}

func (r *Router) handleDiagnose(c *gin.Context) {
	var body diagnoseBody
	if !bind(c, &body) {
		return
	}
	op := r.sup.Diagnose(r.ctx, body.OperationID, body.Endpoint, body.Password)
	writeJSON(c, http.StatusAccepted, operationResp{OperationID: op})
}
