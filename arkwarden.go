// Package arkwarden embeds the ARK server manager: supervision, log
// streaming, remote console and SteamCMD maintenance behind one facade.
package arkwarden

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/arkwarden/internal/auth"
	cfg "github.com/loykin/arkwarden/internal/config"
	"github.com/loykin/arkwarden/internal/console"
	"github.com/loykin/arkwarden/internal/cron"
	"github.com/loykin/arkwarden/internal/env"
	"github.com/loykin/arkwarden/internal/events"
	"github.com/loykin/arkwarden/internal/history"
	"github.com/loykin/arkwarden/internal/history/factory"
	"github.com/loykin/arkwarden/internal/maintenance"
	"github.com/loykin/arkwarden/internal/metrics"
	"github.com/loykin/arkwarden/internal/registry"
	iapi "github.com/loykin/arkwarden/internal/server"
	"github.com/loykin/arkwarden/internal/supervisor"
	tlsconf "github.com/loykin/arkwarden/internal/tls"
	"github.com/loykin/arkwarden/internal/toolrun"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type StartRequest = supervisor.StartRequest

type Stats = supervisor.Stats

type Console = registry.Console

type Instance = registry.Record

type Event = events.Event

type Subscription = events.Subscription

type MaintenanceRequest = maintenance.Request

type Config = cfg.Config

type InstanceConfig = cfg.InstanceConfig

type HistorySink = history.Sink

// Manager wires the supervisor, maintenance service and event bus together.
type Manager struct {
	bus   *events.Bus
	sup   *supervisor.Supervisor
	maint *maintenance.Service
	sched *cron.Scheduler
	auth  *auth.AuthService
	sinks []history.Sink
	cfg   *cfg.Config
}

// New returns a Manager with default settings and no history sinks.
func New() *Manager {
	bus := events.NewBus(events.DefaultBuffer)
	return &Manager{
		bus:   bus,
		sup:   supervisor.New(supervisor.Options{Emitter: bus}),
		maint: maintenance.New(maintenance.Config{}, toolrun.NewRunner(), bus),
		cfg:   &cfg.Config{},
	}
}

// NewFromConfig builds a Manager from a loaded config: global environment,
// history sink, tailer and console settings. Extra sinks are added to the
// configured one.
func NewFromConfig(c *Config, extra ...HistorySink) (*Manager, error) {
	e := env.New()
	e.FromOS()
	for _, f := range c.EnvFiles {
		if err := e.LoadFile(f); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}
	e.SetPairs(c.Env)

	var sinks []history.Sink
	if c.History.Enabled {
		sink, err := factory.NewSinkFromDSN(c.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open history sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	sinks = append(sinks, extra...)

	var authSvc *auth.AuthService
	if c.Auth.Enabled {
		svc, err := auth.NewAuthService(c.Auth)
		if err != nil {
			return nil, fmt.Errorf("failed to set up API auth: %w", err)
		}
		authSvc = svc
	}

	bus := events.NewBus(events.DefaultBuffer)
	sup := supervisor.New(supervisor.Options{
		Tailer:  c.Tailer.Options(),
		Emitter: bus,
		Console: c.Console.Client(),
		History: sinks,
		Env:     e,
	})
	sched := cron.NewScheduler(sup)
	for _, in := range c.Instances {
		for _, sc := range in.Schedules {
			job := &cron.Job{Name: in.ID + "/" + sc.Name, Instance: in.ID, Command: sc.Command, Schedule: sc.Schedule}
			if err := sched.Add(job); err != nil {
				return nil, fmt.Errorf("invalid schedule for %s: %w", in.ID, err)
			}
		}
	}
	return &Manager{
		bus:   bus,
		sup:   sup,
		maint: maintenance.New(c.Maintenance, toolrun.NewRunner(), bus),
		sched: sched,
		auth:  authSvc,
		sinks: sinks,
		cfg:   c,
	}, nil
}

func (m *Manager) Start(ctx context.Context, req StartRequest) (int, error) {
	return m.sup.Start(ctx, req)
}
func (m *Manager) Stop(id string) error           { return m.sup.Stop(id) }
func (m *Manager) Stats(id string) (Stats, error) { return m.sup.Stats(id) }
func (m *Manager) List() []Instance               { return m.sup.List() }
func (m *Manager) Get(id string) (Instance, bool) { return m.sup.Get(id) }
func (m *Manager) Subscribe(instance string) *Subscription {
	return m.bus.Subscribe(events.ForInstance(instance))
}
func (m *Manager) Execute(ctx context.Context, id, command string) (string, error) {
	return m.sup.Execute(ctx, id, command)
}

// Diagnose starts a console diagnostic and returns its operation id.
func (m *Manager) Diagnose(ctx context.Context, host string, port uint16, password string) string {
	return m.sup.Diagnose(ctx, "", console.Endpoint{Host: host, Port: port}, password)
}

// Maintenance starts a SteamCMD operation and returns its operation id.
func (m *Manager) Maintenance(ctx context.Context, req MaintenanceRequest) (string, error) {
	return m.maint.Start(ctx, req)
}

// Autostart launches every configured profile marked autostart. Failures are
// logged and skipped.
func (m *Manager) Autostart(ctx context.Context) {
	for _, in := range m.cfg.Instances {
		if !in.Autostart {
			continue
		}
		pid, err := m.sup.Start(ctx, StartRequestFromProfile(in))
		if err != nil {
			slog.Error("Autostart failed", "instance", in.ID, "error", err)
			continue
		}
		slog.Info("Autostarted instance", "instance", in.ID, "pid", pid)
	}
}

// StartSchedules begins sending the configured scheduled console commands.
// Ticks for instances that are not running are skipped.
func (m *Manager) StartSchedules(ctx context.Context) error {
	if m.sched == nil || m.sched.Len() == 0 {
		return nil
	}
	slog.Info("Starting scheduled console commands", "count", m.sched.Len())
	return m.sched.Start(ctx)
}

// StartRequestFromProfile converts a configured profile into a start request.
func StartRequestFromProfile(in InstanceConfig) StartRequest {
	return StartRequest{
		ID:          in.ID,
		InstallPath: in.InstallPath,
		Executable:  in.Executable,
		Args:        in.Args,
		Env:         in.Env,
		LogPath:     in.LogPath,
		Console: Console{
			Host:     in.Console.Host,
			Port:     in.Console.Port,
			Password: in.Console.Password,
			Enabled:  in.Console.Enabled,
		},
	}
}

// Close stops schedules and event streams, then releases history sinks.
// Server processes keep running.
func (m *Manager) Close() error {
	if m.sched != nil {
		m.sched.Stop()
	}
	m.bus.Close()
	m.sup.Close()
	for _, s := range m.sinks {
		if c, ok := s.(io.Closer); ok {
			_ = c.Close()
		}
	}
	return nil
}

// Handler returns the HTTP API for m mounted under basePath. ctx bounds
// background operations started through the API.
func (m *Manager) Handler(ctx context.Context, basePath string, metricsHandler http.Handler) http.Handler {
	return iapi.NewRouter(ctx, m.deps(metricsHandler), basePath).Handler()
}

func (m *Manager) deps(metricsHandler http.Handler) iapi.Deps {
	return iapi.Deps{Supervisor: m.sup, Maintenance: m.maint, Bus: m.bus, Auth: m.auth, Metrics: metricsHandler}
}

func LoadConfig(path string) (*Config, error) {
	return cfg.Load(path)
}

// NewHTTPServer starts an HTTP server exposing the API of m. metricsHandler
// may be nil. The server uses TLS when the manager's config enables it.
func NewHTTPServer(ctx context.Context, addr, basePath string, m *Manager, metricsHandler http.Handler) (*http.Server, error) {
	tlsConfig, err := tlsconf.SetupTLS(m.cfg.Server.TLS)
	if err != nil {
		return nil, fmt.Errorf("failed to set up TLS: %w", err)
	}
	return iapi.NewServer(ctx, addr, basePath, m.deps(metricsHandler), tlsConfig)
}

// HashPassword returns a bcrypt hash suitable for an [[auth.users]] entry.
func HashPassword(password string) (string, error) {
	return auth.HashPassword(password, 0)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
func MetricsHandler() http.Handler                  { return metrics.Handler() }

// NewMetricsServer returns an unstarted HTTP server on addr exposing /metrics
// from the default registry.
func NewMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
