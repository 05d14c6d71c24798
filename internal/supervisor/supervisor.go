// Package supervisor owns the lifecycle of running server instances: spawn,
// forced stop, exit detection, log streaming and console access.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/arkwarden/internal/apperr"
	"github.com/loykin/arkwarden/internal/console"
	"github.com/loykin/arkwarden/internal/env"
	"github.com/loykin/arkwarden/internal/events"
	"github.com/loykin/arkwarden/internal/history"
	"github.com/loykin/arkwarden/internal/metrics"
	"github.com/loykin/arkwarden/internal/process"
	"github.com/loykin/arkwarden/internal/registry"
	"github.com/loykin/arkwarden/internal/tailer"
)

// StartRequest describes one server launch.
type StartRequest struct {
	ID          string           `json:"id"`
	InstallPath string           `json:"install_path"`
	Executable  string           `json:"executable"`
	Args        []string         `json:"args"`
	Env         []string         `json:"env,omitempty"`
	LogPath     string           `json:"log_path,omitempty"`
	Console     registry.Console `json:"console"`
}

// Stats is the OS view of a running instance.
type Stats = process.Stats

// Options wires the supervisor's collaborators. Zero values are usable.
type Options struct {
	Tailer  tailer.Options
	Emitter events.Emitter
	Console *console.Client
	History []history.Sink
	Env     *env.Env
}

type Supervisor struct {
	reg     *registry.Registry
	tailer  tailer.Options
	emit    events.Emitter
	console *console.Client
	history []history.Sink
	env     *env.Env
}

func New(opts Options) *Supervisor {
	s := &Supervisor{
		reg:     registry.New(),
		tailer:  opts.Tailer,
		emit:    opts.Emitter,
		console: opts.Console,
		history: append([]history.Sink(nil), opts.History...),
		env:     opts.Env,
	}
	if s.emit == nil {
		s.emit = events.EmitterFunc(func(events.Event) {})
	}
	if s.console == nil {
		s.console = console.New()
	}
	return s
}

// Start spawns the server described by req and begins streaming its log.
func (s *Supervisor) Start(ctx context.Context, req StartRequest) (int, error) {
	const op = "supervisor.start"
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if strings.TrimSpace(req.ID) == "" || strings.TrimSpace(req.Executable) == "" {
		return 0, apperr.New(apperr.KindInvalid, op, "id and executable are required")
	}
	if s.reg.Has(req.ID) {
		return 0, apperr.ErrAlreadyRunning
	}

	spec := process.Spec{Executable: req.Executable, Args: req.Args, WorkDir: req.InstallPath}
	if s.env != nil {
		spec.Env = s.env.Merge(req.Env)
	} else if len(req.Env) > 0 {
		spec.Env = env.New().Merge(req.Env)
	}
	p, err := process.Start(spec)
	if err != nil {
		slog.Error("Failed to start server", "instance", req.ID, "executable", req.Executable, "error", err)
		return 0, apperr.Wrap(apperr.KindSpawn, op, "failed to start server", err)
	}

	logPath := req.LogPath
	if logPath == "" {
		logPath = ResolveLogPath(req.InstallPath, req.Executable)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	rec := registry.Record{
		PID:         p.PID(),
		Console:     req.Console,
		InstallPath: req.InstallPath,
		Executable:  req.Executable,
		LogPath:     logPath,
		StartedAt:   p.StartedAt(),
		Ctx:         runCtx,
		Cancel:      cancel,
	}
	if err := s.reg.Register(req.ID, rec); err != nil {
		// lost a concurrent Start for the same id
		cancel()
		_ = p.Kill()
		go func() { _, _ = p.Wait() }()
		return 0, err
	}
	rec.ID = req.ID

	metrics.IncStart(req.ID)
	slog.Info("Server started", "instance", req.ID, "pid", rec.PID, "log", logPath)
	history.Publish(s.history, history.Event{Type: history.EventStart, Record: historyRecord(rec)})

	go s.tail(runCtx, req.ID, logPath)
	go s.watch(rec, p)
	return rec.PID, nil
}

// tail streams the instance log until runCtx ends or the file is given up on.
func (s *Supervisor) tail(runCtx context.Context, id, logPath string) {
	t := tailer.New(id, logPath, s.emit, s.tailer)
	if err := t.Run(runCtx).Err(logPath); err != nil {
		slog.Warn("Log streaming disabled", "instance", id, "state", t.State(), "error", err)
	}
}

// watch waits for the child to exit, then drops its registry entry, cancels
// its background tasks and reports the exit.
func (s *Supervisor) watch(rec registry.Record, p *process.Process) {
	code, err := p.Wait()
	if err != nil {
		slog.Warn("Failed to wait for server", "instance", rec.ID, "pid", rec.PID, "error", err)
	}
	s.reg.RemoveIfPID(rec.ID, rec.PID)
	rec.Cancel()

	metrics.IncExit(rec.ID)
	slog.Info("Server exited", "instance", rec.ID, "pid", rec.PID, "exit_code", fmtCode(code))
	s.emit.Emit(events.ProcessExited(rec.ID, code))

	hr := historyRecord(rec)
	now := time.Now().UTC()
	hr.StoppedAt = &now
	hr.ExitCode = code
	history.Publish(s.history, history.Event{Type: history.EventExit, OccurredAt: now, Record: hr})
}

// Stop forcefully kills the instance and its process tree. The registry entry
// is removed by the exit watcher once the OS confirms the exit.
func (s *Supervisor) Stop(id string) error {
	rec, ok := s.reg.Get(id)
	if !ok {
		return apperr.ErrNotRunning
	}
	if err := process.Kill(rec.PID); err != nil {
		slog.Error("Failed to stop server", "instance", id, "pid", rec.PID, "error", err)
		return apperr.Wrap(apperr.KindInternal, "supervisor.stop", "failed to stop server", err)
	}
	metrics.IncStop(id)
	slog.Info("Server stop requested", "instance", id, "pid", rec.PID)
	history.Publish(s.history, history.Event{Type: history.EventStop, Record: historyRecord(rec)})
	return nil
}

// Stats reports uptime and resident memory of the instance's process.
func (s *Supervisor) Stats(id string) (Stats, error) {
	rec, ok := s.reg.Get(id)
	if !ok {
		return Stats{}, apperr.ErrNotRunning
	}
	st, err := process.Inspect(rec.PID)
	if err != nil {
		return Stats{}, apperr.Wrap(apperr.KindProcessGone, "supervisor.stats",
			fmt.Sprintf("failed to refresh process with PID %d", rec.PID), err)
	}
	return st, nil
}

// Execute sends command to the instance's remote console. The response is
// also streamed as a manager line for the instance.
func (s *Supervisor) Execute(ctx context.Context, id, command string) (string, error) {
	rec, ok := s.reg.Get(id)
	if !ok {
		return "", apperr.ErrNotRunning
	}
	if !rec.Console.Enabled {
		return "", apperr.ErrNotEnabled
	}
	ep := console.Endpoint{Host: rec.Console.Host, Port: rec.Console.Port}
	resp, err := s.console.Execute(ctx, ep, rec.Console.Password, command)
	if err != nil {
		s.emit.Emit(events.ManagerLine(id, "Command failed: "+err.Error()))
		return "", err
	}
	s.emit.Emit(events.ManagerLine(id, resp))
	return resp, nil
}

// Diagnose runs the console diagnostic in the background and returns the
// operation id its step notices are tagged with. An empty op is generated.
func (s *Supervisor) Diagnose(ctx context.Context, op string, ep console.Endpoint, password string) string {
	if op == "" {
		op = uuid.NewString()
	}
	go func() {
		err := s.console.Diagnose(ctx, ep, password, func(st events.Step) {
			s.emit.Emit(events.DiagnosticStep(op, st))
		})
		if err != nil {
			slog.Debug("Diagnostic interrupted", "operation", op, "error", err)
		}
		s.emit.Emit(events.DiagnosticFinished(op))
	}()
	return op
}

// Get returns the runtime record for id.
func (s *Supervisor) Get(id string) (registry.Record, bool) { return s.reg.Get(id) }

// List returns all running instances sorted by id.
func (s *Supervisor) List() []registry.Record { return s.reg.List() }

// Close stops log streaming for every instance. Server processes keep
// running; they are not children the daemon should take down on exit.
func (s *Supervisor) Close() {
	for _, rec := range s.reg.List() {
		rec.Cancel()
	}
}

func historyRecord(rec registry.Record) history.Record {
	return history.Record{
		InstanceID:  rec.ID,
		PID:         rec.PID,
		InstallPath: rec.InstallPath,
		Executable:  rec.Executable,
		StartedAt:   rec.StartedAt.UTC(),
	}
}

func fmtCode(code *int) string {
	if code == nil {
		return "unknown"
	}
	return fmt.Sprint(*code)
}
