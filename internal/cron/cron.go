package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Executor sends a console command to a running instance.
type Executor interface {
	Execute(ctx context.Context, id, command string) (string, error)
}

// Job defines a console command sent to an instance on a schedule.
// Schedule accepts standard cron expressions with an optional seconds field
// ("0 4 * * *", "*/30 * * * * *") and descriptors ("@hourly", "@every 30m").
// If the previous run of the same job is still in flight the tick is skipped.
// Ticks for an instance that is not running are skipped too.
//
// Name must be unique across jobs inside the same Scheduler.
type Job struct {
	Name     string
	Instance string
	Command  string
	Schedule string
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a schedule expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	s, err := parser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return s, nil
}

func (j *Job) validate() error {
	if j.Name == "" {
		return errors.New("scheduled command requires a name")
	}
	if j.Instance == "" {
		return errors.New("scheduled command requires an instance")
	}
	if strings.TrimSpace(j.Command) == "" {
		return errors.New("scheduled command requires a command")
	}
	if j.Schedule == "" {
		return errors.New("scheduled command requires a schedule")
	}
	if _, err := ParseSchedule(j.Schedule); err != nil {
		return fmt.Errorf("job %s: %w", j.Name, err)
	}
	return nil
}

// Scheduler fires console commands through an Executor.
// Use Start to launch the scheduler, and Stop to cancel it.
type Scheduler struct {
	exec    Executor
	timeout time.Duration
	cron    *cron.Cron

	mu      sync.Mutex
	names   map[string]struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// DefaultTimeout bounds a single scheduled command.
const DefaultTimeout = 30 * time.Second

func NewScheduler(exec Executor) *Scheduler {
	logger := slogLogger{}
	return &Scheduler{
		exec:    exec,
		timeout: DefaultTimeout,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		names: map[string]struct{}{},
		ctx:   context.Background(),
	}
}

func (s *Scheduler) Add(job *Job) error {
	if err := job.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.names[job.Name]; dup {
		return fmt.Errorf("duplicate scheduled command %q", job.Name)
	}
	j := *job
	if _, err := s.cron.AddFunc(j.Schedule, func() { s.fire(&j) }); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", j.Name, err)
	}
	s.names[j.Name] = struct{}{}
	return nil
}

// Len reports the number of registered jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.names)
}

// Start launches the scheduler. ctx bounds every command it sends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.cron.Start()
	return nil
}

func (s *Scheduler) fire(j *Job) {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()

	cctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()
	resp, err := s.exec.Execute(cctx, j.Instance, j.Command)
	if err != nil {
		slog.Debug("Scheduled command skipped", "job", j.Name, "instance", j.Instance, "error", err)
		return
	}
	slog.Info("Scheduled command sent", "job", j.Name, "instance", j.Instance, "response", resp)
}

// Stop cancels in-flight commands and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	<-s.cron.Stop().Done()
}

// slogLogger routes the scheduler's own messages to slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
