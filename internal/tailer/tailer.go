// Package tailer follows a server log file, forwarding every new line and the
// structured events the matcher chain extracts from it.
package tailer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/loykin/arkwarden/internal/apperr"
	"github.com/loykin/arkwarden/internal/events"
	"github.com/loykin/arkwarden/internal/matcher"
	"github.com/loykin/arkwarden/internal/metrics"
)

// Defaults mirror what the ARK dedicated server needs: up to a minute for the
// log to appear, then a half-second poll.
const (
	DefaultPollInterval         = time.Second
	DefaultMaxWaitAttempts      = 60
	DefaultReadInterval         = 500 * time.Millisecond
	DefaultMaxConsecutiveErrors = 10
)

// State is the tailer lifecycle position.
type State int

const (
	AwaitingFile State = iota
	Streaming
	Terminated
)

func (s State) String() string {
	switch s {
	case AwaitingFile:
		return "awaiting-file"
	case Streaming:
		return "streaming"
	default:
		return "terminated"
	}
}

// Reason explains why Run returned.
type Reason string

const (
	ReasonCancelled Reason = "cancelled"
	ReasonNotFound  Reason = "not-found"
	ReasonFailures  Reason = "read-failures"
)

// Err maps a terminal reason to a file_unavailable error. Cancellation is
// not an error.
func (r Reason) Err(path string) error {
	switch r {
	case ReasonNotFound:
		return apperr.New(apperr.KindFileUnavailable, "tailer", baseName(path)+" never appeared")
	case ReasonFailures:
		return apperr.New(apperr.KindFileUnavailable, "tailer", baseName(path)+" became unreadable")
	default:
		return nil
	}
}

// Options tune timing. Zero values fall back to the defaults.
type Options struct {
	PollInterval         time.Duration
	MaxWaitAttempts      int
	ReadInterval         time.Duration
	MaxConsecutiveErrors int

	// OnOffset observes every cursor update.
	OnOffset func(offset int64)

	// Chain overrides the matcher chain, mostly for tests.
	Chain *matcher.Chain
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.MaxWaitAttempts <= 0 {
		o.MaxWaitAttempts = DefaultMaxWaitAttempts
	}
	if o.ReadInterval <= 0 {
		o.ReadInterval = DefaultReadInterval
	}
	if o.MaxConsecutiveErrors <= 0 {
		o.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if o.Chain == nil {
		o.Chain = matcher.Default()
	}
	return o
}

// cursor is the per-stream read position. It lives only inside Run.
type cursor struct {
	offset      int64
	startupSeen bool
	failures    int
}

// Tailer streams one instance's log file.
type Tailer struct {
	instance string
	path     string
	emit     events.Emitter
	opts     Options
	state    atomic.Int32
}

// New prepares a tailer for path. Nothing happens until Run.
func New(instance, path string, emit events.Emitter, opts Options) *Tailer {
	return &Tailer{
		instance: instance,
		path:     path,
		emit:     emit,
		opts:     opts.withDefaults(),
	}
}

// State reports the current lifecycle position. Safe to call while Run is
// in progress.
func (t *Tailer) State() State { return State(t.state.Load()) }

// Run blocks until ctx is cancelled, the file never appears, or reads keep
// failing. It always leaves the tailer Terminated.
func (t *Tailer) Run(ctx context.Context) Reason {
	defer t.state.Store(int32(Terminated))

	size, ok := t.awaitFile(ctx)
	if !ok {
		if ctx.Err() != nil {
			return ReasonCancelled
		}
		t.notice(fmt.Sprintf("[Manager] Warning: %s not found after %d attempts. Log streaming disabled.", baseName(t.path), t.opts.MaxWaitAttempts))
		slog.Warn("Log file not found", "instance", t.instance, "path", t.path)
		return ReasonNotFound
	}

	t.state.Store(int32(Streaming))
	cur := &cursor{offset: size}
	t.setOffset(cur, size)
	t.notice(fmt.Sprintf("[Manager] %s found. Starting log stream from offset: %d bytes...", baseName(t.path), size))
	slog.Info("Log stream started", "instance", t.instance, "path", t.path, "offset", size)

	for {
		if ctx.Err() != nil {
			return ReasonCancelled
		}
		if err := t.readOnce(cur); err != nil {
			cur.failures++
			slog.Debug("Log read failed", "instance", t.instance, "failures", cur.failures, "error", err)
			if cur.failures >= t.opts.MaxConsecutiveErrors {
				t.notice(fmt.Sprintf("[Manager] Warning: log stream stopped after %d consecutive read failures.", cur.failures))
				slog.Warn("Log stream stopped", "instance", t.instance, "failures", cur.failures, "error", err)
				return ReasonFailures
			}
		}
		select {
		case <-ctx.Done():
			return ReasonCancelled
		case <-time.After(t.opts.ReadInterval):
		}
	}
}

// awaitFile polls for the log file and returns its size once present.
func (t *Tailer) awaitFile(ctx context.Context) (int64, bool) {
	for attempt := 0; ; attempt++ {
		if fi, err := os.Stat(t.path); err == nil {
			return fi.Size(), true
		}
		if attempt >= t.opts.MaxWaitAttempts {
			return 0, false
		}
		select {
		case <-ctx.Done():
			return 0, false
		case <-time.After(t.opts.PollInterval):
		}
	}
}

// readOnce reopens the file and drains everything past the cursor.
func (t *Tailer) readOnce(cur *cursor) error {
	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	cur.failures = 0

	if fi, err := f.Stat(); err == nil && fi.Size() < cur.offset {
		metrics.IncRotation(t.instance)
		slog.Info("Log rotation detected", "instance", t.instance, "size", fi.Size(), "offset", cur.offset)
		cur.startupSeen = false
		t.setOffset(cur, 0)
	}
	if _, err := f.Seek(cur.offset, io.SeekStart); err != nil {
		cur.startupSeen = false
		t.setOffset(cur, 0)
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
	}

	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			t.setOffset(cur, cur.offset+int64(len(line)))
			t.handleLine(cur, strings.TrimRight(line, " \t\r\n"))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				t.setOffset(cur, cur.offset)
				return nil
			}
			return err
		}
	}
}

func (t *Tailer) handleLine(cur *cursor, line string) {
	t.emit.Emit(events.LogLine(t.instance, line))

	res, ok := t.opts.Chain.Evaluate(line, cur.startupSeen)
	if !ok {
		return
	}
	switch res.Kind {
	case matcher.KindMilestone:
		cur.startupSeen = true
		t.emit.Emit(events.Milestone(t.instance))
		if res.HasMemory {
			t.memory(res.MemoryMB)
		}
	case matcher.KindMemory:
		t.memory(res.MemoryMB)
	case matcher.KindPlayer:
		joined := res.Action == matcher.Joined
		if joined {
			metrics.PlayerJoined(t.instance)
		} else {
			metrics.PlayerLeft(t.instance)
		}
		t.emit.Emit(events.PlayerActivity(t.instance, joined, res.PlayerName, res.PlayerID))
	}
}

func (t *Tailer) memory(mb float64) {
	metrics.SetMemoryMB(t.instance, mb)
	t.emit.Emit(events.MemorySample(t.instance, mb))
}

func (t *Tailer) notice(line string) {
	t.emit.Emit(events.ManagerLine(t.instance, line))
}

func (t *Tailer) setOffset(cur *cursor, off int64) {
	cur.offset = off
	if t.opts.OnOffset != nil {
		t.opts.OnOffset(off)
	}
}

func baseName(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}
