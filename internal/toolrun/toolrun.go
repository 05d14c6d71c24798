// Package toolrun runs an external tool with line-by-line output forwarding
// and a fixed-delay retry policy.
package toolrun

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/arkwarden/internal/apperr"
	"github.com/loykin/arkwarden/internal/metrics"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 2 * time.Second
	// OutputDrainDelay bounds how long output is still read after the tool exits.
	OutputDrainDelay = time.Second
)

// NonZeroExit is the failure detail recorded when the tool exits unsuccessfully.
const NonZeroExit = "Process finished with non-zero exit code."

// Spec describes one tool invocation.
type Spec struct {
	Name        string // labels notices and metrics, e.g. "Server file update"
	Executable  string
	Args        []string
	Dir         string
	MaxAttempts int
	RetryDelay  time.Duration
	ScratchFile string // removed once the run is over, whatever the outcome
}

// Observer receives tool output and retry notices. Line is called from
// several goroutines.
type Observer interface {
	Line(line string)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(line string)

func (f ObserverFunc) Line(line string) { f(line) }

// Outcome summarizes a run.
type Outcome struct {
	Success   bool   `json:"success"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
}

// Err converts a failed Outcome into a tool error.
func (o Outcome) Err() error {
	if o.Success {
		return nil
	}
	return apperr.Wrap(apperr.KindTool, "toolrun",
		fmt.Sprintf("finished with an error after %d attempts", o.Attempts), errors.New(o.LastError))
}

// Runner executes Specs. It holds no state between runs.
type Runner struct{}

func NewRunner() *Runner { return &Runner{} }

// Run executes spec until it succeeds, attempts are exhausted, or ctx is done.
// Spawn failures and non-zero exits are retried the same way.
func (r *Runner) Run(ctx context.Context, spec Spec, obs Observer) Outcome {
	if spec.MaxAttempts <= 0 {
		spec.MaxAttempts = DefaultMaxAttempts
	}
	if spec.RetryDelay <= 0 {
		spec.RetryDelay = DefaultRetryDelay
	}
	if spec.ScratchFile != "" {
		defer func() {
			if err := os.Remove(spec.ScratchFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				slog.Warn("Failed to remove scratch file", "path", spec.ScratchFile, "error", err)
			}
		}()
	}

	var out Outcome
	started := time.Now()
	op := func() error {
		out.Attempts++
		err := r.attempt(ctx, spec, obs)
		if err != nil {
			out.LastError = err.Error()
			metrics.IncToolAttempt(spec.Name, "failure")
			slog.Warn("Tool attempt failed", "tool", spec.Name, "attempt", out.Attempts, "max", spec.MaxAttempts, "error", err)
			return err
		}
		metrics.IncToolAttempt(spec.Name, "success")
		return nil
	}
	notify := func(_ error, wait time.Duration) {
		obs.Line(fmt.Sprintf("%s attempt %d/%d failed. Retrying in %s...", label(spec), out.Attempts, spec.MaxAttempts, wait))
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(spec.RetryDelay), uint64(spec.MaxAttempts-1)),
		ctx,
	)
	err := backoff.RetryNotify(op, b, notify)
	metrics.ObserveToolDuration(spec.Name, time.Since(started).Seconds())
	if err == nil {
		out.Success = true
		out.LastError = ""
		return out
	}
	if ctx.Err() != nil && out.LastError == "" {
		out.LastError = ctx.Err().Error()
	}
	return out
}

func (r *Runner) attempt(ctx context.Context, spec Spec, obs Observer) error {
	// #nosec G204
	cmd := exec.CommandContext(ctx, spec.Executable, spec.Args...)
	cmd.Dir = spec.Dir
	// A background child can inherit stdout and outlive the tool. Wait stops
	// copying once this delay has passed after the tool itself exited.
	cmd.WaitDelay = OutputDrainDelay
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	cmd.Stdout = outW
	cmd.Stderr = errW

	var g errgroup.Group
	g.Go(func() error { return forward(outR, obs) })
	g.Go(func() error { return forward(errR, obs) })
	closeWriters := func() {
		_ = outW.Close()
		_ = errW.Close()
	}

	if err := cmd.Start(); err != nil {
		closeWriters()
		_ = g.Wait()
		return fmt.Errorf("failed to start %s: %w", spec.Executable, err)
	}
	werr := cmd.Wait()
	closeWriters()
	if ferr := g.Wait(); ferr != nil {
		slog.Debug("Tool output forwarding ended early", "tool", spec.Name, "error", ferr)
	}

	if errors.Is(werr, exec.ErrWaitDelay) {
		slog.Debug("Tool left output open after exit", "tool", spec.Name)
		werr = nil
	}
	if werr != nil {
		var exitErr *exec.ExitError
		if errors.As(werr, &exitErr) {
			return errors.New(NonZeroExit)
		}
		return werr
	}
	return nil
}

func forward(r io.Reader, obs Observer) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		obs.Line(sc.Text())
	}
	return sc.Err()
}

func label(spec Spec) string {
	if spec.Name != "" {
		return spec.Name
	}
	return "Tool"
}
