// Package process spawns and tracks a single dedicated server process.
package process

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Spec describes how to launch the server executable. The executable is run
// directly, never through a shell, so the reported pid is the server itself.
type Spec struct {
	Executable string   `json:"executable"`
	Args       []string `json:"args"`
	WorkDir    string   `json:"work_dir"`
	Env        []string `json:"env"` // full environment; empty inherits the daemon's
}

// Process is a started child.
type Process struct {
	cmd       *exec.Cmd
	startedAt time.Time
	null      *os.File

	waitOnce sync.Once
	done     chan struct{}
	code     *int
	err      error
}

// BuildCommand returns the exec.Cmd for s with stdio discarded and the child
// placed in its own process group.
func (s Spec) BuildCommand() *exec.Cmd {
	// #nosec G204
	cmd := exec.Command(s.Executable, s.Args...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	if len(s.Env) > 0 {
		cmd.Env = s.Env
	}
	configureSysProcAttr(cmd)
	return cmd
}

// Start launches the process described by spec.
func Start(spec Spec) (*Process, error) {
	if spec.Executable == "" {
		return nil, errors.New("process: empty executable")
	}
	cmd := spec.BuildCommand()
	null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	cmd.Stdin = null
	cmd.Stdout = null
	cmd.Stderr = null
	if err := cmd.Start(); err != nil {
		_ = null.Close()
		return nil, err
	}
	return &Process{cmd: cmd, startedAt: time.Now(), null: null, done: make(chan struct{})}, nil
}

func (p *Process) PID() int { return p.cmd.Process.Pid }

func (p *Process) StartedAt() time.Time { return p.startedAt }

// Wait blocks until the child exits. The exit code is nil when the OS did not
// report one, e.g. the process was killed by a signal. Safe to call from
// several goroutines.
func (p *Process) Wait() (*int, error) {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		_ = p.null.Close()
		var exitErr *exec.ExitError
		switch {
		case err == nil:
			c := 0
			p.code = &c
		case errors.As(err, &exitErr):
			if c := exitErr.ExitCode(); c >= 0 {
				p.code = &c
			}
		default:
			p.err = err
		}
		close(p.done)
	})
	<-p.done
	return p.code, p.err
}

// Kill forcefully terminates the process and its children.
func (p *Process) Kill() error { return Kill(p.PID()) }
