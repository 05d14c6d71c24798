//go:build !windows

package process

import (
	"errors"
	"syscall"
)

// Kill sends SIGKILL to the process group of pid, falling back to the pid
// alone when no group exists.
func Kill(pid int) error {
	if pid <= 0 {
		return errors.New("process: invalid pid")
	}
	if err := syscall.Kill(-pid, syscall.SIGKILL); err == nil {
		return nil
	}
	return syscall.Kill(pid, syscall.SIGKILL)
}
