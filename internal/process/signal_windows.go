//go:build windows

package process

import (
	"errors"
	"fmt"
	"os/exec"
	"strconv"
)

// Kill terminates pid and its child tree with taskkill.
func Kill(pid int) error {
	if pid <= 0 {
		return errors.New("process: invalid pid")
	}
	// #nosec G204
	out, err := exec.Command("taskkill", "/PID", strconv.Itoa(pid), "/F", "/T").CombinedOutput()
	if err != nil {
		return fmt.Errorf("taskkill %d: %w: %s", pid, err, out)
	}
	return nil
}
