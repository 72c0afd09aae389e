// Package vpn drives the external OpenVPN tunnel process and owns the
// reconnect-and-verify rotation loop.
package vpn

import (
	"errors"
	"os/exec"
)

// ProcessController abstracts OS-level control of tunnel processes so
// the rotation logic can be tested against a fake implementation
// without spawning real processes.
type ProcessController interface {
	// StopAll broadcasts a stop signal to every process with the given
	// name. It is not an error if no process matched.
	StopAll(name string) error
	// AnyRunning reports whether at least one process with the given
	// name is still alive.
	AnyRunning(name string) (bool, error)
}

// ExecController controls processes through the killall and pgrep
// system utilities.
type ExecController struct{}

// StopAll runs `killall <name>`. killall exits non-zero when no process
// matched, which counts as success here.
func (ExecController) StopAll(name string) error {
	err := exec.Command("killall", name).Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil
		}
		return err
	}
	return nil
}

// AnyRunning runs `pgrep <name>`. Exit status 0 means at least one
// match, 1 means none; anything else is a pgrep failure.
func (ExecController) AnyRunning(name string) (bool, error) {
	err := exec.Command("pgrep", name).Run()
	if err == nil {
		return true, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, err
}
