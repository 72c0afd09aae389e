// Package common provides shared constants, types, and utilities
// used across the VPN Rotator application.
package common

import (
	"os"
	"os/exec"
	"path/filepath"
)

// InstallDir returns the directory containing the running binary.
// All application files (config, credentials, logs, history) live
// alongside the binary.
func InstallDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", WrapError(err, "failed to locate executable")
	}

	resolved, err := filepath.EvalSymlinks(exe)
	if err != nil {
		return "", WrapError(err, "failed to resolve executable path")
	}

	return filepath.Dir(resolved), nil
}

// FileExists checks if a file exists at the given path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CommandExists checks whether a command is available on PATH.
func CommandExists(command string) bool {
	_, err := exec.LookPath(command)
	return err == nil
}
