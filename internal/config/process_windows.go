//go:build windows

package config

import "os"

// isProcessAlive checks whether a process with the given PID exists.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// FindProcess never fails on Windows for a syntactically valid PID and
	// Signal(0) is unsupported, so this stays a best-effort check.
	_, err := os.FindProcess(pid)
	return err == nil
}
