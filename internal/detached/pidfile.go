package detached

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// pidPath returns the pid-file location for agentID under pidDir.
func pidPath(pidDir, agentID string) string {
	return filepath.Join(pidDir, agentID+".pid")
}

// WritePID records pid as the background monitor process for agentID.
func WritePID(pidDir, agentID string, pid int) error {
	if err := os.MkdirAll(pidDir, 0o755); err != nil {
		return fmt.Errorf("creating pid directory: %w", err)
	}
	path := pidPath(pidDir, agentID)
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return fmt.Errorf("writing pid file %s: %w", path, err)
	}
	return nil
}

// ReadPID returns the recorded pid for agentID, or an error if no pid file
// exists or it's malformed.
func ReadPID(pidDir, agentID string) (int, error) {
	path := pidPath(pidDir, agentID)
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading pid file %s: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing pid file %s: %w", path, err)
	}
	return pid, nil
}

// RemovePID deletes agentID's pid file, if present.
func RemovePID(pidDir, agentID string) error {
	path := pidPath(pidDir, agentID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing pid file %s: %w", path, err)
	}
	return nil
}

// IsRunning reports whether pid refers to a live process, using signal 0
// (no-op delivery, just existence/permission check).
func IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil
}
