// Package detached spawns and supervises the background monitor process
// (cmd/cam-monitor) that keeps running an agent's supervision loop after
// the launching CLI process exits, and manages its pid file.
package detached

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/orlunix/cam/internal/logger"
)

// Launcher spawns detached cam-monitor subprocesses, one per backgrounded
// agent.
type Launcher struct {
	binaryPath string
	dataDir    string
	pidDir     string
}

// New builds a Launcher. binaryPath is the cam-monitor executable
// (auto-detected via FindMonitorBinary if empty); dataDir is passed through
// to cam-monitor so it opens the same store and pid directory the parent
// CLI used.
func New(binaryPath, dataDir string) *Launcher {
	if binaryPath == "" {
		binaryPath = FindMonitorBinary()
	}
	return &Launcher{
		binaryPath: binaryPath,
		dataDir:    dataDir,
		pidDir:     filepath.Join(dataDir, "pids"),
	}
}

// FindMonitorBinary looks for cam-monitor next to the running executable,
// then falls back to PATH lookup at spawn time.
func FindMonitorBinary() string {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "cam-monitor")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	if path, err := exec.LookPath("cam-monitor"); err == nil {
		return path
	}
	return "cam-monitor"
}

// Launch starts a detached cam-monitor process for agentID and records its
// pid. The new process outlives this one: it gets its own session
// (buildSysProcAttr) and its stdio is fully detached.
func (l *Launcher) Launch(agentID string) error {
	cmd := exec.Command(l.binaryPath, "--agent-id", agentID, "--data-dir", l.dataDir)
	cmd.SysProcAttr = buildSysProcAttr()
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting cam-monitor for agent %s: %w", agentID, err)
	}

	pid := cmd.Process.Pid
	if err := WritePID(l.pidDir, agentID, pid); err != nil {
		logger.Default().Warn("failed to write pid file, monitor is running but untracked",
			zap.String("agent_id", agentID), zap.Int("pid", pid), zap.Error(err))
	}

	// Release rather than Wait: the parent doesn't want to reap this child
	// or block on it, only to have spawned it.
	if err := cmd.Process.Release(); err != nil {
		logger.Default().Warn("failed to release cam-monitor process handle", zap.Error(err))
	}

	logger.Default().Info("spawned background monitor",
		zap.String("agent_id", agentID), zap.Int("pid", pid))
	return nil
}

// Stop sends SIGTERM to agentID's background monitor, if one is recorded
// and still running, then clears its pid file.
func (l *Launcher) Stop(agentID string) error {
	pid, err := ReadPID(l.pidDir, agentID)
	if err != nil {
		return nil
	}
	if IsRunning(pid) {
		if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
			logger.Default().Warn("failed to signal background monitor",
				zap.String("agent_id", agentID), zap.Int("pid", pid), zap.Error(err))
		} else {
			logger.Default().Info("stopped background monitor",
				zap.String("agent_id", agentID), zap.Int("pid", pid))
		}
	}
	return RemovePID(l.pidDir, agentID)
}
