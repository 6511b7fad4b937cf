package transport

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/orlunix/cam/internal/logger"
	"github.com/orlunix/cam/internal/security"
)

// Local runs tmux sessions on the local machine, one Unix socket per
// session so sessions never collide with a user's own tmux server.
type Local struct {
	socketDir string
	envSetup  string
	log       *logger.Logger
}

var _ Transport = (*Local)(nil)

// NewLocal builds a Local transport rooted at socketDir, creating it if
// necessary. envSetup, if non-empty, is sourced before the launched command
// (e.g. to extend PATH for tools installed outside the default shell rc).
func NewLocal(socketDir, envSetup string) (*Local, error) {
	if err := os.MkdirAll(socketDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating socket directory: %w", err)
	}
	return &Local{socketDir: socketDir, envSetup: envSetup, log: logger.Default().With(zap.String("transport", "local"))}, nil
}

func (l *Local) socketPath(sessionID string) string {
	return filepath.Join(l.socketDir, sessionID+".sock")
}

func (l *Local) runTmux(ctx context.Context, args ...string) (string, error) {
	out, err := runCommandWith(ctx, "tmux", args...)
	if err != nil {
		l.log.Debug("tmux command failed", zap.Strings("args", args), zap.Error(err))
	}
	return out, err
}

func (l *Local) tmuxArgs(sessionID string, rest ...string) []string {
	return append([]string{"-S", l.socketPath(sessionID)}, rest...)
}

// CreateSession starts command as the tmux session's initial program, so
// the session exits on its own when the command finishes.
func (l *Local) CreateSession(ctx context.Context, sessionID string, command []string, workdir string) error {
	commandStr := security.QuoteArgv(command)
	if l.envSetup != "" {
		commandStr = "bash -c " + security.ShellQuote(l.envSetup+" && exec "+commandStr)
	}

	args := l.tmuxArgs(sessionID, "new-session", "-d", "-s", sessionID, "-c", workdir, commandStr)
	if _, err := l.runTmux(ctx, args...); err != nil {
		return fmt.Errorf("creating local session %s: %w", sessionID, err)
	}
	l.log.Info("created local session", zap.String("session_id", sessionID), zap.String("workdir", workdir))
	return nil
}

func (l *Local) target(sessionID string) string { return sessionID + ":0.0" }

// SendInput sends text literally (tmux -l), then Enter if requested.
func (l *Local) SendInput(ctx context.Context, sessionID, text string, sendEnter bool) error {
	args := l.tmuxArgs(sessionID, "send-keys", "-t", l.target(sessionID), "-l", "--", text)
	if _, err := l.runTmux(ctx, args...); err != nil {
		return fmt.Errorf("sending input to %s: %w", sessionID, err)
	}
	if sendEnter {
		return l.SendKey(ctx, sessionID, "Enter")
	}
	return nil
}

// SendKey sends a named tmux key.
func (l *Local) SendKey(ctx context.Context, sessionID, key string) error {
	args := l.tmuxArgs(sessionID, "send-keys", "-t", l.target(sessionID), key)
	if _, err := l.runTmux(ctx, args...); err != nil {
		return fmt.Errorf("sending key %q to %s: %w", key, sessionID, err)
	}
	return nil
}

// CaptureOutput reads the last `lines` lines of pane content, falling back
// to the alternate screen buffer if the primary capture is near-empty (the
// common case for TUIs that draw with an alt-screen, like Claude Code).
func (l *Local) CaptureOutput(ctx context.Context, sessionID string, lines int) (string, error) {
	sArg := fmt.Sprintf("-%d", lines)
	args := l.tmuxArgs(sessionID, "capture-pane", "-p", "-J", "-t", l.target(sessionID), "-S", sArg)
	out, err := l.runTmux(ctx, args...)
	if err != nil {
		l.log.Debug("capture-pane failed, session likely exited", zap.String("session_id", sessionID))
		return "", nil
	}

	if len(strings.TrimSpace(out)) < 20 {
		altArgs := l.tmuxArgs(sessionID, "capture-pane", "-p", "-J", "-a", "-t", l.target(sessionID), "-S", sArg)
		if alt, altErr := l.runTmux(ctx, altArgs...); altErr == nil && len(strings.TrimSpace(alt)) > len(strings.TrimSpace(out)) {
			out = alt
		}
	}
	return StripANSI(out), nil
}

// ReadOutputLog is unsupported on the Local transport; tmux's tail-based
// CaptureOutput serves the same purpose without a pipe-pane log file.
func (l *Local) ReadOutputLog(_ context.Context, _ string, offset, _ int64) (string, int64, error) {
	return "", offset, nil
}

// SessionExists reports whether the tmux session is still alive.
func (l *Local) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	args := l.tmuxArgs(sessionID, "has-session", "-t", sessionID)
	_, err := l.runTmux(ctx, args...)
	return err == nil, nil
}

// KillSession kills the tmux session and removes its socket.
func (l *Local) KillSession(ctx context.Context, sessionID string) error {
	args := l.tmuxArgs(sessionID, "kill-session", "-t", sessionID)
	_, err := l.runTmux(ctx, args...)

	if rmErr := os.Remove(l.socketPath(sessionID)); rmErr != nil && !os.IsNotExist(rmErr) {
		l.log.Warn("failed to remove socket", zap.String("session_id", sessionID), zap.Error(rmErr))
	}
	if err != nil {
		return fmt.Errorf("killing local session %s: %w", sessionID, err)
	}
	l.log.Info("killed local session", zap.String("session_id", sessionID))
	return nil
}

// TestConnection verifies the tmux binary is on PATH and runnable.
func (l *Local) TestConnection(ctx context.Context) (bool, string) {
	path, err := exec.LookPath("tmux")
	if err != nil {
		return false, "tmux binary not found in PATH"
	}
	cmd := exec.CommandContext(ctx, "tmux", "-V")
	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Sprintf("failed to execute tmux: %v", err)
	}
	return true, fmt.Sprintf("local transport ready: %s at %s", strings.TrimSpace(string(out)), path)
}

// GetLatency is always zero for the local transport.
func (l *Local) GetLatency(context.Context) (time.Duration, error) { return 0, nil }

// GetAttachCommand returns the command a human runs to attach locally.
func (l *Local) GetAttachCommand(sessionID string) string {
	return fmt.Sprintf("tmux -S %s attach -t %s",
		security.ShellQuote(l.socketPath(sessionID)), security.ShellQuote(sessionID))
}
