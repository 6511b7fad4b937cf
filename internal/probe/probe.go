// Package probe implements echo-visibility probing: a way to tell whether
// an interactive CLI tool is busy (raw terminal mode, kernel echo
// disabled) or idle at a prompt (cooked mode, echo enabled), without
// relying on the tool's own output patterns.
package probe

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/orlunix/cam/internal/logger"
	"github.com/orlunix/cam/internal/transport"
)

// Result classifies the outcome of probing a session.
type Result string

const (
	// ResultCompleted means the probe character echoed back, so the
	// session is sitting at a cooked-mode input prompt.
	ResultCompleted Result = "completed"
	// ResultConfirmed means output changed but the probe character never
	// echoed — most likely the tool consumed it as a confirmation
	// keystroke.
	ResultConfirmed Result = "confirmed"
	// ResultBusy means nothing changed: the tool is still in raw mode
	// with echo disabled.
	ResultBusy Result = "busy"
	// ResultSessionDead means the tmux session no longer exists.
	ResultSessionDead Result = "session_dead"
	// ResultError means a transport operation failed unexpectedly.
	ResultError Result = "error"
)

// probeChar is sent without Enter, then inspected to see whether it was
// echoed back by the terminal.
const probeChar = "Z"

// defaultWait is how long to wait after sending the probe before
// recapturing.
const defaultWait = 300 * time.Millisecond

// Probe sends an echo-visibility probe to session and classifies the
// session's busy/idle state, cleaning up the probe character with a
// backspace if it was echoed.
func Probe(ctx context.Context, t transport.Transport, sessionID string) Result {
	return ProbeWithWait(ctx, t, sessionID, defaultWait)
}

// ProbeWithWait is Probe with an explicit settle duration, exposed for
// tests that don't want to sleep the default amount.
func ProbeWithWait(ctx context.Context, t transport.Transport, sessionID string, wait time.Duration) Result {
	log := logger.Default().With(zap.String("session_id", sessionID))

	alive, err := t.SessionExists(ctx, sessionID)
	if err != nil {
		log.Debug("probe: session_exists failed", zap.Error(err))
		return ResultError
	}
	if !alive {
		return ResultSessionDead
	}

	baseline, err := t.CaptureOutput(ctx, sessionID, 100)
	if err != nil {
		log.Debug("probe: baseline capture failed", zap.Error(err))
		return ResultError
	}
	baseline = strings.TrimRight(baseline, "\n")

	if err := t.SendInput(ctx, sessionID, probeChar, false); err != nil {
		log.Debug("probe: send_input failed", zap.Error(err))
		return ResultError
	}

	select {
	case <-time.After(wait):
	case <-ctx.Done():
		return ResultError
	}

	after, err := t.CaptureOutput(ctx, sessionID, 100)
	if err != nil {
		log.Debug("probe: post-capture failed", zap.Error(err))
		return ResultError
	}
	after = strings.TrimRight(after, "\n")

	if probeVisible(after, baseline) {
		if err := t.SendKey(ctx, sessionID, "BSpace"); err != nil {
			log.Debug("probe: BSpace cleanup failed", zap.Error(err))
		}
		log.Debug("probe: completed (probe visible)")
		return ResultCompleted
	}

	if after != baseline {
		log.Debug("probe: confirmed (output changed)")
		return ResultConfirmed
	}

	log.Debug("probe: busy (no echo)")
	return ResultBusy
}

// probeVisible reports whether the probe character appears on the capture's
// last line after sending it, but did not already appear there in the
// baseline (so it isn't mistaken for pre-existing "Z" text).
func probeVisible(after, baseline string) bool {
	return lastLineContains(after, probeChar) && !lastLineContains(baseline, probeChar)
}

func lastLineContains(s, substr string) bool {
	lines := strings.Split(s, "\n")
	if len(lines) == 0 {
		return false
	}
	return strings.Contains(lines[len(lines)-1], substr)
}
