// Package transport abstracts the mechanism CAM uses to reach an agent's
// tmux session: on the local machine, over SSH, inside a Docker container,
// or via a remote agent server over WebSocket. Every session operation is
// expressed in terms of tmux, so behavior is consistent and observable
// across backends.
package transport

import (
	"context"
	"time"
)

// Transport is the execution backend contract. Implementations must never
// build a shell string from caller-supplied text without quoting it first;
// argv-style commands are passed as []string end to end.
type Transport interface {
	// CreateSession starts a new tmux session running command in workdir.
	// The session is configured to exit when command exits, so
	// SessionExists doubles as a completion signal.
	CreateSession(ctx context.Context, sessionID string, command []string, workdir string) error

	// SendInput sends text to the session verbatim (tmux literal mode), and
	// presses Enter afterward if sendEnter is true.
	SendInput(ctx context.Context, sessionID, text string, sendEnter bool) error

	// SendKey sends a named tmux key (e.g. "Enter", "Escape", "BSpace").
	SendKey(ctx context.Context, sessionID, key string) error

	// CaptureOutput returns the last lines of pane content, ANSI stripped.
	CaptureOutput(ctx context.Context, sessionID string, lines int) (string, error)

	// ReadOutputLog reads the session's piped output log starting at
	// offset, returning the bytes read and the next offset to resume from.
	// Transports that don't maintain a log return ("", offset, nil).
	ReadOutputLog(ctx context.Context, sessionID string, offset, maxBytes int64) (string, int64, error)

	// SessionExists reports whether the session is still alive.
	SessionExists(ctx context.Context, sessionID string) (bool, error)

	// KillSession terminates the session and releases any resources
	// (sockets, containers) it holds.
	KillSession(ctx context.Context, sessionID string) error

	// TestConnection verifies the backend is reachable and usable.
	TestConnection(ctx context.Context) (bool, string)

	// GetLatency measures round-trip latency to the backend.
	GetLatency(ctx context.Context) (time.Duration, error)

	// GetAttachCommand returns the shell command a human can run to attach
	// to the session interactively.
	GetAttachCommand(sessionID string) string
}
