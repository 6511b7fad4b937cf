package probe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orlunix/cam/internal/transport"
)

func TestProbeSessionDeadWhenSessionMissing(t *testing.T) {
	f := transport.NewFake()
	got := ProbeWithWait(context.Background(), f, "missing", time.Millisecond)
	assert.Equal(t, ResultSessionDead, got)
}

func TestProbeCompletedWhenProbeCharEchoes(t *testing.T) {
	f := transport.NewFake()
	ctx := context.Background()
	require.NoError(t, f.CreateSession(ctx, "sess1", []string{"bash"}, "/tmp"))
	f.SetOutput("sess1", "user@host:~$ ")

	result := ProbeWithWait(ctx, f, "sess1", time.Millisecond)
	assert.Equal(t, ResultCompleted, result)
}

func TestProbeBusyWhenNothingChanges(t *testing.T) {
	f := &noopSendTransport{Fake: transport.NewFake()}
	ctx := context.Background()
	require.NoError(t, f.CreateSession(ctx, "sess1", []string{"bash"}, "/tmp"))
	f.SetOutput("sess1", "thinking...\n")

	got := ProbeWithWait(ctx, f, "sess1", time.Millisecond)
	assert.Equal(t, ResultBusy, got)
}

func TestProbeConfirmedWhenOutputChangesWithoutEcho(t *testing.T) {
	f := &mutatingTransport{Fake: transport.NewFake()}
	ctx := context.Background()
	require.NoError(t, f.CreateSession(ctx, "sess1", []string{"bash"}, "/tmp"))
	f.SetOutput("sess1", "Allow this action? (y/n)")

	got := ProbeWithWait(ctx, f, "sess1", time.Millisecond)
	assert.Equal(t, ResultConfirmed, got)
}

// noopSendTransport drops SendInput entirely, simulating a raw-mode tool
// that swallows input without echoing it or otherwise reacting.
type noopSendTransport struct {
	*transport.Fake
}

func (n *noopSendTransport) SendInput(context.Context, string, string, bool) error {
	return nil
}

// mutatingTransport changes session output on SendInput without including
// the probe character, simulating a tool that consumed the keystroke as a
// confirmation rather than echoing it.
type mutatingTransport struct {
	*transport.Fake
}

func (m *mutatingTransport) SendInput(ctx context.Context, sessionID, _ string, _ bool) error {
	m.SetOutput(sessionID, "confirmed, proceeding...\n")
	return nil
}
