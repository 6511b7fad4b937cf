package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeCreateSessionAndCaptureOutput(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	require.NoError(t, f.CreateSession(ctx, "sess1", []string{"echo", "hi"}, "/tmp"))

	exists, err := f.SessionExists(ctx, "sess1")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, f.SendInput(ctx, "sess1", "hello", true))
	out, err := f.CaptureOutput(ctx, "sess1", 50)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
}

func TestFakeKillSessionMarksDead(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	require.NoError(t, f.CreateSession(ctx, "sess1", []string{"cmd"}, "/tmp"))
	require.NoError(t, f.KillSession(ctx, "sess1"))

	exists, err := f.SessionExists(ctx, "sess1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFakeSendInputUnknownSessionErrors(t *testing.T) {
	f := NewFake()
	err := f.SendInput(context.Background(), "missing", "text", true)
	assert.Error(t, err)
}
