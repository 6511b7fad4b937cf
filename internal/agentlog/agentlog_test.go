package agentlog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadEntries(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, "agent-1")
	require.NoError(t, err)

	require.NoError(t, l.Write("monitor_start", map[string]interface{}{"session_id": "cam-1"}, ""))
	require.NoError(t, l.Write("output", nil, "hello world"))
	require.NoError(t, l.Close())

	entries, err := ReadEntries(filepath.Join(dir, "agent-1.jsonl"), 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "monitor_start", entries[0].Type)
	assert.Equal(t, "cam-1", entries[0].Data["session_id"])
	assert.Equal(t, "hello world", entries[1].Output)
}

func TestReadEntriesRespectsTail(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, "agent-2")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Write("tick", nil, ""))
	}
	require.NoError(t, l.Close())

	entries, err := ReadEntries(filepath.Join(dir, "agent-2.jsonl"), 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestReadEntriesMissingFileReturnsEmpty(t *testing.T) {
	entries, err := ReadEntries(filepath.Join(t.TempDir(), "missing.jsonl"), 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
