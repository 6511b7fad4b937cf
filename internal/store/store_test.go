package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orlunix/cam/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cam.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleAgent() model.Agent {
	ctx := model.NewContext("demo", "/tmp/demo", model.MachineConfig{Type: model.TransportLocal})
	task := model.TaskDefinition{Tool: "claude", Prompt: "fix the bug", Retry: model.DefaultRetryPolicy()}
	return model.NewAgent(task, ctx)
}

func TestSaveAndGetAgentRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	agent := sampleAgent()
	agent.TmuxSession = "cam-1"

	require.NoError(t, s.SaveAgent(ctx, agent))

	got, err := s.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, got.ID)
	assert.Equal(t, agent.Task.Prompt, got.Task.Prompt)
	assert.Equal(t, "cam-1", got.TmuxSession)
	assert.Equal(t, model.StatusPending, got.Status)
}

func TestGetAgentByPrefix(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	agent := sampleAgent()
	require.NoError(t, s.SaveAgent(ctx, agent))

	got, err := s.GetAgent(ctx, agent.ID[:8])
	require.NoError(t, err)
	assert.Equal(t, agent.ID, got.ID)
}

func TestGetAgentNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetAgent(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStatusSetsCompletedAtOnTerminal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	agent := sampleAgent()
	require.NoError(t, s.SaveAgent(ctx, agent))

	require.NoError(t, s.UpdateStatus(ctx, agent.ID, model.StatusCompleted, model.StateIdle, "done"))

	got, err := s.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, model.StateIdle, got.State)
	assert.Equal(t, "done", got.ExitReason)
	assert.NotNil(t, got.CompletedAt)
}

func TestUpdateStatusUnknownAgentErrors(t *testing.T) {
	s := openTestStore(t)
	err := s.UpdateStatus(context.Background(), "missing", model.StatusFailed, "", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAgentsFiltersByStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a1 := sampleAgent()
	require.NoError(t, s.SaveAgent(ctx, a1))
	a2 := sampleAgent()
	a2.Status = model.StatusRunning
	require.NoError(t, s.SaveAgent(ctx, a2))

	running, err := s.ListAgents(ctx, AgentFilter{Status: model.StatusRunning})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, a2.ID, running[0].ID)
}

func TestAddAndGetEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	agent := sampleAgent()
	require.NoError(t, s.SaveAgent(ctx, agent))

	ev := agent.AddEvent("state_change", map[string]interface{}{"from": "initializing", "to": "planning"})
	require.NoError(t, s.AddEvent(ctx, ev))

	events, err := s.GetEvents(ctx, agent.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "state_change", events[0].EventType)
}

func TestDeleteAgentsRemovesRowsAndEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	agent := sampleAgent()
	require.NoError(t, s.SaveAgent(ctx, agent))
	require.NoError(t, s.AddEvent(ctx, agent.AddEvent("monitor_start", nil)))

	n, err := s.DeleteAgents(ctx, []string{agent.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetAgent(ctx, agent.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	events, err := s.GetEvents(ctx, agent.ID)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestListAgentIDsByFilterMatchesStatusSetAndBefore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := sampleAgent()
	old.Status = model.StatusKilled
	old.TmuxSession = "cam-old"
	startedAt := time.Now().UTC().Add(-2 * time.Hour)
	old.StartedAt = &startedAt
	require.NoError(t, s.SaveAgent(ctx, old))

	recent := sampleAgent()
	recent.Status = model.StatusTimeout
	recent.TmuxSession = "cam-recent"
	startedRecent := time.Now().UTC()
	recent.StartedAt = &startedRecent
	require.NoError(t, s.SaveAgent(ctx, recent))

	running := sampleAgent()
	running.Status = model.StatusRunning
	require.NoError(t, s.SaveAgent(ctx, running))

	cutoff := time.Now().UTC().Add(-1 * time.Hour)
	rows, err := s.ListAgentIDsByFilter(ctx, AgentIDFilter{
		Statuses: []model.AgentStatus{model.StatusKilled, model.StatusTimeout},
		Before:   &cutoff,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, old.ID, rows[0].AgentID)
	assert.Equal(t, "cam-old", rows[0].TmuxSession)
}

func TestSaveAndGetContextByName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	c := model.NewContext("demo", "/tmp/demo", model.MachineConfig{Type: model.TransportLocal})

	require.NoError(t, s.SaveContext(ctx, c))

	got, err := s.GetContextByName(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, "/tmp/demo", got.Path)
}
