package manager

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orlunix/cam/internal/adapter"
	"github.com/orlunix/cam/internal/camconfig"
	"github.com/orlunix/cam/internal/eventbus"
	"github.com/orlunix/cam/internal/model"
	"github.com/orlunix/cam/internal/store"
	"github.com/orlunix/cam/internal/transport"
)

// fakeFactory always hands back the same in-memory transport, regardless
// of machine config, so tests don't shell out to tmux/ssh/docker.
type fakeFactory struct {
	t *transport.Fake
}

func (f *fakeFactory) Create(model.MachineConfig) (transport.Transport, error) {
	return f.t, nil
}

func testConfig() *camconfig.Config {
	return &camconfig.Config{
		General: camconfig.GeneralConfig{AutoConfirm: true},
		Monitor: camconfig.MonitorConfig{PollInterval: 1, IdleTimeout: 0, HealthCheckInterval: 0},
		Retry:   camconfig.RetryConfig{MaxRetries: 0, BackoffBase: 2.0, BackoffMax: 300.0},
	}
}

func newTestManager(t *testing.T) (*Manager, *transport.Fake, model.Context) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "cam.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ft := transport.NewFake()
	registry := adapter.NewRegistry()
	bus := eventbus.New()
	mgr := New(testConfig(), s, s, bus, registry, &fakeFactory{t: ft}, nil, t.TempDir())

	tctx := model.NewContext("demo", "/tmp/demo", model.MachineConfig{Type: model.TransportLocal})
	require.NoError(t, s.SaveContext(context.Background(), tctx))

	return mgr, ft, tctx
}

func TestRunAgentForegroundCompletesOnSessionExit(t *testing.T) {
	mgr, ft, tctx := newTestManager(t)
	task := model.TaskDefinition{Tool: "aider", Prompt: "fix the bug", Retry: model.DefaultRetryPolicy()}

	type result struct {
		agent model.Agent
		err   error
	}
	done := make(chan result, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go func() {
		agent, err := mgr.RunAgent(ctx, task, tctx, true)
		done <- result{agent, err}
	}()

	// Give RunAgent time to create the session, then simulate the tool
	// process exiting by killing it out from under the monitor.
	require.Eventually(t, func() bool {
		agents, err := mgr.ListAgents(context.Background(), store.AgentFilter{ContextID: tctx.ID, Limit: 1})
		return err == nil && len(agents) == 1 && agents[0].TmuxSession != ""
	}, 2*time.Second, 10*time.Millisecond)

	agents, err := mgr.ListAgents(context.Background(), store.AgentFilter{ContextID: tctx.ID, Limit: 1})
	require.NoError(t, err)
	require.Len(t, agents, 1)
	require.NoError(t, ft.KillSession(context.Background(), agents[0].TmuxSession))

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, model.StatusCompleted, res.agent.Status)
}

func TestStopAgentMarksKilled(t *testing.T) {
	mgr, ft, tctx := newTestManager(t)
	task := model.TaskDefinition{Tool: "aider", Prompt: "fix the bug", Retry: model.DefaultRetryPolicy()}

	agent, err := mgr.RunAgent(context.Background(), task, tctx, false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, agent.Status)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, mgr.StopAgent(context.Background(), agent.ID, true))

	got, err := mgr.GetAgent(context.Background(), agent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusKilled, got.Status)

	alive, err := ft.SessionExists(context.Background(), agent.TmuxSession)
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestStopAgentOnTerminalAgentIsNoop(t *testing.T) {
	mgr, _, tctx := newTestManager(t)
	task := model.TaskDefinition{Tool: "aider", Prompt: "fix", Retry: model.DefaultRetryPolicy()}
	agent, err := mgr.RunAgent(context.Background(), task, tctx, false)
	require.NoError(t, err)

	require.NoError(t, mgr.StopAgent(context.Background(), agent.ID, true))
	require.NoError(t, mgr.StopAgent(context.Background(), agent.ID, true))
}

func TestReconcileMarksDisappearedSessionsFailed(t *testing.T) {
	mgr, ft, tctx := newTestManager(t)
	task := model.TaskDefinition{Tool: "aider", Prompt: "fix", Retry: model.DefaultRetryPolicy()}

	agent, err := mgr.RunAgent(context.Background(), task, tctx, false)
	require.NoError(t, err)

	ft.Exit(agent.TmuxSession)

	orphaned, err := mgr.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, orphaned, 1)
	assert.Equal(t, agent.ID, orphaned[0].ID)

	got, err := mgr.GetAgent(context.Background(), agent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
}

func TestRunAgentUnknownToolErrors(t *testing.T) {
	mgr, _, tctx := newTestManager(t)
	task := model.TaskDefinition{Tool: "some-custom-cli", Prompt: "fix", Retry: model.DefaultRetryPolicy()}

	_, err := mgr.RunAgent(context.Background(), task, tctx, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrUnknownTool)
}
