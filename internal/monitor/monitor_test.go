package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orlunix/cam/internal/adapter"
	"github.com/orlunix/cam/internal/agentlog"
	"github.com/orlunix/cam/internal/camconfig"
	"github.com/orlunix/cam/internal/eventbus"
	"github.com/orlunix/cam/internal/model"
	"github.com/orlunix/cam/internal/transport"
)

// stubAdapter is a minimal Adapter implementation driven entirely by test
// fixtures, so monitor tests don't depend on any real tool's patterns.
type stubAdapter struct {
	adapter.Base
	completion     model.AgentStatus
	completionOK   bool
	confirm        adapter.ConfirmAction
	confirmOK      bool
	needsPrompt    bool
	readyForInput  bool
	state          model.AgentState
	stateOK        bool
}

func (s stubAdapter) Name() string        { return "stub" }
func (s stubAdapter) DisplayName() string { return "Stub" }
func (s stubAdapter) LaunchArgv(model.TaskDefinition, model.Context) []string {
	return []string{"stub"}
}
func (s stubAdapter) NeedsPromptAfterLaunch() bool      { return s.needsPrompt }
func (s stubAdapter) IsReadyForInput(string) bool       { return s.readyForInput }
func (s stubAdapter) DetectState(string) (model.AgentState, bool) {
	return s.state, s.stateOK
}
func (s stubAdapter) ShouldAutoConfirm(string) (adapter.ConfirmAction, bool) {
	return s.confirm, s.confirmOK
}
func (s stubAdapter) DetectCompletion(string) (model.AgentStatus, bool) {
	return s.completion, s.completionOK
}

type memStore struct {
	statuses map[string]model.AgentStatus
	events   []model.AgentEvent
}

func newMemStore() *memStore {
	return &memStore{statuses: make(map[string]model.AgentStatus)}
}

func (s *memStore) UpdateStatus(_ context.Context, agentID string, status model.AgentStatus, _ model.AgentState, _ string) error {
	s.statuses[agentID] = status
	return nil
}

func (s *memStore) AddEvent(_ context.Context, event model.AgentEvent) error {
	s.events = append(s.events, event)
	return nil
}

func testConfig() *camconfig.Config {
	return &camconfig.Config{
		General: camconfig.GeneralConfig{AutoConfirm: true},
		Monitor: camconfig.MonitorConfig{
			PollInterval:        1,
			IdleTimeout:         0,
			HealthCheckInterval: 0,
		},
	}
}

func newTestMonitor(t *testing.T, a adapter.Adapter, ft *transport.Fake) (*Monitor, *model.Agent) {
	t.Helper()
	ctx := model.NewContext("demo", "/tmp/demo", model.MachineConfig{Type: model.TransportLocal})
	task := model.TaskDefinition{Tool: "stub", Prompt: "do the thing", Retry: model.DefaultRetryPolicy()}
	agent := model.NewAgent(task, ctx)
	agent.TmuxSession = "sess1"
	started := time.Now().UTC()
	agent.StartedAt = &started

	require.NoError(t, ft.CreateSession(context.Background(), "sess1", []string{"stub"}, "/tmp/demo"))

	bus := eventbus.New()
	log, err := agentlog.Open(t.TempDir(), agent.ID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	return New(&agent, ft, a, newMemStore(), bus, log, testConfig()), &agent
}

func TestRunFailsWithoutSessionID(t *testing.T) {
	ft := transport.NewFake()
	a := stubAdapter{}
	m, agent := newTestMonitor(t, a, ft)
	agent.TmuxSession = ""
	m.agent = agent

	status := m.Run(context.Background())
	assert.Equal(t, model.StatusFailed, status)
}

func TestRunDetectsCompletionAfterIdleSettle(t *testing.T) {
	ft := transport.NewFake()
	a := stubAdapter{completion: model.StatusCompleted, completionOK: true}
	m, _ := newTestMonitor(t, a, ft)
	ft.SetOutput("sess1", "all done, task finished")

	m.previousOutput = "all done, task finished"
	m.lastChangeTime = time.Now().UTC().Add(-10 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	status := m.Run(ctx)
	assert.Equal(t, model.StatusCompleted, status)
}

func TestRunKillsSessionOnTotalTimeout(t *testing.T) {
	ft := transport.NewFake()
	a := stubAdapter{}
	m, agent := newTestMonitor(t, a, ft)
	agent.Task.Timeout = 1 * time.Millisecond
	started := time.Now().UTC().Add(-time.Hour)
	agent.StartedAt = &started
	m.agent = agent
	ft.SetOutput("sess1", "still working")

	status := m.Run(context.Background())
	assert.Equal(t, model.StatusTimeout, status)

	alive, err := ft.SessionExists(context.Background(), "sess1")
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestRunFinalizesWhenSessionDisappears(t *testing.T) {
	ft := transport.NewFake()
	a := stubAdapter{}
	m, _ := newTestMonitor(t, a, ft)
	ft.SetOutput("sess1", "")
	ft.Exit("sess1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	status := m.Run(ctx)
	assert.Equal(t, model.StatusCompleted, status)
}

func TestRunDetectsCompletionViaProbe(t *testing.T) {
	ft := transport.NewFake()
	a := stubAdapter{}
	m, _ := newTestMonitor(t, a, ft)
	m.cfg = &camconfig.Config{
		General: camconfig.GeneralConfig{AutoConfirm: false},
		Monitor: camconfig.MonitorConfig{
			PollInterval:       1,
			ProbeDetection:     true,
			ProbeStableSeconds: 1,
			ProbeCooldown:      1,
		},
	}
	ft.SetOutput("sess1", "$ ")
	m.hasWorked = true

	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()
	status := m.Run(ctx)
	assert.Equal(t, model.StatusCompleted, status)
}

func TestCheckProbeSkipsBeforeAgentHasWorked(t *testing.T) {
	ft := transport.NewFake()
	a := stubAdapter{}
	m, _ := newTestMonitor(t, a, ft)
	m.cfg.Monitor.ProbeDetection = true

	status, reason, done := m.checkProbe(context.Background(), "sess1", time.Now().UTC(), 10*time.Second)
	assert.False(t, done)
	assert.Empty(t, status)
	assert.Empty(t, reason)
}

func TestRunSendsAutoConfirmResponse(t *testing.T) {
	ft := transport.NewFake()
	a := stubAdapter{
		confirm:   adapter.ConfirmAction{Response: "y", SendEnter: true},
		confirmOK: true,
	}
	m, _ := newTestMonitor(t, a, ft)
	ft.SetOutput("sess1", "Allow this action? (y/n)")

	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		m.Run(ctx)
		close(done)
	}()

	time.Sleep(700 * time.Millisecond)
	cancel()
	<-done

	out, err := ft.CaptureOutput(context.Background(), "sess1", 100)
	require.NoError(t, err)
	assert.Equal(t, "Allow this action? (y/n)y\n", out)
}
