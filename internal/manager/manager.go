// Package manager implements AgentManager, the central orchestrator that
// ties adapters, transports, storage, and the event bus together into a
// single high-level API for launching and supervising coding agents.
package manager

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/orlunix/cam/internal/adapter"
	"github.com/orlunix/cam/internal/agentlog"
	"github.com/orlunix/cam/internal/camconfig"
	"github.com/orlunix/cam/internal/eventbus"
	"github.com/orlunix/cam/internal/logger"
	"github.com/orlunix/cam/internal/model"
	"github.com/orlunix/cam/internal/monitor"
	"github.com/orlunix/cam/internal/store"
	"github.com/orlunix/cam/internal/transport"
)

// waitAndSendPromptPoll is how often _wait_and_send_prompt-equivalent code
// polls output while waiting for a tool's TUI to become ready.
const waitAndSendPromptPoll = 1 * time.Second

// preConfirmSettle is how long to wait after a pre-prompt confirmation
// before resuming the readiness poll.
const preConfirmSettle = 3 * time.Second

// TransportFactory builds a Transport for a machine config; satisfied by
// *transport.Factory.
type TransportFactory interface {
	Create(cfg model.MachineConfig) (transport.Transport, error)
}

// BackgroundLauncher detaches a monitor so it survives the caller's
// process exit, used for `follow=false` runs. A real implementation lives
// in internal/detached; tests can substitute a no-op or in-process stub.
type BackgroundLauncher interface {
	Launch(agentID string) error
	Stop(agentID string) error
}

// Manager orchestrates the full agent lifecycle.
type Manager struct {
	cfg        *camconfig.Config
	contexts   *store.Store
	agents     *store.Store
	bus        *eventbus.Bus
	registry   *adapter.Registry
	transports TransportFactory
	background BackgroundLauncher
	logDir     string

	mu            sync.Mutex
	monitorCancel map[string]context.CancelFunc
}

// New builds a Manager. contexts and agents may be the same *store.Store
// (CAM keeps both tables in one database); they're accepted separately to
// mirror the original's two-store seam and ease future splitting.
func New(cfg *camconfig.Config, contexts, agents *store.Store, bus *eventbus.Bus, registry *adapter.Registry, transports TransportFactory, background BackgroundLauncher, logDir string) *Manager {
	return &Manager{
		cfg:           cfg,
		contexts:      contexts,
		agents:        agents,
		bus:           bus,
		registry:      registry,
		transports:    transports,
		background:    background,
		logDir:        logDir,
		monitorCancel: make(map[string]context.CancelFunc),
	}
}

// sessionName derives a short tmux session identifier from an agent ID.
func sessionName(agentID string) string {
	stripped := strings.ReplaceAll(agentID, "-", "")
	if len(stripped) > 12 {
		stripped = stripped[:12]
	}
	return "cam-" + stripped
}

// RunAgent creates, launches, and (if follow is true) monitors an agent to
// completion. If follow is false, the agent is left RUNNING and handed off
// to a background monitor.
func (m *Manager) RunAgent(ctx context.Context, task model.TaskDefinition, tctx model.Context, follow bool) (model.Agent, error) {
	a, err := m.registry.Get(task.Tool)
	if err != nil {
		return model.Agent{}, fmt.Errorf("manager: resolving adapter: %w", err)
	}

	t, err := m.transports.Create(tctx.Machine)
	if err != nil {
		return model.Agent{}, fmt.Errorf("manager: creating transport: %w", err)
	}

	agent := model.NewAgent(task, tctx)
	agent.TmuxSession = sessionName(agent.ID)
	agent.Status = model.StatusStarting
	now := time.Now().UTC()
	agent.StartedAt = &now

	if err := m.agents.SaveAgent(ctx, agent); err != nil {
		return model.Agent{}, fmt.Errorf("manager: saving agent: %w", err)
	}
	logger.Default().Info("agent created",
		zap.String("agent_id", agent.ID), zap.String("tool", task.Tool), zap.String("context", tctx.Name))

	launchArgv := a.LaunchArgv(task, tctx)
	if err := t.CreateSession(ctx, agent.TmuxSession, launchArgv, tctx.Path); err != nil {
		agent.Status = model.StatusFailed
		completed := time.Now().UTC()
		agent.CompletedAt = &completed
		agent.ExitReason = err.Error()
		_ = m.agents.SaveAgent(ctx, agent)
		return agent, fmt.Errorf("manager: creating session: %w", err)
	}

	if a.NeedsPromptAfterLaunch() {
		m.waitAndSendPrompt(ctx, t, a, agent.TmuxSession, task.Prompt)
	}

	agent.Status = model.StatusRunning
	if err := m.agents.UpdateStatus(ctx, agent.ID, model.StatusRunning, "", ""); err != nil {
		logger.Default().Warn("failed to persist running status", zap.Error(err))
	}

	if c, err := m.contexts.GetContextByName(ctx, tctx.Name); err == nil {
		used := time.Now().UTC()
		c.LastUsedAt = &used
		_ = m.contexts.SaveContext(ctx, c)
	}

	m.publishEvent(ctx, &agent, "agent_started", map[string]interface{}{
		"task": task.Name, "tool": task.Tool, "context": tctx.Name,
	})

	if follow {
		status := m.runMonitorLoop(ctx, &agent, t, a)
		agent.Status = status
		return agent, nil
	}

	m.spawnBackgroundMonitor(&agent)
	return agent, nil
}

// StopAgent kills the agent's session (and any in-process monitor
// goroutine or detached monitor process) and marks it KILLED.
func (m *Manager) StopAgent(ctx context.Context, agentID string, graceful bool) error {
	agent, err := m.agents.GetAgent(ctx, agentID)
	if err != nil {
		return fmt.Errorf("manager: %w", err)
	}
	if agent.IsTerminal() {
		return nil
	}

	m.mu.Lock()
	if cancel, ok := m.monitorCancel[agent.ID]; ok {
		cancel()
		delete(m.monitorCancel, agent.ID)
	}
	m.mu.Unlock()

	if m.background != nil {
		if err := m.background.Stop(agent.ID); err != nil {
			logger.Default().Warn("failed to stop background monitor", zap.String("agent_id", agent.ID), zap.Error(err))
		}
	}

	if agent.TmuxSession != "" {
		if tctx, err := m.contexts.GetContextByName(ctx, agent.ContextName); err == nil {
			if t, err := m.transports.Create(tctx.Machine); err == nil {
				if err := t.KillSession(ctx, agent.TmuxSession); err != nil {
					logger.Default().Warn("failed to kill session", zap.String("session", agent.TmuxSession), zap.Error(err))
				}
			}
		}
	}

	reason := "force killed"
	if graceful {
		reason = "stopped by user"
	}
	if err := m.agents.UpdateStatus(ctx, agent.ID, model.StatusKilled, "", reason); err != nil {
		return fmt.Errorf("manager: updating status: %w", err)
	}

	m.publishEvent(ctx, &agent, "agent_killed", map[string]interface{}{"graceful": graceful})
	logger.Default().Info("agent stopped", zap.String("agent_id", agent.ID))
	return nil
}

// GetAgent fetches a single agent by full ID or unique prefix.
func (m *Manager) GetAgent(ctx context.Context, agentID string) (model.Agent, error) {
	return m.agents.GetAgent(ctx, agentID)
}

// ListAgents lists agents matching filter.
func (m *Manager) ListAgents(ctx context.Context, filter store.AgentFilter) ([]model.Agent, error) {
	return m.agents.ListAgents(ctx, filter)
}

// reconcileVerdict is one running agent's session-liveness check, computed
// concurrently across agents and applied sequentially afterward so the
// store/event-bus writes below don't need their own locking.
type reconcileVerdict struct {
	agent  model.Agent
	orphan bool
	reason string
}

// Reconcile verifies every RUNNING agent's tmux session still exists,
// marking any whose session has disappeared as FAILED. Session checks run
// concurrently (one transport round-trip per agent) since a large fleet
// makes the sequential version reconciliation's dominant cost.
func (m *Manager) Reconcile(ctx context.Context) ([]model.Agent, error) {
	running, err := m.agents.ListAgents(ctx, store.AgentFilter{Status: model.StatusRunning})
	if err != nil {
		return nil, fmt.Errorf("manager: listing running agents: %w", err)
	}

	verdicts := make([]reconcileVerdict, len(running))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, agent := range running {
		i, agent := i, agent
		g.Go(func() error {
			verdicts[i] = m.checkAgentAlive(gctx, agent)
			return nil
		})
	}
	_ = g.Wait() // checkAgentAlive never returns an error; errgroup just caps concurrency here.

	var orphaned []model.Agent
	for _, v := range verdicts {
		if !v.orphan {
			continue
		}
		agent := v.agent
		m.orphan(ctx, &agent, v.reason)
		if agent.TmuxSession != "" {
			m.publishEvent(ctx, &agent, "agent_orphaned", map[string]interface{}{"session": agent.TmuxSession})
		}
		orphaned = append(orphaned, agent)
	}

	if len(orphaned) > 0 {
		logger.Default().Info("reconciliation found orphaned agents", zap.Int("count", len(orphaned)))
	}
	return orphaned, nil
}

// checkAgentAlive determines whether agent's session is still reachable,
// without touching the store or event bus (left to the caller, so
// concurrent calls never race on those writes).
func (m *Manager) checkAgentAlive(ctx context.Context, agent model.Agent) reconcileVerdict {
	if agent.TmuxSession == "" {
		return reconcileVerdict{agent: agent, orphan: true, reason: "no tmux session id recorded"}
	}

	tctx, err := m.contexts.GetContextByName(ctx, agent.ContextName)
	if err != nil {
		return reconcileVerdict{agent: agent, orphan: true, reason: "context no longer exists"}
	}

	t, err := m.transports.Create(tctx.Machine)
	if err != nil {
		logger.Default().Warn("failed to build transport during reconcile", zap.String("agent_id", agent.ID), zap.Error(err))
		return reconcileVerdict{agent: agent}
	}
	alive, err := t.SessionExists(ctx, agent.TmuxSession)
	if err != nil {
		logger.Default().Warn("failed to check session during reconcile", zap.String("agent_id", agent.ID), zap.Error(err))
		return reconcileVerdict{agent: agent}
	}
	if !alive {
		return reconcileVerdict{agent: agent, orphan: true, reason: "tmux session disappeared"}
	}
	return reconcileVerdict{agent: agent}
}

func (m *Manager) orphan(ctx context.Context, agent *model.Agent, reason string) {
	if err := m.agents.UpdateStatus(ctx, agent.ID, model.StatusFailed, "", reason); err != nil {
		logger.Default().Warn("failed to mark agent orphaned", zap.String("agent_id", agent.ID), zap.Error(err))
	}
	agent.Status = model.StatusFailed
	agent.ExitReason = reason
}

// waitAndSendPrompt polls output until the adapter reports readiness,
// auto-confirming any trust/permission prompt that appears first, then
// sends the task prompt. It falls back to sending the prompt after
// StartupWaitSeconds even without detecting readiness.
func (m *Manager) waitAndSendPrompt(ctx context.Context, t transport.Transport, a adapter.Adapter, sessionID, prompt string) {
	maxWait := time.Duration(a.StartupWaitSeconds() * float64(time.Second))
	deadline := time.Now().Add(maxWait)
	ready := false

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(waitAndSendPromptPoll):
		}

		output, err := t.CaptureOutput(ctx, sessionID, 2000)
		if err != nil || strings.TrimSpace(output) == "" {
			continue
		}

		if action, ok := a.ShouldAutoConfirm(output); ok {
			logger.Default().Info("pre-prompt auto-confirm", zap.String("session", sessionID), zap.String("response", action.Response))
			_ = t.SendInput(ctx, sessionID, action.Response, action.SendEnter)
			select {
			case <-ctx.Done():
				return
			case <-time.After(preConfirmSettle):
			}
			continue
		}

		if a.IsReadyForInput(output) {
			ready = true
			break
		}
	}

	if !ready {
		logger.Default().Warn("tool readiness not detected, sending prompt anyway", zap.String("session", sessionID))
	}
	_ = t.SendInput(ctx, sessionID, prompt, true)
}

// runMonitorLoop runs the supervision loop with retry handling, blocking
// until the agent reaches a terminal status (across however many retries
// its RetryPolicy allows).
func (m *Manager) runMonitorLoop(ctx context.Context, agent *model.Agent, t transport.Transport, a adapter.Adapter) model.AgentStatus {
	maxRetries := agent.Task.Retry.MaxRetries

	for {
		log, err := agentlog.Open(m.logDir, agent.ID)
		if err != nil {
			logger.Default().Error("failed to open agent log", zap.String("agent_id", agent.ID), zap.Error(err))
			return model.StatusFailed
		}

		mon := monitor.New(agent, t, a, m.agents, m.bus, log, m.cfg)
		finalStatus := mon.Run(ctx)
		_ = log.Close()

		if finalStatus != model.StatusFailed || agent.RetryCount >= maxRetries {
			return finalStatus
		}

		agent.RetryCount++
		agent.Status = model.StatusRetrying
		if err := m.agents.SaveAgent(ctx, *agent); err != nil {
			logger.Default().Warn("failed to persist retrying status", zap.Error(err))
		}

		backoff := time.Duration(math.Min(
			math.Pow(agent.Task.Retry.BackoffBase, float64(agent.RetryCount)),
			agent.Task.Retry.BackoffMax,
		) * float64(time.Second))

		logger.Default().Info("agent failed, retrying",
			zap.String("agent_id", agent.ID), zap.Int("attempt", agent.RetryCount),
			zap.Int("max_retries", maxRetries), zap.Duration("backoff", backoff))

		m.publishEvent(ctx, agent, "agent_retry", map[string]interface{}{
			"attempt": agent.RetryCount, "max_retries": maxRetries, "backoff_seconds": backoff.Seconds(),
		})

		select {
		case <-ctx.Done():
			return model.StatusKilled
		case <-time.After(backoff):
		}

		if agent.TmuxSession == "" {
			return finalStatus
		}

		_ = t.KillSession(ctx, agent.TmuxSession)

		retryCtx := model.Context{
			ID: agent.ContextID, Name: agent.ContextName, Path: agent.ContextPath,
			Machine: model.MachineConfig{Type: agent.TransportType},
		}
		launchArgv := a.LaunchArgv(agent.Task, retryCtx)
		if err := t.CreateSession(ctx, agent.TmuxSession, launchArgv, agent.ContextPath); err != nil {
			agent.Status = model.StatusFailed
			completed := time.Now().UTC()
			agent.CompletedAt = &completed
			agent.ExitReason = fmt.Sprintf("failed to recreate session on retry %d", agent.RetryCount)
			_ = m.agents.SaveAgent(ctx, *agent)
			return model.StatusFailed
		}

		if a.NeedsPromptAfterLaunch() {
			m.waitAndSendPrompt(ctx, t, a, agent.TmuxSession, agent.Task.Prompt)
		}

		agent.Status = model.StatusRunning
		agent.State = model.StateInitializing
		agent.CompletedAt = nil
		agent.ExitReason = ""
		if err := m.agents.SaveAgent(ctx, *agent); err != nil {
			logger.Default().Warn("failed to persist restarted agent", zap.Error(err))
		}
	}
}

// spawnBackgroundMonitor hands the agent to a detached process when a
// BackgroundLauncher is configured, so monitoring survives this process
// exiting, and starts no in-process loop in that case. Without one it runs
// the monitor loop in a goroutine tracked for cancellation by StopAgent.
func (m *Manager) spawnBackgroundMonitor(agent *model.Agent) {
	monitorCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.monitorCancel[agent.ID] = cancel
	m.mu.Unlock()

	if m.background != nil {
		if err := m.background.Launch(agent.ID); err != nil {
			logger.Default().Error("failed to launch background monitor", zap.String("agent_id", agent.ID), zap.Error(err))
		}
		return
	}

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.monitorCancel, agent.ID)
			m.mu.Unlock()
		}()
		tctx, err := m.contexts.GetContextByName(monitorCtx, agent.ContextName)
		if err != nil {
			logger.Default().Error("failed to look up context for background monitor", zap.String("agent_id", agent.ID), zap.Error(err))
			return
		}
		t, err := m.transports.Create(tctx.Machine)
		if err != nil {
			logger.Default().Error("failed to rebuild transport for background monitor", zap.String("agent_id", agent.ID), zap.Error(err))
			return
		}
		a, err := m.registry.Get(agent.Task.Tool)
		if err != nil {
			logger.Default().Error("failed to resolve adapter for background monitor", zap.String("agent_id", agent.ID), zap.Error(err))
			return
		}
		m.runMonitorLoop(monitorCtx, agent, t, a)
	}()
}

func (m *Manager) publishEvent(ctx context.Context, agent *model.Agent, eventType string, detail map[string]interface{}) {
	event := agent.AddEvent(eventType, detail)
	if err := m.agents.AddEvent(ctx, event); err != nil {
		logger.Default().Warn("failed to persist event", zap.String("event_type", eventType), zap.Error(err))
	}
	m.bus.Publish(event)
}
