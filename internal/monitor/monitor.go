// Package monitor implements the supervision loop that watches a single
// running agent's terminal session: polling output, driving auto-confirm,
// detecting state and completion, and enforcing timeouts.
package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/orlunix/cam/internal/adapter"
	"github.com/orlunix/cam/internal/agentlog"
	"github.com/orlunix/cam/internal/camconfig"
	"github.com/orlunix/cam/internal/eventbus"
	"github.com/orlunix/cam/internal/logger"
	"github.com/orlunix/cam/internal/model"
	"github.com/orlunix/cam/internal/probe"
	"github.com/orlunix/cam/internal/store"
	"github.com/orlunix/cam/internal/transport"
)

// confirmCooldown keeps the monitor from re-sending an auto-confirm
// response while the same prompt is still on screen.
const confirmCooldown = 5 * time.Second

// confirmSettle is how long to wait after sending a confirmation before
// resuming the poll loop, giving the tool time to react.
const confirmSettle = 500 * time.Millisecond

// completionIdleThreshold is how long output must have been unchanged
// before a completion pattern is trusted (avoids matching mid-stream text
// that only looks like a completion banner).
const completionIdleThreshold = 3 * time.Second

// defaultProbeStableSeconds and defaultProbeCooldown back-fill
// camconfig.MonitorConfig's probe knobs when a zero value reaches the
// monitor (e.g. a Config built by hand in tests).
const (
	defaultProbeStableSeconds = 3
	defaultProbeCooldown      = 5
)

// probeConsecutiveToFinalize is how many consecutive "completed" probe
// results are required before trusting the probe enough to finalize.
const probeConsecutiveToFinalize = 2

// Store is the persistence surface the monitor needs; satisfied by
// *store.Store.
type Store interface {
	UpdateStatus(ctx context.Context, agentID string, status model.AgentStatus, state model.AgentState, exitReason string) error
	AddEvent(ctx context.Context, event model.AgentEvent) error
}

var _ Store = (*store.Store)(nil)

// Monitor runs the poll loop for one agent until it reaches a terminal
// status.
type Monitor struct {
	agent     *model.Agent
	transport transport.Transport
	adapter   adapter.Adapter
	store     Store
	bus       *eventbus.Bus
	log       *agentlog.Logger
	cfg       *camconfig.Config

	previousOutput    string
	lastChangeTime    time.Time
	lastHealthCheck   time.Time
	lastConfirmTime   time.Time
	lastProbeTime     time.Time
	probeConsecutive  int
	pollCount         int
	hasWorked         bool
	promptDisappeared bool
}

// New builds a Monitor for agent.
func New(agent *model.Agent, t transport.Transport, a adapter.Adapter, s Store, bus *eventbus.Bus, log *agentlog.Logger, cfg *camconfig.Config) *Monitor {
	return &Monitor{
		agent:          agent,
		transport:      t,
		adapter:        a,
		store:          s,
		bus:            bus,
		log:            log,
		cfg:            cfg,
		lastChangeTime: time.Now().UTC(),
	}
}

// Run executes the poll loop until the agent finishes, the context is
// cancelled, or an unrecoverable error occurs. It always returns a terminal
// AgentStatus.
func (m *Monitor) Run(ctx context.Context) model.AgentStatus {
	sessionID := m.agent.TmuxSession
	if sessionID == "" {
		return m.finalize(ctx, model.StatusFailed, "no tmux session id set")
	}

	pollInterval := time.Duration(m.cfg.Monitor.PollInterval) * time.Second
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	idleTimeout := time.Duration(m.cfg.Monitor.IdleTimeout) * time.Second
	healthCheckInterval := time.Duration(m.cfg.Monitor.HealthCheckInterval) * time.Second
	totalTimeout := m.agent.Task.Timeout

	m.writeLog("monitor_start", map[string]interface{}{
		"session_id":    sessionID,
		"poll_interval":  pollInterval.Seconds(),
		"idle_timeout":   idleTimeout.Seconds(),
		"total_timeout":  totalTimeout.Seconds(),
	})
	m.publishEvent(ctx, "monitor_start", nil)

	for {
		select {
		case <-ctx.Done():
			m.writeLog("cancelled", nil)
			return m.finalize(ctx, model.StatusKilled, "monitor cancelled")
		default:
		}

		m.pollCount++
		now := time.Now().UTC()

		if status, reason, done := m.checkTotalTimeout(ctx, sessionID, now, totalTimeout); done {
			return m.finalize(ctx, status, reason)
		}

		if status, reason, done := m.checkIdleTimeout(ctx, sessionID, now, idleTimeout); done {
			return m.finalize(ctx, status, reason)
		}

		if now.Sub(m.lastHealthCheck) >= healthCheckInterval {
			m.lastHealthCheck = now
			if status, reason, done := m.checkHealth(ctx, sessionID); done {
				return m.finalize(ctx, status, reason)
			}
		}

		output, err := m.transport.CaptureOutput(ctx, sessionID, 2000)
		if err != nil {
			return m.finalize(ctx, model.StatusFailed, fmt.Sprintf("capture output failed: %v", err))
		}

		outputChanged := output != m.previousOutput
		if outputChanged {
			m.lastChangeTime = now
			m.writeLog("output", nil, output)
		}
		m.previousOutput = output

		if blankOutput(output) {
			if !sleep(ctx, pollInterval) {
				return m.finalize(ctx, model.StatusKilled, "monitor cancelled")
			}
			continue
		}

		if outputChanged && m.cfg.General.AutoConfirm {
			if acted, err := m.tryAutoConfirm(ctx, sessionID, output, now); err != nil {
				return m.finalize(ctx, model.StatusFailed, fmt.Sprintf("auto-confirm failed: %v", err))
			} else if acted {
				if !sleep(ctx, confirmSettle) {
					return m.finalize(ctx, model.StatusKilled, "monitor cancelled")
				}
				continue
			}
		}

		m.updateState(ctx, output)

		idleFor := now.Sub(m.lastChangeTime)
		if !outputChanged && idleFor >= completionIdleThreshold {
			if status, done := m.detectCompletion(output); done {
				return m.finalize(ctx, status, completionReason(status))
			}
		}

		if m.adapter.NeedsPromptAfterLaunch() {
			if status, reason, done := m.checkPromptReturn(output); done {
				return m.finalize(ctx, status, reason)
			}
		}

		if m.cfg.Monitor.ProbeDetection {
			if status, reason, done := m.checkProbe(ctx, sessionID, now, idleFor); done {
				return m.finalize(ctx, status, reason)
			}
		}

		if !sleep(ctx, pollInterval) {
			return m.finalize(ctx, model.StatusKilled, "monitor cancelled")
		}
	}
}

func (m *Monitor) checkTotalTimeout(ctx context.Context, sessionID string, now time.Time, totalTimeout time.Duration) (model.AgentStatus, string, bool) {
	if totalTimeout <= 0 || m.agent.StartedAt == nil {
		return "", "", false
	}
	elapsed := now.Sub(*m.agent.StartedAt)
	if elapsed < totalTimeout {
		return "", "", false
	}
	m.writeLog("timeout", map[string]interface{}{"elapsed_seconds": elapsed.Seconds(), "limit_seconds": totalTimeout.Seconds()})
	if err := m.transport.KillSession(ctx, sessionID); err != nil {
		m.logZap().Warn("failed to kill session after total timeout", zap.Error(err))
	}
	return model.StatusTimeout, fmt.Sprintf("total timeout after %.0fs", elapsed.Seconds()), true
}

func (m *Monitor) checkIdleTimeout(ctx context.Context, sessionID string, now time.Time, idleTimeout time.Duration) (model.AgentStatus, string, bool) {
	if idleTimeout <= 0 {
		return "", "", false
	}
	idle := now.Sub(m.lastChangeTime)
	if idle < idleTimeout {
		return "", "", false
	}
	m.writeLog("idle_timeout", map[string]interface{}{"idle_seconds": idle.Seconds(), "limit_seconds": idleTimeout.Seconds()})
	if err := m.transport.KillSession(ctx, sessionID); err != nil {
		m.logZap().Warn("failed to kill session after idle timeout", zap.Error(err))
	}
	return model.StatusTimeout, fmt.Sprintf("idle timeout after %.0fs with no output change", idle.Seconds()), true
}

func (m *Monitor) checkHealth(ctx context.Context, sessionID string) (model.AgentStatus, string, bool) {
	alive, err := m.transport.SessionExists(ctx, sessionID)
	if err != nil || alive {
		return "", "", false
	}
	m.writeLog("session_gone", map[string]interface{}{"session_id": sessionID})
	if m.previousOutput != "" {
		if status, ok := m.adapter.DetectCompletion(m.previousOutput); ok && status == model.StatusCompleted {
			return model.StatusCompleted, "session ended cleanly", true
		}
	}
	return model.StatusCompleted, "tmux session exited", true
}

func (m *Monitor) tryAutoConfirm(ctx context.Context, sessionID, output string, now time.Time) (bool, error) {
	if now.Sub(m.lastConfirmTime) < confirmCooldown {
		return false, nil
	}
	action, ok := m.adapter.ShouldAutoConfirm(output)
	if !ok {
		return false, nil
	}
	m.lastConfirmTime = now
	m.writeLog("auto_confirm", map[string]interface{}{"response": action.Response, "send_enter": action.SendEnter})
	m.publishEvent(ctx, "auto_confirm", map[string]interface{}{"response": action.Response, "send_enter": action.SendEnter})
	if err := m.transport.SendInput(ctx, sessionID, action.Response, action.SendEnter); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Monitor) updateState(ctx context.Context, output string) {
	newState, ok := m.adapter.DetectState(output)
	if !ok || newState == m.agent.State {
		return
	}
	if newState != model.StateInitializing {
		m.hasWorked = true
	}
	oldState := m.agent.State
	m.agent.State = newState
	if err := m.store.UpdateStatus(ctx, m.agent.ID, m.agent.Status, newState, ""); err != nil {
		m.logZap().Warn("failed to persist state change", zap.Error(err))
	}
	m.writeLog("state_change", map[string]interface{}{"from": string(oldState), "to": string(newState)})
	m.publishEvent(ctx, "state_change", map[string]interface{}{"from": string(oldState), "to": string(newState)})
}

func (m *Monitor) detectCompletion(output string) (model.AgentStatus, bool) {
	status, ok := m.adapter.DetectCompletion(output)
	if !ok {
		return "", false
	}
	if cost, ok := m.adapter.EstimateCost(output); ok {
		m.agent.CostEstimate = &cost
	}
	if files := m.adapter.ParseFilesChanged(output); len(files) > 0 {
		m.agent.FilesChanged = files
	}
	return status, true
}

// checkPromptReturn detects completion for interactive tools (Claude and
// similar) by watching the input prompt disappear and then return, which
// only counts once the agent has actually done some work.
func (m *Monitor) checkPromptReturn(output string) (model.AgentStatus, string, bool) {
	promptVisible := m.adapter.IsReadyForInput(output)
	if !promptVisible && m.hasWorked {
		m.promptDisappeared = true
	}
	if promptVisible && m.hasWorked && m.promptDisappeared {
		m.writeLog("prompt_return_completion", map[string]interface{}{"state": string(m.agent.State)})
		return model.StatusCompleted, "tool returned to input prompt", true
	}
	return "", "", false
}

// checkProbe runs the echo-visibility probe when it's gated in: the agent
// must have done some work at least once, output must have been stable for
// the configured window, and the last probe must be outside its cooldown.
// Two consecutive "completed" results finalize; a "busy" result resets the
// idle clock so it doesn't also trip the idle timeout; "confirmed" and
// "error" results are logged but otherwise just reset the streak.
func (m *Monitor) checkProbe(ctx context.Context, sessionID string, now time.Time, idleFor time.Duration) (model.AgentStatus, string, bool) {
	if !m.hasWorked {
		return "", "", false
	}

	stableSeconds := m.cfg.Monitor.ProbeStableSeconds
	if stableSeconds <= 0 {
		stableSeconds = defaultProbeStableSeconds
	}
	if idleFor < time.Duration(stableSeconds)*time.Second {
		return "", "", false
	}

	cooldown := m.cfg.Monitor.ProbeCooldown
	if cooldown <= 0 {
		cooldown = defaultProbeCooldown
	}
	if now.Sub(m.lastProbeTime) < time.Duration(cooldown)*time.Second {
		return "", "", false
	}
	m.lastProbeTime = now

	result := probe.Probe(ctx, m.transport, sessionID)
	m.writeLog("probe", map[string]interface{}{"result": string(result)})

	switch result {
	case probe.ResultCompleted:
		m.probeConsecutive++
		m.writeLog("probe_streak", map[string]interface{}{"consecutive": m.probeConsecutive})
		if m.probeConsecutive >= probeConsecutiveToFinalize {
			return model.StatusCompleted, "probe confirmed completion", true
		}
	case probe.ResultBusy:
		m.probeConsecutive = 0
		m.lastChangeTime = now
	default:
		m.probeConsecutive = 0
	}
	return "", "", false
}

func (m *Monitor) finalize(ctx context.Context, status model.AgentStatus, reason string) model.AgentStatus {
	m.agent.Status = status
	now := time.Now().UTC()
	m.agent.CompletedAt = &now
	m.agent.ExitReason = reason

	if err := m.store.UpdateStatus(ctx, m.agent.ID, status, "", reason); err != nil {
		m.logZap().Warn("failed to persist final status", zap.Error(err))
	}

	duration := m.agent.DurationSeconds()
	durationSeconds := 0.0
	if duration != nil {
		durationSeconds = *duration
	}
	m.writeLog("finalize", map[string]interface{}{
		"status":           string(status),
		"reason":           reason,
		"duration_seconds": durationSeconds,
		"poll_count":       m.pollCount,
		"cost_estimate":    m.agent.CostEstimate,
		"files_changed":    m.agent.FilesChanged,
	})
	m.publishEvent(ctx, "agent_finished", map[string]interface{}{
		"status":           string(status),
		"reason":           reason,
		"duration_seconds": durationSeconds,
	})

	m.logZap().Info("agent finalized",
		zap.String("agent_id", m.agent.ID),
		zap.String("status", string(status)),
		zap.String("reason", reason),
		zap.Float64("duration_seconds", durationSeconds),
	)
	return status
}

func (m *Monitor) publishEvent(ctx context.Context, eventType string, detail map[string]interface{}) {
	event := m.agent.AddEvent(eventType, detail)
	if err := m.store.AddEvent(ctx, event); err != nil {
		m.logZap().Warn("failed to persist event", zap.String("event_type", eventType), zap.Error(err))
	}
	m.bus.Publish(event)
}

func (m *Monitor) writeLog(eventType string, data map[string]interface{}, output ...string) {
	if m.log == nil {
		return
	}
	var out string
	if len(output) > 0 {
		out = output[0]
	}
	if err := m.log.Write(eventType, data, out); err != nil {
		m.logZap().Warn("failed to write agent log entry", zap.String("event_type", eventType), zap.Error(err))
	}
}

func (m *Monitor) logZap() *logger.Logger {
	return logger.Default().WithAgentID(m.agent.ID)
}

func blankOutput(output string) bool {
	for _, r := range output {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}

func completionReason(status model.AgentStatus) string {
	if status == model.StatusCompleted {
		return "completed"
	}
	return "failed"
}

// sleep waits for d or until ctx is cancelled, returning false if it was
// cancelled.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
