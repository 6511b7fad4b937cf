// Command cam-monitor is the detached supervision process spawned by
// internal/detached.Launcher for agents launched with follow=false. It
// loads a single agent from the shared store, rebuilds its transport and
// adapter, and runs the monitor loop (with retry/backoff) to completion,
// independently of the CLI process that launched it.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/orlunix/cam/internal/adapter"
	"github.com/orlunix/cam/internal/agentlog"
	"github.com/orlunix/cam/internal/camconfig"
	"github.com/orlunix/cam/internal/detached"
	"github.com/orlunix/cam/internal/eventbus"
	"github.com/orlunix/cam/internal/logger"
	"github.com/orlunix/cam/internal/model"
	"github.com/orlunix/cam/internal/monitor"
	"github.com/orlunix/cam/internal/store"
	"github.com/orlunix/cam/internal/transport"
)

var (
	agentIDFlag = flag.String("agent-id", "", "id of the agent to monitor (required)")
	dataDirFlag = flag.String("data-dir", "", "data directory shared with the launching cam process")
)

func main() {
	flag.Parse()
	if *agentIDFlag == "" {
		fmt.Fprintln(os.Stderr, "cam-monitor: --agent-id is required")
		os.Exit(1)
	}

	cfg, err := camconfig.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cam-monitor: loading config: %v\n", err)
		os.Exit(1)
	}

	dataDir := *dataDirFlag
	if dataDir == "" {
		dataDir = cfg.Paths.DataDir
	}

	log, err := logger.New(logger.Config{Level: cfg.General.LogLevel, Format: "console", OutputPath: "stdout"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "cam-monitor: initializing logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)
	defer func() { _ = log.Zap().Sync() }()

	agentID := *agentIDFlag
	pidDir := filepath.Join(dataDir, "pids")
	if err := detached.WritePID(pidDir, agentID, os.Getpid()); err != nil {
		log.Warn("failed to write pid file, continuing untracked", zap.Error(err))
	}
	defer func() { _ = detached.RemovePID(pidDir, agentID) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, dataDir, agentID, log); err != nil {
		log.Error("monitor runner exiting with error", zap.String("agent_id", agentID), zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *camconfig.Config, dataDir, agentID string, log *logger.Logger) error {
	db, err := store.Open(filepath.Join(dataDir, "cam.db"))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { _ = db.Close() }()

	bus := eventbus.New()
	registry := adapter.NewRegistry()
	factory := transport.NewFactory(dataDir)

	agent, err := db.GetAgent(ctx, agentID)
	if err != nil {
		return fmt.Errorf("loading agent %s: %w", agentID, err)
	}

	a, err := registry.Get(agent.Task.Tool)
	if err != nil {
		markFailed(ctx, db, &agent, err.Error())
		return fmt.Errorf("resolving adapter: %w", err)
	}

	tctx, err := db.GetContextByName(ctx, agent.ContextName)
	if err != nil {
		markFailed(ctx, db, &agent, fmt.Sprintf("context not found: %s", agent.ContextName))
		return fmt.Errorf("loading context %s: %w", agent.ContextName, err)
	}

	t, err := factory.Create(tctx.Machine)
	if err != nil {
		markFailed(ctx, db, &agent, "failed to create transport")
		return fmt.Errorf("creating transport: %w", err)
	}

	logDir := cfg.Paths.LogDir
	if logDir == "" {
		logDir = filepath.Join(dataDir, "logs")
	}

	finalStatus := runMonitorLoop(ctx, cfg, db, bus, logDir, &agent, t, a)
	log.Info("monitor runner finished",
		zap.String("agent_id", agentID), zap.String("status", string(finalStatus)))
	return nil
}

// runMonitorLoop mirrors manager.Manager's own retry-aware monitor loop:
// this binary is launched precisely because no in-process Manager exists
// to run it for a detached agent.
func runMonitorLoop(ctx context.Context, cfg *camconfig.Config, db *store.Store, bus *eventbus.Bus, logDir string, agent *model.Agent, t transport.Transport, a adapter.Adapter) model.AgentStatus {
	maxRetries := agent.Task.Retry.MaxRetries

	for {
		alog, err := agentlog.Open(logDir, agent.ID)
		if err != nil {
			logger.Default().Error("failed to open agent log", zap.String("agent_id", agent.ID), zap.Error(err))
			return model.StatusFailed
		}

		mon := monitor.New(agent, t, a, db, bus, alog, cfg)
		finalStatus := mon.Run(ctx)
		_ = alog.Close()

		if finalStatus != model.StatusFailed || agent.RetryCount >= maxRetries {
			return finalStatus
		}

		agent.RetryCount++
		agent.Status = model.StatusRetrying
		if err := db.SaveAgent(ctx, *agent); err != nil {
			logger.Default().Warn("failed to persist retrying status", zap.Error(err))
		}

		backoff := time.Duration(math.Min(
			math.Pow(agent.Task.Retry.BackoffBase, float64(agent.RetryCount)),
			agent.Task.Retry.BackoffMax,
		) * float64(time.Second))

		logger.Default().Info("agent failed, retrying",
			zap.String("agent_id", agent.ID), zap.Int("attempt", agent.RetryCount),
			zap.Int("max_retries", maxRetries), zap.Duration("backoff", backoff))

		event := agent.AddEvent("agent_retry", map[string]interface{}{
			"attempt": agent.RetryCount, "max_retries": maxRetries, "backoff_seconds": backoff.Seconds(),
		})
		if err := db.AddEvent(ctx, event); err != nil {
			logger.Default().Warn("failed to persist retry event", zap.Error(err))
		}
		bus.Publish(event)

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
			markFailed(ctx, db, agent, fmt.Sprintf("failed to recreate session on retry %d", agent.RetryCount))
			return model.StatusFailed
		}

		if a.NeedsPromptAfterLaunch() {
			waitAndSendPrompt(ctx, t, a, agent.TmuxSession, agent.Task.Prompt)
		}

		agent.Status = model.StatusRunning
		agent.State = model.StateInitializing
		agent.CompletedAt = nil
		agent.ExitReason = ""
		if err := db.SaveAgent(ctx, *agent); err != nil {
			logger.Default().Warn("failed to persist restarted agent", zap.Error(err))
		}
	}
}

// waitAndSendPrompt duplicates manager.Manager.waitAndSendPrompt's
// pre-prompt auto-confirm poll; both runner and in-process Manager need it
// but neither imports the other, so each carries its own copy in the
// teacher's style of small self-contained command binaries.
func waitAndSendPrompt(ctx context.Context, t transport.Transport, a adapter.Adapter, sessionID, prompt string) {
	const pollInterval = 1 * time.Second
	const confirmSettle = 3 * time.Second

	maxWait := time.Duration(a.StartupWaitSeconds() * float64(time.Second))
	deadline := time.Now().Add(maxWait)
	ready := false

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval):
		}

		output, err := t.CaptureOutput(ctx, sessionID, 2000)
		if err != nil || len(output) == 0 {
			continue
		}

		if action, ok := a.ShouldAutoConfirm(output); ok {
			_ = t.SendInput(ctx, sessionID, action.Response, action.SendEnter)
			select {
			case <-ctx.Done():
				return
			case <-time.After(confirmSettle):
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

func markFailed(ctx context.Context, db *store.Store, agent *model.Agent, reason string) {
	if err := db.UpdateStatus(ctx, agent.ID, model.StatusFailed, "", reason); err != nil {
		logger.Default().Warn("failed to mark agent failed", zap.String("agent_id", agent.ID), zap.Error(err))
	}
}
