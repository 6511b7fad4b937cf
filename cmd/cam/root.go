package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orlunix/cam/internal/adapter"
	"github.com/orlunix/cam/internal/camconfig"
	"github.com/orlunix/cam/internal/detached"
	"github.com/orlunix/cam/internal/eventbus"
	"github.com/orlunix/cam/internal/logger"
	"github.com/orlunix/cam/internal/manager"
	"github.com/orlunix/cam/internal/store"
	"github.com/orlunix/cam/internal/transport"
)

var dataDirFlag string

var rootCmd = &cobra.Command{
	Use:   "cam",
	Short: "CAM supervises long-running, interactive AI coding tools",
	Long: `cam launches coding agents (Claude Code, Codex, Aider, or any CLI)
inside tmux sessions and supervises them: auto-confirming permission
prompts, detecting completion, retrying on failure, and reconciling
state if a session disappears out from under it.`,
	SilenceUsage: true,
}

// app bundles the wiring every subcommand needs, built once in
// PersistentPreRunE so commands stay focused on their own flags.
type app struct {
	cfg *camconfig.Config
	db  *store.Store
	mgr *manager.Manager
}

var current *app

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "override the configured data directory")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		current = a
		return nil
	}

	rootCmd.AddCommand(runCmd, listCmd, showCmd, stopCmd, reconcileCmd)
}

func buildApp() (*app, error) {
	cfg, err := camconfig.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if dataDirFlag != "" {
		cfg.Paths.DataDir = dataDirFlag
	}

	log, err := logger.New(logger.Config{Level: cfg.General.LogLevel, Format: "console", OutputPath: "stdout"})
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger.SetDefault(log)

	mustDataDir(cfg.Paths.DataDir)

	db, err := store.Open(filepath.Join(cfg.Paths.DataDir, "cam.db"))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	bus := eventbus.New()
	registry := adapter.NewRegistry()
	factory := transport.NewFactory(cfg.Paths.DataDir)
	background := detached.New("", cfg.Paths.DataDir)
	logDir := cfg.Paths.LogDir
	if logDir == "" {
		logDir = filepath.Join(cfg.Paths.DataDir, "logs")
	}

	mgr := manager.New(cfg, db, db, bus, registry, factory, background, logDir)

	log.Debug("cam wiring ready", zap.String("data_dir", cfg.Paths.DataDir))
	return &app{cfg: cfg, db: db, mgr: mgr}, nil
}

// mustDataDir creates the configured data directory, exiting on failure
// the way a thin demo binary is allowed to.
func mustDataDir(dir string) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "cam: creating data directory %s: %v\n", dir, err)
		os.Exit(1)
	}
}
