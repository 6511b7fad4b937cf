package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orlunix/cam/internal/camconfig"
	"github.com/orlunix/cam/internal/model"
)

var (
	runTool    string
	runPrompt  string
	runContext string
	runPath    string
	runTimeout string
	runFollow  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Launch a coding agent against a context",
	Long: `Launch a coding agent in a tmux session and supervise it.

Example:
  cam run --context myrepo --path . --tool claude --prompt "fix the failing test" --follow`,
	RunE: runAgent,
}

func init() {
	runCmd.Flags().StringVar(&runTool, "tool", "claude", "adapter to launch (claude, codex, aider, or generic)")
	runCmd.Flags().StringVar(&runPrompt, "prompt", "", "prompt to send to the agent once it's ready")
	runCmd.Flags().StringVar(&runContext, "context", "", "context name (reused if it already exists)")
	runCmd.Flags().StringVar(&runPath, "path", ".", "working directory for a new context")
	runCmd.Flags().StringVar(&runTimeout, "timeout", "", "max task duration (e.g. 30m, 2h); empty means no limit")
	runCmd.Flags().BoolVar(&runFollow, "follow", false, "block until the agent finishes")
	_ = runCmd.MarkFlagRequired("prompt")
	_ = runCmd.MarkFlagRequired("context")
}

func runAgent(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	tctx, err := current.db.GetContextByName(ctx, runContext)
	if err != nil {
		tctx = model.NewContext(runContext, runPath, model.MachineConfig{Type: model.TransportLocal})
		if err := current.db.SaveContext(ctx, tctx); err != nil {
			return fmt.Errorf("saving context: %w", err)
		}
	}

	timeout, err := camconfig.ParseDuration(runTimeout)
	if err != nil {
		return fmt.Errorf("parsing --timeout: %w", err)
	}

	task := model.TaskDefinition{
		Tool:    runTool,
		Prompt:  runPrompt,
		Timeout: timeout,
		Retry:   model.DefaultRetryPolicy(),
	}
	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	agent, err := current.mgr.RunAgent(ctx, task, tctx, runFollow)
	if err != nil {
		return fmt.Errorf("launching agent: %w", err)
	}

	fmt.Printf("agent %s (%s) status=%s session=%s\n", agent.ID, task.Tool, agent.Status, agent.TmuxSession)
	return nil
}
