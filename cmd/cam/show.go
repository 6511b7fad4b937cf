package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <agent-id>",
	Short: "Show a single agent's status, task, and stored events",
	Args:  cobra.ExactArgs(1),
	RunE:  showAgent,
}

func showAgent(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	agent, err := current.mgr.GetAgent(ctx, args[0])
	if err != nil {
		return fmt.Errorf("fetching agent: %w", err)
	}

	fmt.Printf("id:        %s\n", agent.ID)
	fmt.Printf("tool:      %s\n", agent.Task.Tool)
	fmt.Printf("status:    %s\n", agent.Status)
	fmt.Printf("state:     %s\n", agent.State)
	fmt.Printf("context:   %s (%s)\n", agent.ContextName, agent.ContextPath)
	fmt.Printf("session:   %s\n", agent.TmuxSession)
	fmt.Printf("retries:   %d\n", agent.RetryCount)
	if agent.ExitReason != "" {
		fmt.Printf("exit:      %s\n", agent.ExitReason)
	}
	fmt.Printf("prompt:    %s\n", agent.Task.Prompt)

	events, err := current.db.GetEvents(ctx, agent.ID)
	if err != nil {
		return fmt.Errorf("fetching events: %w", err)
	}
	fmt.Printf("events (%d):\n", len(events))
	for _, e := range events {
		fmt.Printf("  %s  %s\n", e.Timestamp.Format("15:04:05"), e.EventType)
	}
	return nil
}
