package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stopForce bool

var stopCmd = &cobra.Command{
	Use:   "stop <agent-id>",
	Short: "Stop a running agent",
	Args:  cobra.ExactArgs(1),
	RunE:  stopAgent,
}

func init() {
	stopCmd.Flags().BoolVar(&stopForce, "force", false, "force kill instead of a graceful stop")
}

func stopAgent(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := current.mgr.StopAgent(ctx, args[0], !stopForce); err != nil {
		return fmt.Errorf("stopping agent: %w", err)
	}
	fmt.Printf("agent %s stopped\n", args[0])
	return nil
}
