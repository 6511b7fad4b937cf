package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Verify every running agent's session still exists, marking orphans failed",
	RunE:  reconcile,
}

func reconcile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	orphaned, err := current.mgr.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconciling: %w", err)
	}
	if len(orphaned) == 0 {
		fmt.Println("no orphaned agents found")
		return nil
	}
	for _, a := range orphaned {
		fmt.Printf("agent %s marked failed: %s\n", a.ID, a.ExitReason)
	}
	return nil
}
