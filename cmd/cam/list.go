package main

import (
	"fmt"
	"text/tabwriter"

	"os"

	"github.com/spf13/cobra"

	"github.com/orlunix/cam/internal/cliutil"
	"github.com/orlunix/cam/internal/model"
	"github.com/orlunix/cam/internal/store"
)

var (
	listStatus  string
	listContext string
	listTool    string
	listLimit   int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents",
	RunE:  listAgents,
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (pending, starting, running, retrying, completed, failed, timeout, killed)")
	listCmd.Flags().StringVar(&listContext, "context", "", "filter by context name")
	listCmd.Flags().StringVar(&listTool, "tool", "", "filter by tool")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum number of agents to list")
}

func listAgents(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	filter := store.AgentFilter{Status: model.AgentStatus(listStatus), Tool: listTool, Limit: listLimit}
	if listContext != "" {
		tctx, err := current.db.GetContextByName(ctx, listContext)
		if err != nil {
			return fmt.Errorf("unknown context %q: %w", listContext, err)
		}
		filter.ContextID = tctx.ID
	}

	agents, err := current.mgr.ListAgents(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing agents: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "ID\tTOOL\tSTATUS\tCONTEXT\tSESSION\tPROMPT")
	for _, a := range agents {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.Task.Tool, a.Status, a.ContextName, a.TmuxSession, cliutil.Truncate(a.Task.Prompt, 40))
	}
	return nil
}
