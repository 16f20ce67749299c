package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tetherlab/tether/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server over the live session",
	Long: `Start an MCP (Model Context Protocol) server on stdio, backed by the
live synced workspace state. This lets other agents query the session
natively. Configure with:

  {
    "mcpServers": {
      "tether": { "command": "tether", "args": ["mcp"] }
    }
  }

Available tools: tether_list_agents, tether_conversation,
tether_list_checkpoints, tether_list_worktrees, tether_send_message`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun(cmd)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun(cmd *cobra.Command) error {
	ls, err := openLiveSession(cmd.Context())
	if err != nil {
		return err
	}
	defer ls.Close()

	srv := mcp.NewServer(ls.workspaceID, ls.store, ls.client)
	return srv.ServeStdio(cmd.Context())
}
