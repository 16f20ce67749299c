package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tetherlab/tether/internal/output"
	"github.com/tetherlab/tether/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the workspace session at a glance",
	Long: `Show agents, worktrees, and recent checkpoints for the configured
workspace. Connects, waits for the first sync, renders, and exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusRun(cmd)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusRun(cmd *cobra.Command) error {
	ls, err := openLiveSession(cmd.Context())
	if err != nil {
		return err
	}
	defer ls.Close()

	waitForSync(ls, 3*time.Second)

	var rendered bool
	ls.sessionView(func(sess *store.Session) {
		rendered = true

		fmt.Fprintf(ui.Out, "workspace %s  %s\n\n",
			output.Cyan(sess.ID), output.StatusColor(string(sess.Workspace)))

		agents := sess.SortedAgents()
		if len(agents) > 0 {
			table := ui.Table([]string{"AGENT", "STATUS", "MODE", "MODEL"})
			for _, a := range agents {
				_ = table.Append([]string{
					a.ID,
					output.StatusColor(string(a.Status)),
					string(a.Mode),
					a.Model,
				})
			}
			_ = table.Render()
			fmt.Fprintln(ui.Out)
		}

		worktrees := sess.SortedWorktrees()
		if len(worktrees) > 0 {
			table := ui.Table([]string{"WORKTREE", "BRANCH", "AGENT", "STATUS"})
			for _, wt := range worktrees {
				_ = table.Append([]string{
					wt.ID,
					wt.Branch,
					wt.AgentID,
					output.StatusColor(string(wt.Status)),
				})
			}
			_ = table.Render()
			fmt.Fprintln(ui.Out)
		}

		checkpoints := sess.SortedCheckpoints()
		if len(checkpoints) > 10 {
			checkpoints = checkpoints[:10]
		}
		if len(checkpoints) > 0 {
			table := ui.Table([]string{"#", "CHECKPOINT", "STATUS", "FILES", "+/-"})
			for _, cp := range checkpoints {
				_ = table.Append([]string{
					fmt.Sprintf("%d", cp.Number),
					cp.Description,
					output.StatusColor(string(cp.Status)),
					fmt.Sprintf("%d", cp.FileCount),
					fmt.Sprintf("+%d/-%d", cp.TotalLinesAdded, cp.TotalLinesRemoved),
				})
			}
			_ = table.Render()
		}

		if sess.Op.Kind != store.OpIdle {
			ui.Warning("operation in flight: %s %s", sess.Op.Kind, sess.Op.ID)
		}
	})

	if !rendered {
		ui.Info("no session state received yet; is the workspace running?")
	}
	return nil
}
