package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/tetherlab/tether/internal/output"
	"github.com/tetherlab/tether/internal/store"
)

var worktreeCmd = &cobra.Command{
	Use:     "worktree",
	Aliases: []string{"wt"},
	Short:   "List, merge, or delete agent worktrees",
}

var worktreeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the session's worktrees",
	RunE: func(cmd *cobra.Command, args []string) error {
		return worktreeListRun(cmd)
	},
}

var worktreeMergeCmd = &cobra.Command{
	Use:   "merge <worktree-id>",
	Short: "Merge a worktree's branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return worktreeMergeRun(cmd, args[0])
	},
}

var worktreeDeleteCmd = &cobra.Command{
	Use:   "delete <worktree-id>",
	Short: "Delete a worktree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return worktreeDeleteRun(cmd, args[0])
	},
}

func init() {
	worktreeCmd.AddCommand(worktreeListCmd)
	worktreeCmd.AddCommand(worktreeMergeCmd)
	worktreeCmd.AddCommand(worktreeDeleteCmd)
	rootCmd.AddCommand(worktreeCmd)
}

func worktreeListRun(cmd *cobra.Command) error {
	ls, err := openLiveSession(cmd.Context())
	if err != nil {
		return err
	}
	defer ls.Close()

	waitForSync(ls, 3*time.Second)

	count := 0
	ls.sessionView(func(sess *store.Session) {
		worktrees := sess.SortedWorktrees()
		count = len(worktrees)
		if count == 0 {
			return
		}
		table := ui.Table([]string{"ID", "BRANCH", "AGENT", "STATUS", "PATH"})
		for _, wt := range worktrees {
			_ = table.Append([]string{
				wt.ID,
				wt.Branch,
				wt.AgentID,
				output.StatusColor(string(wt.Status)),
				wt.Path,
			})
		}
		_ = table.Render()
	})

	if count == 0 {
		ui.Info("no worktrees")
	}
	return nil
}

func worktreeMergeRun(cmd *cobra.Command, worktreeID string) error {
	ls, err := openLiveSession(cmd.Context())
	if err != nil {
		return err
	}
	defer ls.Close()

	waitForSync(ls, 3*time.Second)

	if err := ls.client.MergeWorktree(cmd.Context(), ls.workspaceID, worktreeID); err != nil {
		return err
	}
	ui.Info("merge of %s started", output.Cyan(worktreeID))

	deadline := time.After(120 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		var done bool
		var status string
		ls.sessionView(func(sess *store.Session) {
			done = sess.Op.Kind == store.OpIdle
			if wt, ok := sess.Worktrees[worktreeID]; ok {
				status = string(wt.Status)
			}
		})
		if done {
			switch status {
			case "merged":
				ui.Success("worktree %s merged", output.Cyan(worktreeID))
			case "failed", "conflict":
				ui.Error("merge of %s ended with status %s", worktreeID, output.StatusColor(status))
			default:
				ui.Info("merge of %s finished with status %s", worktreeID, status)
			}
			return nil
		}
		select {
		case <-deadline:
			ui.Warning("merge still running; check 'tether status' later")
			return nil
		case <-tick.C:
		}
	}
}

func worktreeDeleteRun(cmd *cobra.Command, worktreeID string) error {
	ls, err := openLiveSession(cmd.Context())
	if err != nil {
		return err
	}
	defer ls.Close()

	if err := ls.client.DeleteWorktree(cmd.Context(), ls.workspaceID, worktreeID); err != nil {
		return err
	}
	ui.Success("worktree %s deletion requested", output.Cyan(worktreeID))
	return nil
}
