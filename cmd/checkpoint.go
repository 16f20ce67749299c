package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tetherlab/tether/internal/output"
	"github.com/tetherlab/tether/internal/store"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "List or restore checkpoints",
}

var checkpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the session's checkpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkpointListRun(cmd)
	},
}

var checkpointRestoreCmd = &cobra.Command{
	Use:   "restore <checkpoint-id>",
	Short: "Restore the workspace to a checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkpointRestoreRun(cmd, args[0])
	},
}

func init() {
	checkpointCmd.AddCommand(checkpointListCmd)
	checkpointCmd.AddCommand(checkpointRestoreCmd)
	rootCmd.AddCommand(checkpointCmd)
}

func checkpointListRun(cmd *cobra.Command) error {
	ls, err := openLiveSession(cmd.Context())
	if err != nil {
		return err
	}
	defer ls.Close()

	waitForSync(ls, 3*time.Second)

	count := 0
	ls.sessionView(func(sess *store.Session) {
		checkpoints := sess.SortedCheckpoints()
		count = len(checkpoints)
		if count == 0 {
			return
		}
		table := ui.Table([]string{"#", "ID", "STATUS", "AGENT", "ACTION", "FILES", "+/-", "CREATED"})
		for _, cp := range checkpoints {
			created := ""
			if !cp.CreatedAt.IsZero() {
				created = cp.CreatedAt.Local().Format("Jan 2 15:04")
			}
			_ = table.Append([]string{
				fmt.Sprintf("%d", cp.Number),
				cp.ID,
				output.StatusColor(string(cp.Status)),
				cp.AgentID,
				cp.ActionType,
				fmt.Sprintf("%d", cp.FileCount),
				fmt.Sprintf("+%d/-%d", cp.TotalLinesAdded, cp.TotalLinesRemoved),
				created,
			})
		}
		_ = table.Render()
	})

	if count == 0 {
		ui.Info("no checkpoints yet")
	}
	return nil
}

func checkpointRestoreRun(cmd *cobra.Command, checkpointID string) error {
	ls, err := openLiveSession(cmd.Context())
	if err != nil {
		return err
	}
	defer ls.Close()

	waitForSync(ls, 3*time.Second)

	var busy bool
	ls.sessionView(func(sess *store.Session) {
		busy = sess.Op.Kind != store.OpIdle
	})
	if busy {
		return fmt.Errorf("another operation is already in flight")
	}

	if err := ls.client.RestoreCheckpoint(cmd.Context(), ls.workspaceID, checkpointID); err != nil {
		return err
	}
	ui.Info("restore of %s started", output.Cyan(checkpointID))

	// Wait for the completion event to clear the pointer.
	deadline := time.After(60 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		var done bool
		ls.sessionView(func(sess *store.Session) {
			done = sess.Op.Kind == store.OpIdle
		})
		if done {
			ui.Success("checkpoint %s restored", output.Cyan(checkpointID))
			return nil
		}
		select {
		case <-deadline:
			ui.Warning("restore still running; check 'tether status' later")
			return nil
		case <-tick.C:
		}
	}
}
