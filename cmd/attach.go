package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tetherlab/tether/internal/models"
	"github.com/tetherlab/tether/internal/output"
	"github.com/tetherlab/tether/internal/store"
)

var attachAgent string

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Follow a workspace session live",
	Long: `Attach to the configured workspace and print conversation turns,
streaming tokens, checkpoints, and worktree changes as they arrive.
Press Ctrl-C to detach.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return attachRun(cmd)
	},
}

func init() {
	attachCmd.Flags().StringVar(&attachAgent, "agent", "", "Only show events for this agent")
	rootCmd.AddCommand(attachCmd)
}

func attachRun(cmd *cobra.Command) error {
	ls, err := openLiveSession(cmd.Context())
	if err != nil {
		return err
	}
	defer ls.Close()

	ui.Info("attached to workspace %s", output.Cyan(ls.workspaceID))

	cancel := ls.store.Watch(func(ch store.Change) {
		renderChange(ls, ch)
	})
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	ui.Info("detaching")
	return nil
}

func renderChange(ls *liveSession, ch store.Change) {
	switch ch.Kind {
	case store.ChangeMessage:
		ls.sessionView(func(sess *store.Session) {
			for _, conv := range sess.Conversations {
				if attachAgent != "" && conv.AgentID != attachAgent {
					continue
				}
				if m := conv.FindMessage(ch.EntityID); m != nil {
					printMessage(conv.AgentID, m)
					return
				}
			}
		})
	case store.ChangeStream:
		ls.sessionView(func(sess *store.Session) {
			if sm, ok := sess.Streams[ch.EntityID]; ok {
				if attachAgent != "" && sm.AgentID != attachAgent {
					return
				}
				// Overwrite the current line with accumulated content.
				fmt.Fprintf(ui.Out, "\r%s %s", output.Dim("…"), lastLine(sm.Content.String()))
			}
		})
	case store.ChangeCheckpoint:
		ls.sessionView(func(sess *store.Session) {
			if cp, ok := sess.Checkpoints[ch.EntityID]; ok {
				ui.Info("checkpoint #%d %s (%s, %d files)",
					cp.Number, output.StatusColor(string(cp.Status)), cp.ActionType, cp.FileCount)
			}
		})
	case store.ChangeWorktree:
		ls.sessionView(func(sess *store.Session) {
			if wt, ok := sess.Worktrees[ch.EntityID]; ok {
				ui.Info("worktree %s %s", output.Cyan(wt.Branch), output.StatusColor(string(wt.Status)))
			}
		})
	case store.ChangeWorkspace:
		ls.sessionView(func(sess *store.Session) {
			msg := fmt.Sprintf("workspace %s", output.StatusColor(string(sess.Workspace)))
			if sess.WorkspaceError != "" {
				msg += " " + output.Dim(sess.WorkspaceError)
			}
			ui.Info("%s", msg)
		})
	}
}

func printMessage(agentID string, m *models.AgentMessage) {
	stamp := ""
	if !m.CreatedAt.IsZero() {
		stamp = output.Dim(m.CreatedAt.Local().Format(time.Kitchen)) + " "
	}
	pending := ""
	if m.Provisional() {
		pending = output.Dim(" (pending)")
	}
	fmt.Fprintf(ui.Out, "\r%s%s %s [%s]%s\n%s\n",
		stamp, output.RoleColor(string(m.Role)), output.Cyan(agentID), m.ID, pending, m.Content)
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
