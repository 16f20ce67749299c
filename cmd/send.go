package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/tetherlab/tether/internal/client"
	"github.com/tetherlab/tether/internal/output"
	"github.com/tetherlab/tether/internal/store"
)

var sendAgent string

var sendCmd = &cobra.Command{
	Use:   "send <message...>",
	Short: "Send a message to an agent",
	Long: `Send a user message to an agent's conversation. The message shows
up immediately as pending and is confirmed by the server's echo.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendRun(cmd, strings.Join(args, " "))
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendAgent, "agent", "", "Target agent id (required)")
	_ = sendCmd.MarkFlagRequired("agent")
	rootCmd.AddCommand(sendCmd)
}

func sendRun(cmd *cobra.Command, content string) error {
	ls, err := openLiveSession(cmd.Context())
	if err != nil {
		return err
	}
	defer ls.Close()

	ctx := cmd.Context()

	// An agent without a conversation gets one created on the fly.
	var hasConversation bool
	ls.sessionView(func(sess *store.Session) {
		hasConversation = sess.ConversationForAgent(sendAgent) != nil
	})
	if !hasConversation {
		if _, err := ls.client.CreateConversation(ctx, ls.workspaceID, sendAgent); err != nil {
			return err
		}
	}

	tempID, err := ls.client.SendMessage(ctx, ls.workspaceID, sendAgent, content)
	if err != nil {
		if client.IsQuotaError(err) {
			ui.Warning("quota exhausted — upgrade your plan to keep sending messages")
			return nil
		}
		return err
	}

	ui.Success("sent to %s (%s)", output.Cyan(sendAgent), output.Dim(tempID))
	return nil
}
