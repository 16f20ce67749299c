package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tetherlab/tether/internal/output"
)

var (
	historyConversation string
	historyLimit        int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show locally cached conversation history",
	Long: `Show conversation messages from the local cache. Works offline:
the cache is written through as messages finalize while attached.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyRun(cmd)
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyConversation, "conversation", "", "Conversation id (required)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "Maximum messages to show")
	_ = historyCmd.MarkFlagRequired("conversation")
	rootCmd.AddCommand(historyCmd)
}

func historyRun(cmd *cobra.Command) error {
	h, err := getHistory()
	if err != nil {
		return err
	}

	messages, err := h.ListMessages(cmd.Context(), historyConversation, historyLimit)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		ui.Info("no cached messages for conversation %s", historyConversation)
		return nil
	}

	for _, m := range messages {
		stamp := ""
		if !m.CreatedAt.IsZero() {
			stamp = output.Dim(m.CreatedAt.Local().Format(time.Stamp)) + " "
		}
		fmt.Fprintf(ui.Out, "%s%s\n%s\n\n", stamp, output.RoleColor(string(m.Role)), m.Content)
	}
	return nil
}
