package cmd

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tetherlab/tether/internal/output"
	"github.com/tetherlab/tether/internal/store"
)

var (
	termShell string
	termTab   string
)

var termCmd = &cobra.Command{
	Use:   "term",
	Short: "Open an interactive terminal tab in the workspace",
	Long: `Open a shell tab in the remote workspace. Input is read line by line
from stdin; output streams inline. Type 'exit' (or close stdin) to
detach, ':reconnect' to retry a wedged tab.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return termRun(cmd)
	},
}

func init() {
	termCmd.Flags().StringVar(&termShell, "shell", "", "Shell to launch (default from config)")
	termCmd.Flags().StringVar(&termTab, "tab", "", "Tab id (default generated)")
	rootCmd.AddCommand(termCmd)
}

func termRun(cmd *cobra.Command) error {
	ls, err := openLiveSession(cmd.Context())
	if err != nil {
		return err
	}
	defer ls.Close()

	shell := termShell
	if shell == "" {
		shell = viper.GetString("terminal.shell")
	}
	tabID := termTab
	if tabID == "" {
		tabID = "tab-" + store.NewULID()
	}

	ctx := cmd.Context()
	if err := ls.mux.Open(ctx, tabID, shell, ui.Out); err != nil {
		return err
	}

	// Resize only after the server acknowledges the attach.
	for i := 0; i < 100 && !ls.mux.Ready(tabID); i++ {
		time.Sleep(50 * time.Millisecond)
	}
	if !ls.mux.Ready(tabID) {
		ui.Warning("no ready acknowledgment yet; the tab may still be starting")
	} else if err := ls.mux.Resize(ctx, tabID, 40, 120); err != nil {
		ui.VerboseLog("resize failed: %v", err)
	}

	ui.Info("terminal %s (%s) — 'exit' to detach", output.Cyan(tabID), shell)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		switch line {
		case "exit":
			return ls.mux.Close(ctx, tabID)
		case ":reconnect":
			if err := ls.mux.Reconnect(ctx, tabID); err != nil {
				ui.Error("reconnect failed: %v", err)
			}
			continue
		}
		if err := ls.mux.Input(ctx, tabID, []byte(line+"\n")); err != nil {
			return fmt.Errorf("send input: %w", err)
		}
	}
	return ls.mux.Close(ctx, tabID)
}
