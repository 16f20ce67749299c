package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tetherlab/tether/internal/client"
	"github.com/tetherlab/tether/internal/output"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List or expose workspace ports",
}

var portsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List exposed ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		return portsListRun(cmd)
	},
}

var portsExposeCmd = &cobra.Command{
	Use:   "expose <port>",
	Short: "Expose a workspace port publicly",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid port %q", args[0])
		}
		return portsExposeRun(cmd, port)
	},
}

func init() {
	portsCmd.AddCommand(portsListCmd)
	portsCmd.AddCommand(portsExposeCmd)
	rootCmd.AddCommand(portsCmd)
}

func portsListRun(cmd *cobra.Command) error {
	ls, err := openLiveSession(cmd.Context())
	if err != nil {
		return err
	}
	defer ls.Close()

	ports, err := ls.client.ListExposedPorts(cmd.Context(), ls.workspaceID)
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		ui.Info("no ports exposed")
		return nil
	}
	for _, p := range ports {
		fmt.Fprintf(ui.Out, "%d\n", p)
	}
	return nil
}

func portsExposeRun(cmd *cobra.Command, port int) error {
	ls, err := openLiveSession(cmd.Context())
	if err != nil {
		return err
	}
	defer ls.Close()

	url, err := ls.client.ExposePort(cmd.Context(), ls.workspaceID, port)
	if err != nil {
		if client.IsQuotaError(err) {
			ui.Warning("quota exhausted — upgrade your plan to expose more ports")
			return nil
		}
		return err
	}
	ui.Success("port %d exposed at %s", port, output.Cyan(url))
	return nil
}
