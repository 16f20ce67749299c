package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tetherlab/tether/internal/output"
	"github.com/tetherlab/tether/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui      *output.UI
	history *store.History

	verbose bool

	buildVersion string
	buildCommit  string
	buildDate    string
)

var rootCmd = &cobra.Command{
	Use:   "tether",
	Short: "Tether - stay synchronized with a shared agent workspace",
	Long: `tether keeps a local client consistent with a server-authoritative
agent workspace: conversation turns, token streams, filesystem
checkpoints, git worktrees, and multiplexed terminals, all over one
push channel.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/tether/config.yaml)")
	rootCmd.PersistentFlags().String("server", "", "Workspace server URL (overrides config)")
	rootCmd.PersistentFlags().String("workspace", "", "Workspace id (overrides config)")
	_ = viper.BindPFlag("server_url", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("workspace.default", rootCmd.PersistentFlags().Lookup("workspace"))
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "tether")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("TETHER")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "tether")

	viper.SetDefault("server_url", "http://localhost:7600")
	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "tether.db"))
	viper.SetDefault("workspace.default", "")
	viper.SetDefault("terminal.shell", "bash")
	viper.SetDefault("requests.cache_ttl", "30s")

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose

	// History db opens lazily — config/version commands run without it.
}

// getHistory returns the shared history cache, opening it on first call.
func getHistory() (*store.History, error) {
	if history != nil {
		return history, nil
	}

	dbPath := viper.GetString("db_path")
	h, err := store.OpenHistory(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := h.Migrate(rootCmd.Context()); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	history = h
	return history, nil
}

// requireWorkspace resolves the workspace id from flag/config.
func requireWorkspace() (string, error) {
	ws := viper.GetString("workspace.default")
	if ws == "" {
		return "", fmt.Errorf("no workspace selected: pass --workspace or set workspace.default in config")
	}
	return ws, nil
}
