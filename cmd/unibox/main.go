package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/memohai/unibox/internal/config"
	"github.com/memohai/unibox/internal/version"
)

var configPath string

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "unibox",
		Short:         "Unified inbox server",
		Long:          "unibox resolves contacts across channels into single conversations and streams them to operators in real time.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env is optional; values already in the environment win.
			_ = godotenv.Load()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.toml (default $UNIBOX_CONFIG or config.toml)")

	root.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newTailCommand(),
		newSendCommand(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version info",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version.Banner())
			},
		},
	)
	return root
}

// resolveConfigPath prefers --config, then UNIBOX_CONFIG.
func resolveConfigPath() string {
	if path := strings.TrimSpace(configPath); path != "" {
		return path
	}
	if path := strings.TrimSpace(os.Getenv("UNIBOX_CONFIG")); path != "" {
		return path
	}
	return config.DefaultConfigPath
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
