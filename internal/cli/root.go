package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the shopassist command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "shopassist",
		Short: "Conversational shopping assistant",
		Long: `shopassist runs a sales agent and a support agent over a product catalog.
Without GEMINI_API_KEY the agents run on an offline keyword completer.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("env-file", ".env", "Environment file to load before reading configuration")

	root.AddCommand(newChatCommand(), newServeCommand(), newDemoCommand())
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads configuration, initialises logging and wires the assistant.
func setup(cmd *cobra.Command) (AppConfig, *App, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := LoadConfig(envFile)
	if err != nil {
		return cfg, nil, err
	}
	if cmd.Flags().Lookup("store") != nil && cmd.Flags().Changed("store") {
		cfg.StoreBackend, _ = cmd.Flags().GetString("store")
	}
	initLogger(cfg)

	app, err := Bootstrap(cmd.Context(), cfg)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, app, nil
}
