package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/nvandessel/rulesim/internal/config"
	"github.com/nvandessel/rulesim/internal/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rulesim",
		Short: "Association rule recovery simulator",
		Long: `rulesim measures how well association rule mining recovers the rules of a
known generative model as the number of observed transactions grows.

It builds a random tree of binary variables, mines the "true" rules from a
large reference corpus, then repeatedly mines small samples and reports
loss, precision and recall for each sample size.`,
		SilenceUsage: true,
	}

	addPersistentFlags(rootCmd)

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(),
		newTreeCmd(),
		newSampleCmd(),
		newRunCmd(),
		newRunsCmd(),
		newShowCmd(),
		newServeCmd(),
		newMCPServerCmd(),
	)

	return rootCmd
}

func addPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	cmd.PersistentFlags().String("config", "", "Config file (default ~/.rulesim/config.yaml)")
	cmd.PersistentFlags().String("log-level", "", "Log level: warn, info, debug, trace")
	cmd.PersistentFlags().String("store-dir", "", "Run store directory (default ~/.rulesim)")
}

// loadConfig resolves settings: defaults, then the config file, then
// RULESIM_* variables, then any flag the user set on cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if dir, _ := cmd.Flags().GetString("store-dir"); dir != "" {
		cfg.Store.Dir = dir
	}
	if err := applyModelFlags(cmd, &cfg.Model); err != nil {
		return nil, err
	}
	applyExperimentFlags(cmd, &cfg.Experiment)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	notifySignals(sigCh)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
