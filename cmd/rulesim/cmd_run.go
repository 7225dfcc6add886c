package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nvandessel/rulesim/internal/apriori"
	"github.com/nvandessel/rulesim/internal/config"
	"github.com/nvandessel/rulesim/internal/experiment"
	"github.com/nvandessel/rulesim/internal/logging"
	"github.com/nvandessel/rulesim/internal/store"
	"github.com/nvandessel/rulesim/internal/visualization"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a rule recovery experiment",
		Long: `Mine the true rules from a large reference corpus, then mine many small
samples at each size of the sweep and report how many true rules each
sample misses, with median precision and recall per size.

The run is saved to the store (~/.rulesim/rulesim.db) unless --no-save is
given or store.disabled is set. At log level debug every trial is traced to
trials.jsonl in the store directory.

Examples:
  rulesim run                                          # Reference study settings
  rulesim run --topology star --items 4 --replications 20
  rulesim run --tree model.tree --format csv > curve.csv
  rulesim run --seed 9 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			format, _ := cmd.Flags().GetString("format")
			treePath, _ := cmd.Flags().GetString("tree")
			noSave, _ := cmd.Flags().GetBool("no-save")

			if format != "table" && format != "csv" {
				return fmt.Errorf("unsupported format %q (valid: table, csv)", format)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)

			tree, err := loadOrBuildTree(cfg, treePath)
			if err != nil {
				return err
			}

			dir, err := cfg.StoreDir()
			if err != nil {
				return err
			}
			trials := logging.NewTrialLogger(dir, cfg.Logging.Level)
			defer trials.Close()
			driver := experiment.NewDriver(apriori.New(), cfg.Experiment).
				WithLogger(logger).
				WithTrialLogger(trials)

			var runs *store.RunStore
			if !noSave && !cfg.Store.Disabled {
				if runs, err = openStore(cfg); err != nil {
					return err
				}
				defer runs.Close()
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			rep, err := driver.Run(ctx, tree)
			if err != nil {
				return fmt.Errorf("experiment failed: %w", err)
			}

			if runs != nil {
				if err := runs.SaveReport(ctx, rep); err != nil {
					return fmt.Errorf("failed to save run: %w", err)
				}
				logger.Info("run saved", "run_id", rep.RunID, "path", runs.Path())

				removed, err := runs.Prune(ctx, cfg.Retention())
				if err != nil {
					logger.Warn("pruning old runs failed", "error", err)
				} else if len(removed) > 0 {
					logger.Info("pruned old runs", "count", len(removed))
				}
			}

			if jsonOut {
				return writeReportJSON(cmd.OutOrStdout(), rep)
			}
			return writeReport(cmd.OutOrStdout(), rep, format)
		},
	}
	addModelFlags(cmd)
	addExperimentFlags(cmd)
	cmd.Flags().String("tree", "", "Run on a saved tree instead of generating one")
	cmd.Flags().String("format", "table", "Output format: table or csv")
	cmd.Flags().Bool("no-save", false, "Do not save the run to the store")
	return cmd
}

func writeReport(w io.Writer, rep *experiment.Report, format string) error {
	switch format {
	case "table":
		fmt.Fprintf(w, "Run %s: %s tree, %d items, %d nodes, %d true rules\n\n",
			rep.RunID, rep.Tree.Topology, rep.Tree.Items, rep.Tree.Len(), len(rep.TrueRules))
		return visualization.RenderCurveTable(w, rep)
	case "csv":
		return visualization.RenderCurveCSV(w, rep.Points)
	default:
		return fmt.Errorf("unsupported format %q (valid: table, csv)", format)
	}
}

func writeReportJSON(w io.Writer, rep *experiment.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// openStore opens the configured run store for the read-side commands.
func openStore(cfg *config.Config) (*store.RunStore, error) {
	dir, err := cfg.StoreDir()
	if err != nil {
		return nil, err
	}
	runs, err := store.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	return runs, nil
}
