package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nvandessel/rulesim/internal/store"
	"github.com/nvandessel/rulesim/internal/visualization"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List saved runs",
		Long: `List experiment runs saved in the store, newest first.

Examples:
  rulesim runs
  rulesim runs --limit 5 --json
  rulesim runs delete 3f2a`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			runs, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer runs.Close()

			list, err := runs.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if jsonOut {
				if list == nil {
					list = []store.RunSummary{}
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"runs":  list,
					"count": len(list),
				})
			}

			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs saved yet. Start one with: rulesim run")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTARTED\tTOPOLOGY\tITEMS\tTRUE RULES\tDEGENERATE\tAVG LOSS")
			for _, r := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%.4f\n",
					shortID(r.ID), r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Topology,
					r.Items, r.TrueRules, r.Degenerate, r.Loss.Average)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Int("limit", 0, "Maximum runs to list (0 = all)")

	cmd.AddCommand(
		newRunsDeleteCmd(),
		newRunsPruneCmd(),
	)

	return cmd
}

func newRunsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a saved run",
		Long:  `Delete a saved run. The ID may be any unambiguous prefix.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			runs, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer runs.Close()

			id, err := runs.ResolveID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := runs.DeleteRun(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", id)
			return nil
		},
	}
}

func newRunsPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old runs",
		Long: `Delete runs outside the retention limits. Limits default to store.max_runs
and store.max_age_days from the configuration; flags override them.

Examples:
  rulesim runs prune --keep 10
  rulesim runs prune --max-age-days 30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if changed(cmd, "keep") {
				cfg.Store.MaxRuns, _ = cmd.Flags().GetInt("keep")
			}
			if changed(cmd, "max-age-days") {
				cfg.Store.MaxAgeDays, _ = cmd.Flags().GetInt("max-age-days")
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			policy := cfg.Retention()
			if policy == nil {
				return fmt.Errorf("no retention limit set (use --keep or --max-age-days)")
			}

			runs, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer runs.Close()

			removed, err := runs.Prune(cmd.Context(), policy)
			if err != nil {
				return err
			}

			if jsonOut {
				if removed == nil {
					removed = []string{}
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"removed": removed,
					"count":   len(removed),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d run(s)\n", len(removed))
			return nil
		},
	}
	cmd.Flags().Int("keep", 0, "Keep only the newest N runs")
	cmd.Flags().Int("max-age-days", 0, "Delete runs older than this many days")
	return cmd
}

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a saved run",
		Long: `Show the accuracy curve of a saved run, or the tree it was measured on.
The ID may be any unambiguous prefix.

Examples:
  rulesim show 3f2a
  rulesim show 3f2a --format csv > curve.csv
  rulesim show 3f2a --format dot | dot -Tsvg > tree.svg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			format, _ := cmd.Flags().GetString("format")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			runs, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer runs.Close()

			rep, err := runs.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if jsonOut {
				return writeReportJSON(cmd.OutOrStdout(), rep)
			}
			switch format {
			case "dot":
				return renderTree(cmd.OutOrStdout(), rep.Tree, string(visualization.FormatDOT))
			default:
				return writeReport(cmd.OutOrStdout(), rep, format)
			}
		},
	}
	cmd.Flags().String("format", "table", "Output format: table, csv or dot")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
