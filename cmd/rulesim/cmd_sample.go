package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvandessel/rulesim/internal/apriori"
	"github.com/nvandessel/rulesim/internal/experiment"
	"github.com/nvandessel/rulesim/internal/sampler"
)

func newSampleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Draw transactions from a tree model",
		Long: `Draw transactions from a tree model in basket format: one transaction
per line, present items separated by spaces, empty lines for empty
transactions.

The transactions are the start of the reference corpus "rulesim run" would
draw with the same settings.

Examples:
  rulesim sample --count 1000 > baskets.txt
  rulesim sample --tree model.tree --count 50 --seed 3
  rulesim sample --count 10 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			count, _ := cmd.Flags().GetInt("count")
			treePath, _ := cmd.Flags().GetString("tree")
			output, _ := cmd.Flags().GetString("output")

			if count < 1 {
				return fmt.Errorf("--count must be positive, got %d", count)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			tree, err := loadOrBuildTree(cfg, treePath)
			if err != nil {
				return err
			}
			txs, err := experiment.NewDriver(apriori.New(), cfg.Experiment).Sample(tree, count)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				w = f
			}

			if jsonOut {
				return json.NewEncoder(w).Encode(map[string]interface{}{
					"items":        tree.Items,
					"count":        len(txs),
					"transactions": txs,
				})
			}
			if err := sampler.WriteBasket(w, txs); err != nil {
				return fmt.Errorf("failed to write transactions: %w", err)
			}
			if output != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d transactions to %s\n", len(txs), output)
			}
			return nil
		},
	}
	addModelFlags(cmd)
	cmd.Flags().Int("count", 100, "Number of transactions to draw")
	cmd.Flags().String("tree", "", "Sample from a saved tree instead of generating one")
	cmd.Flags().StringP("output", "o", "", "Write transactions to a file instead of stdout")
	return cmd
}
