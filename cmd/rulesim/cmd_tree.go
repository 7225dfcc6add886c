package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nvandessel/rulesim/internal/apriori"
	"github.com/nvandessel/rulesim/internal/config"
	"github.com/nvandessel/rulesim/internal/dagtree"
	"github.com/nvandessel/rulesim/internal/experiment"
	"github.com/nvandessel/rulesim/internal/treefile"
	"github.com/nvandessel/rulesim/internal/visualization"
)

func newTreeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Generate, render and save tree models",
		Long: `Work with the tree models transactions are sampled from.

The tree is built from the model settings and --seed, so the same settings
always produce the same tree. Saved trees can be passed to sample and run
with --tree.

Examples:
  rulesim tree generate --topology star --items 4      # DOT to stdout
  rulesim tree generate --format json                  # Nodes as JSON
  rulesim tree save model.tree --seed 7                # Persist a tree
  rulesim tree render model.tree | dot -Tpng > t.png   # Render a saved tree`,
	}

	cmd.AddCommand(
		newTreeGenerateCmd(),
		newTreeSaveCmd(),
		newTreeRenderCmd(),
	)

	return cmd
}

func newTreeGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a tree and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			tree, err := buildTree(cfg)
			if err != nil {
				return err
			}
			return renderTree(cmd.OutOrStdout(), tree, format)
		},
	}
	addModelFlags(cmd)
	cmd.Flags().String("format", string(visualization.FormatDOT), "Output format: dot or json")
	return cmd
}

func newTreeSaveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save <file>",
		Short: "Generate a tree and save it to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			tree, err := buildTree(cfg)
			if err != nil {
				return err
			}
			if err := treefile.Write(args[0], tree); err != nil {
				return fmt.Errorf("failed to save tree: %w", err)
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"path":     args[0],
					"topology": tree.Topology,
					"items":    tree.Items,
					"nodes":    tree.Len(),
					"depth":    tree.Depth(),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s tree (%d items, %d nodes, depth %d) to %s\n",
				tree.Topology, tree.Items, tree.Len(), tree.Depth(), args[0])
			return nil
		},
	}
	addModelFlags(cmd)
	return cmd
}

func newTreeRenderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render <file>",
		Short: "Render a saved tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")

			tree, err := treefile.Read(args[0])
			if err != nil {
				return fmt.Errorf("failed to read tree: %w", err)
			}
			return renderTree(cmd.OutOrStdout(), tree, format)
		},
	}
	cmd.Flags().String("format", string(visualization.FormatDOT), "Output format: dot or json")
	return cmd
}

// buildTree generates the tree a run with cfg would use.
func buildTree(cfg *config.Config) (*dagtree.Tree, error) {
	tree, err := experiment.NewDriver(apriori.New(), cfg.Experiment).Build(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to generate tree: %w", err)
	}
	return tree, nil
}

// loadOrBuildTree reads path when set and otherwise generates from cfg.
func loadOrBuildTree(cfg *config.Config, path string) (*dagtree.Tree, error) {
	if path == "" {
		return buildTree(cfg)
	}
	tree, err := treefile.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tree: %w", err)
	}
	return tree, nil
}

func renderTree(w io.Writer, tree *dagtree.Tree, format string) error {
	switch visualization.Format(format) {
	case visualization.FormatDOT:
		out, err := visualization.RenderTreeDOT(tree)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, out)
		return err
	case visualization.FormatJSON:
		out, err := visualization.RenderTreeJSON(tree)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	default:
		return fmt.Errorf("unsupported format %q (valid: dot, json)", format)
	}
}
