package main

import (
	"github.com/spf13/cobra"

	"github.com/nvandessel/rulesim/internal/dagtree"
	"github.com/nvandessel/rulesim/internal/experiment"
)

// Flags left unset keep the configured value, so the defaults shown here are
// only placeholders.
func addModelFlags(cmd *cobra.Command) {
	cmd.Flags().String("topology", "", "Tree topology: star, path, ntree, layered")
	cmd.Flags().Int("items", 0, "Number of observable items")
	cmd.Flags().Int("max-degree", 0, "Maximum children per node (ntree, layered)")
	cmd.Flags().Int("layers", 0, "Maximum depth of layered growth")
	cmd.Flags().Float64("leaf-chance", 0, "Probability a layered child becomes a leaf")
	cmd.Flags().Bool("weighted", false, "Draw p10 and p11 per node (layered)")
	cmd.Flags().Float64("p10", 0, "P(child present | parent absent)")
	cmd.Flags().Float64("p11", 0, "P(child present | parent present)")
	cmd.Flags().Float64("root-p11", 0, "Root presence probability (star, path)")
	cmd.Flags().Uint64("seed", 0, "Random seed for the tree and every sample")
}

func addExperimentFlags(cmd *cobra.Command) {
	cmd.Flags().Int("reference", 0, "Reference corpus size")
	cmd.Flags().Int("sweep-min", 0, "Smallest sample size")
	cmd.Flags().Int("sweep-max", 0, "Largest sample size")
	cmd.Flags().Int("sweep-step", 0, "Sample size increment")
	cmd.Flags().Int("replications", 0, "Trials per sample size")
	cmd.Flags().Float64("min-support", 0, "Minimum itemset support")
	cmd.Flags().Float64("min-confidence", 0, "Minimum rule confidence")
	cmd.Flags().Int("workers", 0, "Concurrent trials (0 = GOMAXPROCS)")
}

func changed(cmd *cobra.Command, name string) bool {
	f := cmd.Flags().Lookup(name)
	return f != nil && f.Changed
}

func applyModelFlags(cmd *cobra.Command, p *dagtree.Params) error {
	flags := cmd.Flags()
	if changed(cmd, "topology") {
		v, _ := flags.GetString("topology")
		topology, err := dagtree.ParseTopology(v)
		if err != nil {
			return err
		}
		p.Topology = topology
	}
	if changed(cmd, "items") {
		p.Items, _ = flags.GetInt("items")
	}
	if changed(cmd, "max-degree") {
		p.MaxDegree, _ = flags.GetInt("max-degree")
	}
	if changed(cmd, "layers") {
		p.Layers, _ = flags.GetInt("layers")
	}
	if changed(cmd, "leaf-chance") {
		p.LeafChance, _ = flags.GetFloat64("leaf-chance")
	}
	if changed(cmd, "weighted") {
		p.Weighted, _ = flags.GetBool("weighted")
	}
	if changed(cmd, "p10") {
		p.P10, _ = flags.GetFloat64("p10")
	}
	if changed(cmd, "p11") {
		p.P11, _ = flags.GetFloat64("p11")
	}
	if changed(cmd, "root-p11") {
		p.RootP11, _ = flags.GetFloat64("root-p11")
	}
	return nil
}

// applyExperimentFlags also reads --seed, which addModelFlags registers.
func applyExperimentFlags(cmd *cobra.Command, c *experiment.Config) {
	flags := cmd.Flags()
	if changed(cmd, "seed") {
		c.Seed, _ = flags.GetUint64("seed")
	}
	if changed(cmd, "reference") {
		c.Reference, _ = flags.GetInt("reference")
	}
	if changed(cmd, "sweep-min") {
		c.Sweep.Min, _ = flags.GetInt("sweep-min")
	}
	if changed(cmd, "sweep-max") {
		c.Sweep.Max, _ = flags.GetInt("sweep-max")
	}
	if changed(cmd, "sweep-step") {
		c.Sweep.Step, _ = flags.GetInt("sweep-step")
	}
	if changed(cmd, "replications") {
		c.Replications, _ = flags.GetInt("replications")
	}
	if changed(cmd, "min-support") {
		c.MinSupport, _ = flags.GetFloat64("min-support")
	}
	if changed(cmd, "min-confidence") {
		c.MinConfidence, _ = flags.GetFloat64("min-confidence")
	}
	if changed(cmd, "workers") {
		c.Workers, _ = flags.GetInt("workers")
	}
}
