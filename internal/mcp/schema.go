package mcp

import (
	"github.com/nvandessel/rulesim/internal/experiment"
	"github.com/nvandessel/rulesim/internal/store"
)

// ModelInput overrides the configured tree model. Zero values keep the
// configured setting.
type ModelInput struct {
	Topology   string   `json:"topology,omitempty" jsonschema:"Tree topology: star, path, ntree or layered"`
	Items      int      `json:"items,omitempty" jsonschema:"Number of observable items (leaves)"`
	MaxDegree  int      `json:"max_degree,omitempty" jsonschema:"Maximum children per node (ntree, layered)"`
	Layers     int      `json:"layers,omitempty" jsonschema:"Maximum depth of layered growth"`
	LeafChance float64  `json:"leaf_chance,omitempty" jsonschema:"Probability a layered child becomes a leaf"`
	Weighted   *bool    `json:"weighted,omitempty" jsonschema:"Draw p10 and p11 independently per node (layered)"`
	P10        *float64 `json:"p10,omitempty" jsonschema:"P(child present | parent absent)"`
	P11        *float64 `json:"p11,omitempty" jsonschema:"P(child present | parent present)"`
	RootP11    *float64 `json:"root_p11,omitempty" jsonschema:"Root presence probability (star, path)"`
	Seed       *uint64  `json:"seed,omitempty" jsonschema:"Random seed; the same seed always yields the same tree"`
	TreeFile   string   `json:"tree_file,omitempty" jsonschema:"Name of a tree saved with rulesim_generate_tree; replaces the generated tree"`
}

// GenerateTreeInput defines the input for rulesim_generate_tree tool.
type GenerateTreeInput struct {
	Model  ModelInput `json:"model,omitempty" jsonschema:"Tree model overrides"`
	Format string     `json:"format,omitempty" jsonschema:"Output format: json (default) or dot"`
	SaveAs string     `json:"save_as,omitempty" jsonschema:"Save the tree under this name in the store's trees directory"`
}

// TreeSummary describes a generated tree.
type TreeSummary struct {
	Topology string `json:"topology" jsonschema:"Tree topology"`
	Items    int    `json:"items" jsonschema:"Number of observable items"`
	Nodes    int    `json:"nodes" jsonschema:"Total node count including hidden nodes"`
	Depth    int    `json:"depth" jsonschema:"Length of the longest root-to-leaf path"`
}

// GenerateTreeOutput defines the output for rulesim_generate_tree tool.
type GenerateTreeOutput struct {
	Tree    TreeSummary    `json:"tree" jsonschema:"Tree summary"`
	Graph   map[string]any `json:"graph,omitempty" jsonschema:"Nodes and edges (json format)"`
	DOT     string         `json:"dot,omitempty" jsonschema:"Graphviz source (dot format)"`
	SavedAs string         `json:"saved_as,omitempty" jsonschema:"Name to pass as tree_file to reuse the saved tree"`
}

// SampleInput defines the input for rulesim_sample tool.
type SampleInput struct {
	Model ModelInput `json:"model,omitempty" jsonschema:"Tree model overrides"`
	Count int        `json:"count" jsonschema:"Number of transactions to draw"`
}

// SampleOutput defines the output for rulesim_sample tool.
type SampleOutput struct {
	Tree         TreeSummary `json:"tree" jsonschema:"Tree the transactions were drawn from"`
	Transactions [][]int     `json:"transactions" jsonschema:"Sampled transactions; each lists the present items in ascending order"`
	Count        int         `json:"count" jsonschema:"Number of transactions"`
	Empty        int         `json:"empty" jsonschema:"Number of transactions with no items"`
}

// RunInput defines the input for rulesim_run tool.
type RunInput struct {
	Model         ModelInput `json:"model,omitempty" jsonschema:"Tree model overrides"`
	Reference     int        `json:"reference,omitempty" jsonschema:"Size of the reference corpus the true rules are mined from"`
	SweepMin      int        `json:"sweep_min,omitempty" jsonschema:"Smallest transaction count in the sweep"`
	SweepMax      int        `json:"sweep_max,omitempty" jsonschema:"Largest transaction count in the sweep"`
	SweepStep     int        `json:"sweep_step,omitempty" jsonschema:"Sweep increment"`
	Replications  int        `json:"replications,omitempty" jsonschema:"Trials per sweep point"`
	MinSupport    float64    `json:"min_support,omitempty" jsonschema:"Minimum itemset support"`
	MinConfidence float64    `json:"min_confidence,omitempty" jsonschema:"Minimum rule confidence"`
	NoSave        bool       `json:"no_save,omitempty" jsonschema:"Skip saving the run to the store"`
}

// RunOutput defines the output for rulesim_run tool.
type RunOutput struct {
	RunID      string                  `json:"run_id" jsonschema:"Identifier of the run"`
	Saved      bool                    `json:"saved" jsonschema:"Whether the run was written to the store"`
	Tree       TreeSummary             `json:"tree" jsonschema:"Tree the run sampled from"`
	TrueRules  int                     `json:"true_rules" jsonschema:"Rules mined from the reference corpus"`
	Points     []experiment.CurvePoint `json:"points" jsonschema:"Accuracy at each sweep point"`
	Loss       experiment.LossSummary  `json:"loss" jsonschema:"Min, max and average of the mean loss rate"`
	Degenerate int                     `json:"degenerate" jsonschema:"Trials whose batch produced no rules"`
}

// RunsInput defines the input for rulesim_runs tool.
type RunsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum runs to return, newest first (default: all)"`
}

// RunsOutput defines the output for rulesim_runs tool.
type RunsOutput struct {
	Runs  []store.RunSummary `json:"runs" jsonschema:"Stored runs, newest first"`
	Count int                `json:"count" jsonschema:"Number of runs returned"`
}
