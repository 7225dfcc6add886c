package mcp

import (
	"context"
	"fmt"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/rulesim/internal/apriori"
	"github.com/nvandessel/rulesim/internal/dagtree"
	"github.com/nvandessel/rulesim/internal/experiment"
	"github.com/nvandessel/rulesim/internal/pathutil"
	"github.com/nvandessel/rulesim/internal/treefile"
	"github.com/nvandessel/rulesim/internal/visualization"
)

// Upper bounds on sizes a client can request.
const (
	maxSampleCount  = 100000
	maxItems        = 1000
	maxReference    = 1000000
	maxReplications = 1000
	maxTrials       = 100000
)

// registerTools registers all rulesim MCP tools with the server.
func (s *Server) registerTools() error {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "rulesim_generate_tree",
		Description: "Generate a random tree model and return its nodes (JSON) or Graphviz DOT source",
	}, s.handleGenerateTree)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "rulesim_sample",
		Description: "Draw basket transactions from a tree model",
	}, s.handleSample)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "rulesim_run",
		Description: "Run a rule recovery experiment: mine true rules from a reference corpus, then measure loss, precision and recall across a sweep of sample sizes",
	}, s.handleRun)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "rulesim_runs",
		Description: "List experiment runs saved in the store, newest first",
	}, s.handleRuns)

	return nil
}

// handleGenerateTree implements the rulesim_generate_tree tool.
func (s *Server) handleGenerateTree(ctx context.Context, req *sdk.CallToolRequest, args GenerateTreeInput) (*sdk.CallToolResult, GenerateTreeOutput, error) {
	if err := s.toolLimiters.Check("rulesim_generate_tree"); err != nil {
		return nil, GenerateTreeOutput{}, err
	}

	switch args.Format {
	case "", "json", "dot":
	default:
		return nil, GenerateTreeOutput{}, fmt.Errorf("invalid format %q (valid: json, dot)", args.Format)
	}

	p, cfg := s.resolve(args.Model)
	if err := checkModel(p); err != nil {
		return nil, GenerateTreeOutput{}, err
	}
	tree, err := s.modelTree(args.Model, experiment.NewDriver(apriori.New(), cfg), p)
	if err != nil {
		return nil, GenerateTreeOutput{}, err
	}

	out := GenerateTreeOutput{Tree: summarize(tree)}
	if args.SaveAs != "" {
		path, err := s.treePath(args.SaveAs)
		if err != nil {
			return nil, GenerateTreeOutput{}, err
		}
		if err := treefile.Write(path, tree); err != nil {
			return nil, GenerateTreeOutput{}, fmt.Errorf("failed to save tree: %w", err)
		}
		out.SavedAs = args.SaveAs
		s.logger.Debug("tree saved", "name", args.SaveAs, "path", path)
	}

	if args.Format == "dot" {
		out.DOT, err = visualization.RenderTreeDOT(tree)
	} else {
		out.Graph, err = visualization.RenderTreeJSON(tree)
	}
	if err != nil {
		return nil, GenerateTreeOutput{}, fmt.Errorf("failed to render tree: %w", err)
	}
	return nil, out, nil
}

// handleSample implements the rulesim_sample tool. The transactions are the
// first count transactions of the reference corpus rulesim_run would draw
// for the same model and seed.
func (s *Server) handleSample(ctx context.Context, req *sdk.CallToolRequest, args SampleInput) (*sdk.CallToolResult, SampleOutput, error) {
	if err := s.toolLimiters.Check("rulesim_sample"); err != nil {
		return nil, SampleOutput{}, err
	}

	if args.Count < 1 || args.Count > maxSampleCount {
		return nil, SampleOutput{}, fmt.Errorf("count must be between 1 and %d, got %d", maxSampleCount, args.Count)
	}
	p, cfg := s.resolve(args.Model)
	if err := checkModel(p); err != nil {
		return nil, SampleOutput{}, err
	}
	driver := experiment.NewDriver(apriori.New(), cfg)
	tree, err := s.modelTree(args.Model, driver, p)
	if err != nil {
		return nil, SampleOutput{}, err
	}
	txs, err := driver.Sample(tree, args.Count)
	if err != nil {
		return nil, SampleOutput{}, err
	}

	empty := 0
	for _, tx := range txs {
		if len(tx) == 0 {
			empty++
		}
	}
	return nil, SampleOutput{
		Tree:         summarize(tree),
		Transactions: txs,
		Count:        len(txs),
		Empty:        empty,
	}, nil
}

// handleRun implements the rulesim_run tool.
func (s *Server) handleRun(ctx context.Context, req *sdk.CallToolRequest, args RunInput) (*sdk.CallToolResult, RunOutput, error) {
	if err := s.toolLimiters.Check("rulesim_run"); err != nil {
		return nil, RunOutput{}, err
	}

	params, cfg := s.resolve(args.Model)
	if args.Reference > 0 {
		cfg.Reference = args.Reference
	}
	if args.SweepMin > 0 {
		cfg.Sweep.Min = args.SweepMin
	}
	if args.SweepMax > 0 {
		cfg.Sweep.Max = args.SweepMax
	}
	if args.SweepStep > 0 {
		cfg.Sweep.Step = args.SweepStep
	}
	if args.Replications > 0 {
		cfg.Replications = args.Replications
	}
	if args.MinSupport > 0 {
		cfg.MinSupport = args.MinSupport
	}
	if args.MinConfidence > 0 {
		cfg.MinConfidence = args.MinConfidence
	}

	if err := checkModel(params); err != nil {
		return nil, RunOutput{}, err
	}
	if err := checkExperiment(cfg); err != nil {
		return nil, RunOutput{}, err
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	driver := experiment.NewDriver(apriori.New(), cfg).WithLogger(s.logger)
	tree, err := s.modelTree(args.Model, driver, params)
	if err != nil {
		return nil, RunOutput{}, err
	}
	rep, err := driver.Run(ctx, tree)
	if err != nil {
		return nil, RunOutput{}, fmt.Errorf("experiment failed: %w", err)
	}

	saved := false
	if s.runs != nil && !args.NoSave {
		if err := s.runs.SaveReport(ctx, rep); err != nil {
			return nil, RunOutput{}, fmt.Errorf("failed to save run: %w", err)
		}
		saved = true
		if _, err := s.runs.Prune(ctx, s.cfg.Retention()); err != nil {
			s.logger.Warn("pruning old runs failed", "error", err)
		}
	}

	return nil, RunOutput{
		RunID:      rep.RunID,
		Saved:      saved,
		Tree:       summarize(rep.Tree),
		TrueRules:  len(rep.TrueRules),
		Points:     rep.Points,
		Loss:       rep.LossSummary(),
		Degenerate: rep.Degenerate,
	}, nil
}

// handleRuns implements the rulesim_runs tool.
func (s *Server) handleRuns(ctx context.Context, req *sdk.CallToolRequest, args RunsInput) (*sdk.CallToolResult, RunsOutput, error) {
	if err := s.toolLimiters.Check("rulesim_runs"); err != nil {
		return nil, RunsOutput{}, err
	}

	if s.runs == nil {
		return nil, RunsOutput{}, fmt.Errorf("run store is disabled")
	}
	if args.Limit < 0 {
		return nil, RunsOutput{}, fmt.Errorf("limit must be non-negative, got %d", args.Limit)
	}
	runs, err := s.runs.ListRuns(ctx, args.Limit)
	if err != nil {
		return nil, RunsOutput{}, fmt.Errorf("failed to list runs: %w", err)
	}
	return nil, RunsOutput{Runs: runs, Count: len(runs)}, nil
}

// resolve overlays in on the configured model and experiment settings.
func (s *Server) resolve(in ModelInput) (dagtree.Params, experiment.Config) {
	p := s.cfg.Model
	cfg := s.cfg.Experiment

	if in.Topology != "" {
		p.Topology = dagtree.Topology(in.Topology)
	}
	if in.Items > 0 {
		p.Items = in.Items
	}
	if in.MaxDegree > 0 {
		p.MaxDegree = in.MaxDegree
	}
	if in.Layers > 0 {
		p.Layers = in.Layers
	}
	if in.LeafChance > 0 {
		p.LeafChance = in.LeafChance
	}
	if in.Weighted != nil {
		p.Weighted = *in.Weighted
	}
	if in.P10 != nil {
		p.P10 = *in.P10
	}
	if in.P11 != nil {
		p.P11 = *in.P11
	}
	if in.RootP11 != nil {
		p.RootP11 = *in.RootP11
	}
	if in.Seed != nil {
		cfg.Seed = *in.Seed
	}
	return p, cfg
}

func checkModel(p dagtree.Params) error {
	if p.Items > maxItems {
		return fmt.Errorf("items must be at most %d, got %d", maxItems, p.Items)
	}
	return nil
}

func checkExperiment(cfg experiment.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("experiment failed: %w", err)
	}
	if cfg.Reference > maxReference {
		return fmt.Errorf("reference must be at most %d, got %d", maxReference, cfg.Reference)
	}
	if cfg.Replications > maxReplications {
		return fmt.Errorf("replications must be at most %d, got %d", maxReplications, cfg.Replications)
	}
	if trials := len(cfg.Sweep.Grid()) * cfg.Replications; trials > maxTrials {
		return fmt.Errorf("sweep of %d trials exceeds the limit of %d", trials, maxTrials)
	}
	return nil
}

// modelTree loads in.TreeFile when set and otherwise builds the tree
// rulesim_run would use for p.
func (s *Server) modelTree(in ModelInput, driver *experiment.Driver, p dagtree.Params) (*dagtree.Tree, error) {
	if in.TreeFile != "" {
		path, err := s.treePath(in.TreeFile)
		if err != nil {
			return nil, err
		}
		tree, err := treefile.Read(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load tree %q: %w", in.TreeFile, err)
		}
		return tree, nil
	}
	tree, err := driver.Build(p)
	if err != nil {
		return nil, fmt.Errorf("failed to generate tree: %w", err)
	}
	return tree, nil
}

// treePath maps a client-supplied tree name into the store's trees directory.
func (s *Server) treePath(name string) (string, error) {
	if s.cfg.Store.Disabled {
		return "", fmt.Errorf("run store is disabled")
	}
	dir, err := s.cfg.StoreDir()
	if err != nil {
		return "", err
	}
	return pathutil.TreePath(dir, name)
}

func summarize(t *dagtree.Tree) TreeSummary {
	return TreeSummary{
		Topology: string(t.Topology),
		Items:    t.Items,
		Nodes:    t.Len(),
		Depth:    t.Depth(),
	}
}
