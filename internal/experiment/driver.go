package experiment

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/rulesim/internal/dagtree"
	"github.com/nvandessel/rulesim/internal/logging"
	"github.com/nvandessel/rulesim/internal/rules"
	"github.com/nvandessel/rulesim/internal/sampler"
)

// Random stream identifiers. Trial streams are (grid index+1)<<32 | trial.
const (
	referenceStream uint64 = 0
	treeStream      uint64 = 1 << 63
)

// Trial is the outcome of mining one fresh batch of transactions.
type Trial struct {
	T          int            `json:"t"`
	Index      int            `json:"index"`
	Accuracy   rules.Accuracy `json:"accuracy"`
	Rules      int            `json:"rules"`
	Degenerate bool           `json:"degenerate"`
}

// Driver runs experiments against a miner.
type Driver struct {
	miner  rules.Miner
	cfg    Config
	logger *slog.Logger
	trials *logging.TrialLogger
	newID  func() string
}

// NewDriver creates a Driver. Logging is off until WithLogger is called.
func NewDriver(miner rules.Miner, cfg Config) *Driver {
	return &Driver{
		miner:  miner,
		cfg:    cfg,
		logger: logging.Discard(),
		newID:  uuid.NewString,
	}
}

// WithLogger sets the progress logger.
func (d *Driver) WithLogger(l *slog.Logger) *Driver {
	if l != nil {
		d.logger = l
	}
	return d
}

// WithTrialLogger sets the per-trial JSONL trace. A nil logger disables it.
func (d *Driver) WithTrialLogger(tl *logging.TrialLogger) *Driver {
	d.trials = tl
	return d
}

// Config returns the driver's configuration.
func (d *Driver) Config() Config {
	return d.cfg
}

// Build generates the model for a run from the run's seed.
func (d *Driver) Build(p dagtree.Params) (*dagtree.Tree, error) {
	return dagtree.Generate(p, rand.New(rand.NewPCG(d.cfg.Seed, treeStream)))
}

// Sample draws the first count transactions of the reference corpus Run
// would draw from tree.
func (d *Driver) Sample(tree *dagtree.Tree, count int) ([][]int, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: transaction count must be non-negative, got %d", ErrInvalidArgument, count)
	}
	s, err := sampler.New(tree)
	if err != nil {
		return nil, err
	}
	return s.Generate(count, rand.New(rand.NewPCG(d.cfg.Seed, referenceStream))), nil
}

// RunModel builds a tree from p and runs the experiment on it.
func (d *Driver) RunModel(ctx context.Context, p dagtree.Params) (*Report, error) {
	if err := d.cfg.Validate(); err != nil {
		return nil, err
	}
	tree, err := d.Build(p)
	if err != nil {
		return nil, err
	}
	return d.Run(ctx, tree)
}

// Run mines the true rules from a reference corpus drawn from tree, then
// sweeps the transaction grid. Each grid point is aggregated only after all
// of its trials have completed.
func (d *Driver) Run(ctx context.Context, tree *dagtree.Tree) (*Report, error) {
	if err := d.cfg.Validate(); err != nil {
		return nil, err
	}
	s, err := sampler.New(tree)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		RunID:     d.newID(),
		StartedAt: time.Now().UTC(),
		Config:    d.cfg,
		Tree:      tree,
	}
	log := d.logger.With("run_id", rep.RunID)
	log.Info("experiment started",
		"topology", tree.Topology, "items", tree.Items, "nodes", tree.Len(),
		"reference", d.cfg.Reference, "replications", d.cfg.Replications)

	refRng := rand.New(rand.NewPCG(d.cfg.Seed, referenceStream))
	reference := s.Generate(d.cfg.Reference, refRng)
	records, degenerate, err := d.mine(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("mining reference corpus: %w", err)
	}
	if degenerate {
		log.Warn("reference corpus produced no rules; precision and recall will be zero")
	}
	rep.TrueRules = records
	truth := rules.NewSet(records)
	log.Info("reference mined", "true_rules", len(truth))

	for gi, t := range d.cfg.Sweep.Grid() {
		trials, err := d.runPoint(ctx, s, truth, rep.RunID, gi, t)
		if err != nil {
			return nil, err
		}
		p := aggregate(t, trials)
		rep.Points = append(rep.Points, p)
		rep.Degenerate += p.Degenerate
		log.Debug("sweep point",
			"t", t, "median_loss", p.MedianLoss, "median_precision", p.MedianPrecision,
			"median_recall", p.MedianRecall, "degenerate", p.Degenerate)
	}

	rep.FinishedAt = time.Now().UTC()
	summary := rep.LossSummary()
	log.Info("experiment finished",
		"points", len(rep.Points), "degenerate", rep.Degenerate, "min_loss", summary.Min, "max_loss", summary.Max,
		"average_loss", summary.Average, "elapsed", rep.FinishedAt.Sub(rep.StartedAt))
	return rep, nil
}

// runPoint executes every trial of one grid point on a bounded worker pool.
// Each trial owns a random source derived from (seed, grid index, trial), so
// results do not depend on scheduling or worker count.
func (d *Driver) runPoint(ctx context.Context, s *sampler.Sampler, truth rules.Set, runID string, gi, t int) ([]Trial, error) {
	trials := make([]Trial, d.cfg.Replications)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.workers())
	for i := range trials {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(d.cfg.Seed, uint64(gi+1)<<32|uint64(i)))
			records, degenerate, err := d.mine(gctx, s.Generate(t, rng))
			if err != nil {
				return err
			}
			sample := rules.NewSet(records)
			trials[i] = Trial{
				T:          t,
				Index:      i,
				Accuracy:   rules.Evaluate(truth, sample),
				Rules:      len(sample),
				Degenerate: degenerate,
			}
			d.traceTrial(runID, trials[i], sample)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return trials, nil
}

// mine runs the miner and flattens its output. Any miner failure other than
// cancellation is folded into an empty, degenerate result.
func (d *Driver) mine(ctx context.Context, txs [][]int) ([]rules.Record, bool, error) {
	mined, err := d.miner.Mine(ctx, txs, d.cfg.MinSupport, d.cfg.MinConfidence)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, ctxErr
		}
		d.logger.Debug("mining degenerate", "transactions", len(txs), "error", err)
		return nil, true, nil
	}
	records := rules.Flatten(mined)
	return records, len(records) == 0, nil
}

func (d *Driver) traceTrial(runID string, tr Trial, sample rules.Set) {
	if d.trials == nil {
		return
	}
	event := map[string]any{
		"run_id":     runID,
		"t":          tr.T,
		"trial":      tr.Index,
		"loss":       tr.Accuracy.Loss,
		"precision":  tr.Accuracy.Precision,
		"recall":     tr.Accuracy.Recall,
		"rules":      tr.Rules,
		"degenerate": tr.Degenerate,
	}
	if d.trials.Verbose() {
		keys := make([]string, 0, len(sample))
		for _, r := range sample.Sorted() {
			keys = append(keys, r.String())
		}
		event["mined"] = keys
	}
	d.trials.Log(event)
}
