package experiment

import (
	"slices"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/nvandessel/rulesim/internal/dagtree"
	"github.com/nvandessel/rulesim/internal/rules"
)

// CurvePoint aggregates the trials of one grid point.
type CurvePoint struct {
	T               int     `json:"t"`
	MedianLoss      float64 `json:"median_loss"`
	MedianLossRate  float64 `json:"median_loss_rate"`
	MedianPrecision float64 `json:"median_precision"`
	MedianRecall    float64 `json:"median_recall"`

	// MeanLossRate and StdLossRate describe the spread of the per-trial loss
	// rate |truth ∆ sample| / t.
	MeanLossRate float64 `json:"mean_loss_rate"`
	StdLossRate  float64 `json:"std_loss_rate"`

	// Degenerate counts trials whose batch yielded no rules.
	Degenerate int `json:"degenerate"`
}

// Report is the outcome of one experiment.
type Report struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Config     Config         `json:"config"`
	Tree       *dagtree.Tree  `json:"tree"`
	TrueRules  []rules.Record `json:"true_rules"`
	Points     []CurvePoint   `json:"points"`

	// Degenerate is the number of trials across the sweep that yielded no rules.
	Degenerate int `json:"degenerate"`
}

// Curves returns the result curves indexed by transaction count.
func (r *Report) Curves() (t, loss, precision, recall []float64) {
	for _, p := range r.Points {
		t = append(t, float64(p.T))
		loss = append(loss, p.MedianLoss)
		precision = append(precision, p.MedianPrecision)
		recall = append(recall, p.MedianRecall)
	}
	return t, loss, precision, recall
}

// LossSummary condenses the mean loss-rate curve.
type LossSummary struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Average float64 `json:"average"`
}

// LossSummary returns the minimum, maximum and average of the mean loss rate
// across grid points.
func (r *Report) LossSummary() LossSummary {
	if len(r.Points) == 0 {
		return LossSummary{}
	}
	rates := make([]float64, len(r.Points))
	for i, p := range r.Points {
		rates[i] = p.MeanLossRate
	}
	return LossSummary{
		Min:     floats.Min(rates),
		Max:     floats.Max(rates),
		Average: stat.Mean(rates, nil),
	}
}

func aggregate(t int, trials []Trial) CurvePoint {
	n := len(trials)
	loss := make([]float64, n)
	rate := make([]float64, n)
	precision := make([]float64, n)
	recall := make([]float64, n)
	degenerate := 0
	for i, tr := range trials {
		loss[i] = float64(tr.Accuracy.Loss)
		rate[i] = tr.Accuracy.LossRate(t)
		precision[i] = tr.Accuracy.Precision
		recall[i] = tr.Accuracy.Recall
		if tr.Degenerate {
			degenerate++
		}
	}

	p := CurvePoint{
		T:               t,
		MedianLoss:      median(loss),
		MedianLossRate:  median(rate),
		MedianPrecision: median(precision),
		MedianRecall:    median(recall),
		Degenerate:      degenerate,
	}
	if n > 0 {
		p.MeanLossRate = stat.Mean(rate, nil)
	}
	if n > 1 {
		p.StdLossRate = stat.StdDev(rate, nil)
	}
	return p
}

// median averages the two middle values for even-length input.
func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := slices.Clone(xs)
	slices.Sort(s)
	m := len(s) / 2
	if len(s)%2 == 1 {
		return s[m]
	}
	return (s[m-1] + s[m]) / 2
}
