// Package experiment measures how well a rule miner recovers a tree model's
// true association rules as the number of observed transactions grows.
package experiment

import (
	"fmt"
	"runtime"

	"github.com/nvandessel/rulesim/internal/dagtree"
)

// ErrInvalidArgument reports an unusable experiment configuration. It is the
// same sentinel the tree generators return.
var ErrInvalidArgument = dagtree.ErrInvalidArgument

// MaxGridPoints bounds the number of transaction counts in one sweep.
const MaxGridPoints = 10000

// Sweep is the grid of transaction counts: Min, Min+Step, ... up to Max.
type Sweep struct {
	Min  int `json:"min" yaml:"min"`
	Max  int `json:"max" yaml:"max"`
	Step int `json:"step" yaml:"step"`
}

// Grid expands the sweep. It returns nil for an invalid sweep or one with
// more than MaxGridPoints points.
func (s Sweep) Grid() []int {
	if s.Min < 1 || s.Step < 1 || s.Max < s.Min {
		return nil
	}
	n := (s.Max-s.Min)/s.Step + 1
	if n > MaxGridPoints {
		return nil
	}
	grid := make([]int, n)
	for i := range grid {
		grid[i] = s.Min + i*s.Step
	}
	return grid
}

// Config controls a single experiment.
type Config struct {
	// Reference is the size of the corpus the true rules are mined from.
	Reference int `json:"reference" yaml:"reference"`

	Sweep Sweep `json:"sweep" yaml:"sweep"`

	// Replications is the number of trials per grid point.
	Replications int `json:"replications" yaml:"replications"`

	MinSupport    float64 `json:"min_support" yaml:"min_support"`
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`

	// Workers bounds concurrent trials; 0 means GOMAXPROCS.
	Workers int `json:"workers" yaml:"workers"`

	// Seed fixes every random stream of the run.
	Seed uint64 `json:"seed" yaml:"seed"`
}

// DefaultConfig returns the thresholds and grid of the reference study:
// t = 5, 10, ..., 95 with 100 trials each.
func DefaultConfig() Config {
	return Config{
		Reference:     100000,
		Sweep:         Sweep{Min: 5, Max: 95, Step: 5},
		Replications:  100,
		MinSupport:    0.4,
		MinConfidence: 0.7,
		Workers:       0,
		Seed:          1,
	}
}

// Validate rejects configurations that cannot run.
func (c Config) Validate() error {
	if c.Reference < 1 {
		return fmt.Errorf("%w: reference corpus size must be positive, got %d", ErrInvalidArgument, c.Reference)
	}
	if c.Replications < 1 {
		return fmt.Errorf("%w: replications must be positive, got %d", ErrInvalidArgument, c.Replications)
	}
	if len(c.Sweep.Grid()) == 0 {
		return fmt.Errorf("%w: sweep grid must have 1 to %d points (min=%d max=%d step=%d)", ErrInvalidArgument, MaxGridPoints, c.Sweep.Min, c.Sweep.Max, c.Sweep.Step)
	}
	if c.MinSupport < 0 || c.MinSupport > 1 {
		return fmt.Errorf("%w: min_support must be between 0 and 1, got %v", ErrInvalidArgument, c.MinSupport)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("%w: min_confidence must be between 0 and 1, got %v", ErrInvalidArgument, c.MinConfidence)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must be non-negative, got %d", ErrInvalidArgument, c.Workers)
	}
	return nil
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}
