package dagtree

import (
	"fmt"
	"math/rand/v2"
)

// Params selects a topology and its construction parameters.
type Params struct {
	Topology Topology `json:"topology" yaml:"topology"`

	// Items is the number of observable leaves.
	Items int `json:"items" yaml:"items"`

	// MaxDegree bounds the number of children a node spawns (ntree, layered).
	MaxDegree int `json:"max_degree" yaml:"max_degree"`

	// Layers bounds the depth of layered growth.
	Layers int `json:"layers" yaml:"layers"`

	// LeafChance is the per-child promotion probability in layered growth.
	LeafChance float64 `json:"leaf_chance" yaml:"leaf_chance"`

	// Weighted draws P10 and P11 independently per node (layered).
	Weighted bool `json:"weighted" yaml:"weighted"`

	// P10 and P11 are the shared conditional probabilities (star, path, layered).
	P10 float64 `json:"p10" yaml:"p10"`
	P11 float64 `json:"p11" yaml:"p11"`

	// RootP11 is the root's success probability (star, path).
	RootP11 float64 `json:"root_p11" yaml:"root_p11"`
}

// DefaultParams mirrors the model the experiments were first run with: five
// items under a weighted layered tree.
func DefaultParams() Params {
	return Params{
		Topology:   TopologyLayered,
		Items:      5,
		MaxDegree:  5,
		Layers:     1000,
		LeafChance: 0.5,
		Weighted:   true,
		P10:        0.2,
		P11:        0.8,
		RootP11:    0.5,
	}
}

// Validate checks the parameters the selected topology reads.
func (p Params) Validate() error {
	if _, err := ParseTopology(string(p.Topology)); err != nil {
		return err
	}
	if p.Items < 1 {
		return fmt.Errorf("%w: item count must be positive, got %d", ErrInvalidArgument, p.Items)
	}
	switch p.Topology {
	case TopologyStar, TopologyPath:
		return checkProbabilities(p.P10, p.P11, p.RootP11)
	case TopologyNTree:
		if p.MaxDegree < 1 {
			return fmt.Errorf("%w: max degree must be at least 1, got %d", ErrInvalidArgument, p.MaxDegree)
		}
	case TopologyLayered:
		if p.MaxDegree < 1 {
			return fmt.Errorf("%w: max degree must be at least 1, got %d", ErrInvalidArgument, p.MaxDegree)
		}
		if p.Layers < 1 {
			return fmt.Errorf("%w: layer count must be at least 1, got %d", ErrInvalidArgument, p.Layers)
		}
		if !(p.LeafChance > 0 && p.LeafChance <= 1) {
			return fmt.Errorf("%w: leaf chance must be in (0, 1], got %v", ErrInvalidArgument, p.LeafChance)
		}
		if !p.Weighted {
			return checkProbabilities(p.P10, p.P11)
		}
	}
	return nil
}

// Generate builds a tree with the policy p.Topology selects. rng is only
// consulted by the random policies.
func Generate(p Params, rng *rand.Rand) (*Tree, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	switch p.Topology {
	case TopologyStar:
		return Star(p.Items, p.P10, p.P11, p.RootP11)
	case TopologyPath:
		return Path(p.Items, p.P10, p.P11, p.RootP11)
	case TopologyNTree:
		return NTree(p.Items, p.MaxDegree, rng)
	default:
		return Layered(LayeredParams{
			Items:      p.Items,
			Layers:     p.Layers,
			MaxDegree:  p.MaxDegree,
			LeafChance: p.LeafChance,
			Weighted:   p.Weighted,
			P10:        p.P10,
			P11:        p.P11,
		}, rng)
	}
}

// Star builds a hidden root with n leaf children, each conditioned only on
// the root.
func Star(n int, p10, p11, rootP11 float64) (*Tree, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: item count must be positive, got %d", ErrInvalidArgument, n)
	}
	if err := checkProbabilities(p10, p11, rootP11); err != nil {
		return nil, err
	}
	t := &Tree{Topology: TopologyStar, Items: n, Nodes: make([]Node, 0, n+1)}
	root := t.add(NoParent, 0, rootP11, false)
	for i := 0; i < n; i++ {
		t.add(root, p10, p11, true)
	}
	return mustValidate(t), nil
}

// Path builds a chain of n observable nodes; each item depends on the
// previous item's realized value.
func Path(n int, p10, p11, rootP11 float64) (*Tree, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: item count must be positive, got %d", ErrInvalidArgument, n)
	}
	if err := checkProbabilities(p10, p11, rootP11); err != nil {
		return nil, err
	}
	t := &Tree{Topology: TopologyPath, Items: n, Nodes: make([]Node, 0, n)}
	prev := t.add(NoParent, 0, rootP11, true)
	for i := 1; i < n; i++ {
		prev = t.add(prev, p10, p11, true)
	}
	return mustValidate(t), nil
}

// NTree grows a random tree of exactly n vertices breadth first. Every
// frontier node spawns between 1 and min(remaining, maxDegree) children and
// growth stops the moment the vertex count reaches n. Every vertex is an
// item, with P10 and P11 drawn uniformly.
func NTree(n, maxDegree int, rng *rand.Rand) (*Tree, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: item count must be positive, got %d", ErrInvalidArgument, n)
	}
	if maxDegree < 1 {
		return nil, fmt.Errorf("%w: max degree must be at least 1, got %d", ErrInvalidArgument, maxDegree)
	}
	t := &Tree{Topology: TopologyNTree, Items: n, Nodes: make([]Node, 0, n)}
	t.add(NoParent, rng.Float64(), rng.Float64(), true)

	frontier := []int{Root}
	for head := 0; t.Len() < n; head++ {
		parent := frontier[head]
		spawn := 1 + rng.IntN(min(n-t.Len(), maxDegree))
		for i := 0; i < spawn; i++ {
			frontier = append(frontier, t.add(parent, rng.Float64(), rng.Float64(), true))
		}
	}
	return mustValidate(t), nil
}

// LayeredParams configures Layered.
type LayeredParams struct {
	Items      int
	Layers     int
	MaxDegree  int
	LeafChance float64
	Weighted   bool
	P10, P11   float64
}

// Layered grows a tree of hidden internal nodes under a synthetic root, one
// layer at a time, promoting each new child to an observable leaf with
// probability LeafChance until Items leaves exist or Layers is exhausted.
//
// Every internal node is guaranteed at least one child: a node is only made
// internal while the leaf budget still has room for it. Children on the last
// layer are always leaves. Any remaining leaf deficit is backfilled by
// attaching single leaves to internal nodes picked uniformly among all seen.
func Layered(p LayeredParams, rng *rand.Rand) (*Tree, error) {
	switch {
	case p.Items < 1:
		return nil, fmt.Errorf("%w: item count must be positive, got %d", ErrInvalidArgument, p.Items)
	case p.Layers < 1:
		return nil, fmt.Errorf("%w: layer count must be at least 1, got %d", ErrInvalidArgument, p.Layers)
	case p.MaxDegree < 1:
		return nil, fmt.Errorf("%w: max degree must be at least 1, got %d", ErrInvalidArgument, p.MaxDegree)
	case !(p.LeafChance > 0 && p.LeafChance <= 1):
		return nil, fmt.Errorf("%w: leaf chance must be in (0, 1], got %v", ErrInvalidArgument, p.LeafChance)
	}
	if !p.Weighted {
		if err := checkProbabilities(p.P10, p.P11); err != nil {
			return nil, err
		}
	}

	probs := func() (float64, float64) {
		if p.Weighted {
			return rng.Float64(), rng.Float64()
		}
		return p.P10, p.P11
	}

	t := &Tree{Topology: TopologyLayered, Items: p.Items}
	p10, p11 := probs()
	root := t.add(NoParent, p10, p11, false)

	candidates := []int{root}
	frontier := []int{root}
	leaves := 0
	// open counts internal nodes still waiting for their first child. Each
	// of them will consume at least one leaf, so leaves+open never exceeds
	// Items.
	open := 1

	for layer := 1; layer <= p.Layers && len(frontier) > 0; layer++ {
		var next []int
		for _, parent := range frontier {
			spawn := 1 + rng.IntN(p.MaxDegree)
			for i := 0; i < spawn; i++ {
				first := len(t.Nodes[parent].Children) == 0
				need := 1
				if first {
					need = 0
				}
				if p.Items-leaves-open < need {
					break
				}
				if first {
					open--
				}
				p10, p11 := probs()
				if layer == p.Layers || rng.Float64() < p.LeafChance {
					t.add(parent, p10, p11, true)
					leaves++
					continue
				}
				child := t.add(parent, p10, p11, false)
				next = append(next, child)
				candidates = append(candidates, child)
				open++
			}
		}
		frontier = next
	}

	for ; leaves < p.Items; leaves++ {
		parent := candidates[rng.IntN(len(candidates))]
		p10, p11 := probs()
		t.add(parent, p10, p11, true)
	}
	return mustValidate(t), nil
}

func checkProbabilities(ps ...float64) error {
	for _, p := range ps {
		if !validProbability(p) {
			return fmt.Errorf("%w: probability %v outside [0, 1]", ErrInvalidArgument, p)
		}
	}
	return nil
}
