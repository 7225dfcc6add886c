// Package sampler draws boolean transactions from a dagtree model.
//
// Each draw walks the tree once in depth-first order. The root is
// Bernoulli(P11); every other node is Bernoulli(P11) when its parent came up
// 1 and Bernoulli(P10) otherwise. Leaves that come up 1 form the transaction.
package sampler

import (
	"fmt"
	"math/rand/v2"

	"github.com/nvandessel/rulesim/internal/dagtree"
)

// Transaction is the sorted list of 1-indexed items present in one draw.
type Transaction = []int

// Sampler draws transactions from a fixed tree. It never writes to the tree
// and holds no per-draw state, so one Sampler may be shared by goroutines
// that each own their random source.
type Sampler struct {
	tree  *dagtree.Tree
	order []int // preorder arena indices
	items []int // item number per arena index, 0 for hidden nodes
}

// New validates tree and prepares a Sampler for it.
func New(tree *dagtree.Tree) (*Sampler, error) {
	if err := dagtree.Validate(tree); err != nil {
		return nil, fmt.Errorf("sampler: %w", err)
	}
	s := &Sampler{
		tree:  tree,
		order: tree.Preorder(),
		items: make([]int, tree.Len()),
	}
	next := 1
	for _, idx := range s.order {
		if tree.Nodes[idx].Leaf {
			s.items[idx] = next
			next++
		}
	}
	return s, nil
}

// Items returns the number of observable items.
func (s *Sampler) Items() int {
	return s.tree.Items
}

// Tree returns the model being sampled.
func (s *Sampler) Tree() *dagtree.Tree {
	return s.tree
}

// realize fills values with one conditional draw over every node.
func (s *Sampler) realize(rng *rand.Rand, values []bool) {
	nodes := s.tree.Nodes
	for _, idx := range s.order {
		n := &nodes[idx]
		p := n.P11
		if n.Parent != dagtree.NoParent && !values[n.Parent] {
			p = n.P10
		}
		values[idx] = rng.Float64() < p
	}
}

// Sample draws one transaction.
func (s *Sampler) Sample(rng *rand.Rand) Transaction {
	values := make([]bool, s.tree.Len())
	return s.sampleInto(rng, values)
}

func (s *Sampler) sampleInto(rng *rand.Rand, values []bool) Transaction {
	s.realize(rng, values)
	tx := Transaction{}
	for _, idx := range s.order {
		if item := s.items[idx]; item > 0 && values[idx] {
			tx = append(tx, item)
		}
	}
	return tx
}

// Values draws once and returns the dense leaf outcome vector: element k is
// the realized value of item k+1.
func (s *Sampler) Values(rng *rand.Rand) []bool {
	values := make([]bool, s.tree.Len())
	s.realize(rng, values)
	out := make([]bool, 0, s.tree.Items)
	for _, idx := range s.order {
		if s.items[idx] > 0 {
			out = append(out, values[idx])
		}
	}
	return out
}

// Generate draws count independent transactions.
func (s *Sampler) Generate(count int, rng *rand.Rand) [][]int {
	if count <= 0 {
		return nil
	}
	out := make([][]int, count)
	values := make([]bool, s.tree.Len())
	for i := range out {
		out[i] = s.sampleInto(rng, values)
	}
	return out
}
