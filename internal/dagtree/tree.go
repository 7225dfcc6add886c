// Package dagtree builds the latent dependency models that transactions are
// sampled from. A model is a rooted tree of boolean variables where every
// variable is conditioned on its parent's realized value.
package dagtree

import (
	"errors"
	"fmt"
	"math"
)

// Errors returned by tree construction and validation.
var (
	// ErrInvalidArgument reports a generator parameter outside its domain.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStructuralInvariant reports a tree that is not a proper rooted tree
	// or whose leaf count differs from its item count.
	ErrStructuralInvariant = errors.New("structural invariant violated")
)

// NoParent marks the root's parent index.
const NoParent = -1

// Topology names a tree construction policy.
type Topology string

const (
	TopologyStar    Topology = "star"
	TopologyPath    Topology = "path"
	TopologyNTree   Topology = "ntree"
	TopologyLayered Topology = "layered"
)

// Topologies lists every supported construction policy.
var Topologies = []Topology{TopologyStar, TopologyPath, TopologyNTree, TopologyLayered}

// ParseTopology maps a name to a Topology.
func ParseTopology(s string) (Topology, error) {
	for _, t := range Topologies {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown topology %q (valid: star, path, ntree, layered)", ErrInvalidArgument, s)
}

// Node is a single variable of the model.
//
// P10 is P(value=1 | parent=0) and P11 is P(value=1 | parent=1). The root
// only uses P11, as an unconditional success probability.
type Node struct {
	ID       int     `json:"id"`
	Parent   int     `json:"parent"`
	P10      float64 `json:"p10"`
	P11      float64 `json:"p11"`
	Leaf     bool    `json:"leaf"`
	Children []int   `json:"children,omitempty"`
}

// Tree stores nodes in a flat arena addressed by index. The root is always
// at index 0. Parent links are plain indices; the arena owns every node.
type Tree struct {
	Topology Topology `json:"topology"`
	Items    int      `json:"items"`
	Nodes    []Node   `json:"nodes"`
}

// Root is the arena index of the root node.
const Root = 0

// Len returns the number of nodes.
func (t *Tree) Len() int {
	return len(t.Nodes)
}

// add appends a node under parent and returns its index.
func (t *Tree) add(parent int, p10, p11 float64, leaf bool) int {
	idx := len(t.Nodes)
	t.Nodes = append(t.Nodes, Node{ID: idx, Parent: parent, P10: p10, P11: p11, Leaf: leaf})
	if parent != NoParent {
		t.Nodes[parent].Children = append(t.Nodes[parent].Children, idx)
	}
	return idx
}

// LeafCount counts nodes flagged as leaves.
func (t *Tree) LeafCount() int {
	n := 0
	for i := range t.Nodes {
		if t.Nodes[i].Leaf {
			n++
		}
	}
	return n
}

// Depth returns the number of edges on the longest root-to-node path.
func (t *Tree) Depth() int {
	if len(t.Nodes) == 0 {
		return 0
	}
	type frame struct{ idx, depth int }
	deepest := 0
	stack := []frame{{Root, 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.depth > deepest {
			deepest = f.depth
		}
		for _, c := range t.Nodes[f.idx].Children {
			stack = append(stack, frame{c, f.depth + 1})
		}
	}
	return deepest
}

// Preorder returns node indices in depth-first order, children visited in
// insertion order. Parents always precede their children.
func (t *Tree) Preorder() []int {
	if len(t.Nodes) == 0 {
		return nil
	}
	order := make([]int, 0, len(t.Nodes))
	stack := []int{Root}
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		order = append(order, idx)
		children := t.Nodes[idx].Children
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return order
}

// Leaves returns leaf indices in item order: Leaves()[k] carries item k+1.
func (t *Tree) Leaves() []int {
	var leaves []int
	for _, idx := range t.Preorder() {
		if t.Nodes[idx].Leaf {
			leaves = append(leaves, idx)
		}
	}
	return leaves
}

// Number assigns IDs in depth-first order starting at next and returns the
// next free ID.
func Number(t *Tree, next int) int {
	for _, idx := range t.Preorder() {
		t.Nodes[idx].ID = next
		next++
	}
	return next
}

// Validate checks that t is a proper rooted tree with valid probabilities and
// exactly t.Items leaves. Children must be listed in ascending index order,
// since item numbering follows that order.
func Validate(t *Tree) error {
	if t == nil || len(t.Nodes) == 0 {
		return fmt.Errorf("%w: empty tree", ErrStructuralInvariant)
	}
	if t.Items < 1 {
		return fmt.Errorf("%w: item count %d", ErrStructuralInvariant, t.Items)
	}
	if t.Nodes[Root].Parent != NoParent {
		return fmt.Errorf("%w: root has parent %d", ErrStructuralInvariant, t.Nodes[Root].Parent)
	}

	for i := range t.Nodes {
		n := &t.Nodes[i]
		if !validProbability(n.P10) || !validProbability(n.P11) {
			return fmt.Errorf("%w: node %d has probabilities p10=%v p11=%v", ErrStructuralInvariant, i, n.P10, n.P11)
		}
		if i == Root {
			continue
		}
		if n.Parent < 0 || n.Parent >= len(t.Nodes) {
			return fmt.Errorf("%w: node %d has parent %d out of range", ErrStructuralInvariant, i, n.Parent)
		}
		links := 0
		for _, c := range t.Nodes[n.Parent].Children {
			if c == i {
				links++
			}
		}
		if links != 1 {
			return fmt.Errorf("%w: node %d listed %d times under parent %d", ErrStructuralInvariant, i, links, n.Parent)
		}
	}

	seen := make([]bool, len(t.Nodes))
	stack := []int{Root}
	visited := 0
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[idx] {
			return fmt.Errorf("%w: node %d reached twice", ErrStructuralInvariant, idx)
		}
		seen[idx] = true
		visited++
		children := t.Nodes[idx].Children
		for j, c := range children {
			if c < 0 || c >= len(t.Nodes) {
				return fmt.Errorf("%w: node %d has child %d out of range", ErrStructuralInvariant, idx, c)
			}
			if j > 0 && c <= children[j-1] {
				return fmt.Errorf("%w: children of node %d not in ascending index order: %v", ErrStructuralInvariant, idx, children)
			}
			if t.Nodes[c].Parent != idx {
				return fmt.Errorf("%w: child %d of node %d points at parent %d", ErrStructuralInvariant, c, idx, t.Nodes[c].Parent)
			}
			stack = append(stack, c)
		}
	}
	if visited != len(t.Nodes) {
		return fmt.Errorf("%w: %d of %d nodes unreachable from root", ErrStructuralInvariant, len(t.Nodes)-visited, len(t.Nodes))
	}

	if leaves := t.LeafCount(); leaves != t.Items {
		return fmt.Errorf("%w: %d leaves, want %d", ErrStructuralInvariant, leaves, t.Items)
	}
	return nil
}

func validProbability(p float64) bool {
	return !math.IsNaN(p) && p >= 0 && p <= 1
}

// mustValidate is the post-condition of every generator.
func mustValidate(t *Tree) *Tree {
	if err := Validate(t); err != nil {
		panic(fmt.Sprintf("dagtree: generator produced invalid %s tree: %v", t.Topology, err))
	}
	Number(t, 0)
	return t
}
