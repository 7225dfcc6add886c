// Package visualization renders trees and result curves in various output
// formats and serves stored runs over HTTP.
package visualization

import (
	"fmt"

	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/nvandessel/rulesim/internal/dagtree"
)

// Format specifies the output format for tree rendering.
type Format string

const (
	FormatDOT  Format = "dot"
	FormatJSON Format = "json"
)

// Node colors: observable items are green, hidden variables red.
const (
	leafColor     = "green"
	internalColor = "red"
)

type attributes []encoding.Attribute

func (a attributes) Attributes() []encoding.Attribute { return a }

// treeNode adapts one arena entry to the gonum graph and DOT interfaces.
type treeNode struct {
	index int
	node  dagtree.Node
	item  int // 1-based item number, 0 for hidden nodes
}

func (n treeNode) ID() int64 { return int64(n.index) }

func (n treeNode) DOTID() string { return fmt.Sprintf("n%d", n.index) }

func (n treeNode) Attributes() []encoding.Attribute {
	label, color := fmt.Sprintf("h%d", n.node.ID), internalColor
	if n.node.Leaf {
		label, color = fmt.Sprintf("i%d", n.item), leafColor
	}
	return []encoding.Attribute{
		{Key: "label", Value: label},
		{Key: "fillcolor", Value: color},
		{Key: "style", Value: "filled"},
		{Key: "tooltip", Value: fmt.Sprintf("%q", fmt.Sprintf("p10=%.3f p11=%.3f", n.node.P10, n.node.P11))},
	}
}

type treeGraph struct {
	*simple.DirectedGraph
}

func (treeGraph) DOTAttributers() (graph, node, edge encoding.Attributer) {
	return attributes{{Key: "rankdir", Value: "TB"}},
		attributes{{Key: "shape", Value: "circle"}, {Key: "fontname", Value: "Helvetica"}},
		attributes{{Key: "arrowsize", Value: "0.6"}}
}

// itemNumbers maps arena indices to 1-based item numbers in preorder, the
// numbering transactions use.
func itemNumbers(t *dagtree.Tree) map[int]int {
	items := make(map[int]int, t.Items)
	next := 1
	for _, idx := range t.Preorder() {
		if t.Nodes[idx].Leaf {
			items[idx] = next
			next++
		}
	}
	return items
}

// RenderTreeDOT produces a Graphviz DOT representation of the tree.
func RenderTreeDOT(t *dagtree.Tree) (string, error) {
	if err := dagtree.Validate(t); err != nil {
		return "", err
	}

	items := itemNumbers(t)
	g := treeGraph{simple.NewDirectedGraph()}
	nodes := make([]treeNode, t.Len())
	for i, n := range t.Nodes {
		nodes[i] = treeNode{index: i, node: n, item: items[i]}
		g.AddNode(nodes[i])
	}
	for i, n := range t.Nodes {
		if n.Parent != dagtree.NoParent {
			g.SetEdge(g.NewEdge(nodes[n.Parent], nodes[i]))
		}
	}

	data, err := dot.Marshal(g, string(t.Topology), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal dot: %w", err)
	}
	return string(data) + "\n", nil
}

// RenderTreeJSON produces a JSON-ready view of the tree: every node with its
// parent, leaf flag, item number and probabilities.
func RenderTreeJSON(t *dagtree.Tree) (map[string]interface{}, error) {
	if err := dagtree.Validate(t); err != nil {
		return nil, err
	}

	items := itemNumbers(t)
	jsonNodes := make([]map[string]interface{}, 0, t.Len())
	for i, n := range t.Nodes {
		entry := map[string]interface{}{
			"id":     n.ID,
			"parent": n.Parent,
			"leaf":   n.Leaf,
			"p10":    n.P10,
			"p11":    n.P11,
		}
		if n.Parent != dagtree.NoParent {
			entry["parent"] = t.Nodes[n.Parent].ID
		}
		if n.Leaf {
			entry["item"] = items[i]
		}
		jsonNodes = append(jsonNodes, entry)
	}

	return map[string]interface{}{
		"topology":   t.Topology,
		"nodes":      jsonNodes,
		"node_count": t.Len(),
		"leaf_count": t.LeafCount(),
		"depth":      t.Depth(),
	}, nil
}
