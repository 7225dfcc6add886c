package visualization

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/nvandessel/rulesim/internal/dagtree"
	"github.com/nvandessel/rulesim/internal/experiment"
)

func TestRenderTreeDOT_Star(t *testing.T) {
	tree, err := dagtree.Star(3, 0.2, 0.8, 0.5)
	if err != nil {
		t.Fatal(err)
	}

	out, err := RenderTreeDOT(tree)
	if err != nil {
		t.Fatalf("RenderTreeDOT() error = %v", err)
	}

	if !strings.HasPrefix(out, "digraph star {") {
		t.Errorf("unexpected header: %q", strings.SplitN(out, "\n", 2)[0])
	}
	for _, want := range []string{
		"n0 -> n1", "n0 -> n2", "n0 -> n3",
		"label=h0", "label=i1", "label=i3",
		"fillcolor=red", "fillcolor=green",
		"rankdir=TB",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("DOT output missing %q:\n%s", want, out)
		}
	}
	if got := strings.Count(out, "fillcolor=green"); got != 3 {
		t.Errorf("green nodes = %d, want 3", got)
	}
	if got := strings.Count(out, "->"); got != 3 {
		t.Errorf("edges = %d, want 3", got)
	}
}

func TestRenderTreeDOT_PathIsAllLeaves(t *testing.T) {
	tree, err := dagtree.Path(4, 0.2, 0.8, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	out, err := RenderTreeDOT(tree)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "fillcolor=red") {
		t.Errorf("path tree has no hidden nodes:\n%s", out)
	}
	if got := strings.Count(out, "->"); got != 3 {
		t.Errorf("edges = %d, want 3", got)
	}
}

func TestRenderTreeDOT_Invalid(t *testing.T) {
	if _, err := RenderTreeDOT(&dagtree.Tree{}); err == nil {
		t.Error("expected error for empty tree")
	}
}

func TestRenderTreeJSON(t *testing.T) {
	tree, err := dagtree.Generate(dagtree.DefaultParams(), rand.New(rand.NewPCG(1, 2)))
	if err != nil {
		t.Fatal(err)
	}

	result, err := RenderTreeJSON(tree)
	if err != nil {
		t.Fatalf("RenderTreeJSON() error = %v", err)
	}
	if result["node_count"] != tree.Len() {
		t.Errorf("node_count = %v, want %d", result["node_count"], tree.Len())
	}
	if result["leaf_count"] != tree.Items {
		t.Errorf("leaf_count = %v, want %d", result["leaf_count"], tree.Items)
	}

	nodes := result["nodes"].([]map[string]interface{})
	items := map[int]bool{}
	for _, n := range nodes {
		if item, ok := n["item"].(int); ok {
			items[item] = true
		}
	}
	for k := 1; k <= tree.Items; k++ {
		if !items[k] {
			t.Errorf("item %d missing from JSON nodes", k)
		}
	}
	if nodes[0]["parent"] != dagtree.NoParent {
		t.Errorf("root parent = %v", nodes[0]["parent"])
	}

	if _, err := json.Marshal(result); err != nil {
		t.Errorf("result not serializable: %v", err)
	}
}

func testPoints() []experiment.CurvePoint {
	return []experiment.CurvePoint{
		{T: 5, MedianLoss: 3, MedianLossRate: 0.6, MedianPrecision: 0.5, MedianRecall: 0.25, MeanLossRate: 0.55, StdLossRate: 0.1, Degenerate: 2},
		{T: 10, MedianLoss: 1, MedianLossRate: 0.1, MedianPrecision: 1, MedianRecall: 0.75, MeanLossRate: 0.15, StdLossRate: 0.05},
	}
}

func TestRenderCurveCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderCurveCSV(&buf, testPoints()); err != nil {
		t.Fatalf("RenderCurveCSV() error = %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("rows = %d, want 3", len(records))
	}
	if records[0][0] != "t" || records[0][4] != "median_recall" {
		t.Errorf("header = %v", records[0])
	}
	if got := records[1]; got[0] != "5" || got[2] != "0.6" || got[7] != "2" {
		t.Errorf("row = %v", got)
	}
}

func TestRenderCurveTable(t *testing.T) {
	rep := &experiment.Report{Points: testPoints()}
	var buf bytes.Buffer
	if err := RenderCurveTable(&buf, rep); err != nil {
		t.Fatalf("RenderCurveTable() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"precision", "recall", "0.7500", "Min Loss: 0.1500", "Max Loss: 0.5500", "Average Loss: 0.3500"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}
