package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/rulesim/internal/experiment"
)

// isolateHome points HOME at a temp directory so tests never touch the real
// ~/.rulesim.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

// execute runs the CLI with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	rootCmd := newRootCmd()
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

// smallRun keeps experiments fast enough for unit tests.
var smallRun = []string{
	"--topology", "star", "--items", "3",
	"--reference", "2000",
	"--sweep-min", "10", "--sweep-max", "30", "--sweep-step", "10",
	"--replications", "3", "--workers", "2",
	"--log-level", "warn",
}

func TestVersionCmd(t *testing.T) {
	out, _, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "rulesim version "+version) {
		t.Errorf("output = %q", out)
	}

	out, _, err = execute(t, "version", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["version"] != version {
		t.Errorf("version = %q, want %q", got["version"], version)
	}
}

func TestConfigCmds(t *testing.T) {
	home := isolateHome(t)

	out, _, err := execute(t, "config", "path")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(home, ".rulesim", "config.yaml")
	if strings.TrimSpace(out) != want {
		t.Errorf("path = %q, want %q", strings.TrimSpace(out), want)
	}

	if _, _, err := execute(t, "config", "init"); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if _, _, err := execute(t, "config", "init"); err == nil {
		t.Error("second init without --force should fail")
	}
	if _, _, err := execute(t, "config", "init", "--force"); err != nil {
		t.Errorf("init --force failed: %v", err)
	}

	out, _, err = execute(t, "config", "show")
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"topology: layered", "replications: 100", "min_support: 0.4"} {
		if !strings.Contains(out, key) {
			t.Errorf("config show missing %q:\n%s", key, out)
		}
	}

	out, _, err = execute(t, "config", "show", "--json", "--log-level", "debug")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"level": "debug"`) {
		t.Errorf("flag override not applied:\n%s", out)
	}
}

func TestConfigRejectsInvalidFlags(t *testing.T) {
	isolateHome(t)
	tests := []struct {
		name string
		args []string
	}{
		{"unknown topology", []string{"tree", "generate", "--topology", "ring"}},
		{"zero items", []string{"tree", "generate", "--items", "0"}},
		{"bad probability", []string{"tree", "generate", "--topology", "star", "--p11", "1.5"}},
		{"empty sweep", []string{"run", "--sweep-min", "50", "--sweep-max", "10"}},
		{"bad log level", []string{"config", "show", "--log-level", "loud"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := execute(t, tt.args...); err == nil {
				t.Errorf("%v: expected error", tt.args)
			}
		})
	}
}

func TestTreeGenerate(t *testing.T) {
	isolateHome(t)

	out, _, err := execute(t, "tree", "generate", "--topology", "star", "--items", "3")
	if err != nil {
		t.Fatalf("tree generate failed: %v", err)
	}
	if !strings.HasPrefix(out, "digraph star") {
		t.Errorf("unexpected output:\n%s", out)
	}

	a, _, err := execute(t, "tree", "generate", "--format", "json", "--seed", "11")
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := execute(t, "tree", "generate", "--format", "json", "--seed", "11")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("same seed produced different trees")
	}

	if _, _, err := execute(t, "tree", "generate", "--format", "png"); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestTreeSaveAndRender(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "model.tree")

	out, _, err := execute(t, "tree", "save", path, "--topology", "path", "--items", "4")
	if err != nil {
		t.Fatalf("tree save failed: %v", err)
	}
	if !strings.Contains(out, "Saved path tree (4 items, 4 nodes, depth 3)") {
		t.Errorf("output = %q", out)
	}

	out, _, err = execute(t, "tree", "render", path, "--format", "json")
	if err != nil {
		t.Fatalf("tree render failed: %v", err)
	}
	var graph map[string]interface{}
	if err := json.Unmarshal([]byte(out), &graph); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if graph["leaf_count"] != float64(4) {
		t.Errorf("leaf_count = %v, want 4", graph["leaf_count"])
	}

	if _, _, err := execute(t, "tree", "render", filepath.Join(t.TempDir(), "missing.tree")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSampleCmd(t *testing.T) {
	isolateHome(t)
	args := []string{"sample", "--topology", "path", "--items", "4", "--count", "25", "--seed", "5"}

	out, _, err := execute(t, args...)
	if err != nil {
		t.Fatalf("sample failed: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	if len(lines) != 25 {
		t.Fatalf("lines = %d, want 25", len(lines))
	}
	for _, line := range lines {
		for _, f := range strings.Fields(line) {
			if f < "1" || f > "4" || len(f) != 1 {
				t.Fatalf("unexpected item %q in line %q", f, line)
			}
		}
	}

	again, _, err := execute(t, args...)
	if err != nil {
		t.Fatal(err)
	}
	if again != out {
		t.Error("sample is not reproducible for a fixed seed")
	}

	file := filepath.Join(t.TempDir(), "baskets.txt")
	if _, _, err := execute(t, append(args, "-o", file)...); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != out {
		t.Error("file output differs from stdout output")
	}

	if _, _, err := execute(t, "sample", "--count", "0"); err == nil {
		t.Error("expected error for zero count")
	}
}

func TestSampleFromSavedTree(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "star.tree")
	if _, _, err := execute(t, "tree", "save", path, "--topology", "star", "--items", "2"); err != nil {
		t.Fatal(err)
	}

	out, _, err := execute(t, "sample", "--tree", path, "--count", "3", "--json")
	if err != nil {
		t.Fatalf("sample failed: %v", err)
	}
	var got struct {
		Items        int     `json:"items"`
		Count        int     `json:"count"`
		Transactions [][]int `json:"transactions"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Items != 2 || got.Count != 3 || len(got.Transactions) != 3 {
		t.Errorf("got %+v", got)
	}
}

func TestRunSaveListShowDelete(t *testing.T) {
	isolateHome(t)

	out, _, err := execute(t, append([]string{"run", "--json"}, smallRun...)...)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	var rep experiment.Report
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.RunID == "" || len(rep.Points) != 3 {
		t.Fatalf("report = %+v", rep)
	}

	out, _, err = execute(t, "runs", "--json")
	if err != nil {
		t.Fatalf("runs failed: %v", err)
	}
	var list struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatal(err)
	}
	if list.Count != 1 {
		t.Errorf("runs count = %d, want 1", list.Count)
	}

	out, _, err = execute(t, "runs")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, rep.RunID[:8]) || !strings.Contains(out, "star") {
		t.Errorf("runs table missing run:\n%s", out)
	}

	out, _, err = execute(t, "show", rep.RunID[:8], "--format", "csv")
	if err != nil {
		t.Fatalf("show failed: %v", err)
	}
	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 4 {
		t.Errorf("csv rows = %d, want 4", len(records))
	}

	out, _, err = execute(t, "show", rep.RunID, "--format", "dot")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "digraph star") {
		t.Errorf("show dot output:\n%s", out)
	}

	if _, _, err := execute(t, "runs", "delete", rep.RunID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, _, err := execute(t, "show", rep.RunID); err == nil {
		t.Error("expected error showing a deleted run")
	}
}

func TestRunTableOutput(t *testing.T) {
	isolateHome(t)

	out, _, err := execute(t, append([]string{"run", "--no-save"}, smallRun...)...)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	for _, want := range []string{"star tree, 3 items, 4 nodes", "Min Loss:", "Max Loss:", "Average Loss:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, _, err = execute(t, "runs")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No runs saved yet") {
		t.Errorf("--no-save still saved a run:\n%s", out)
	}

	if _, _, err := execute(t, append([]string{"run", "--format", "xml"}, smallRun...)...); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestRunsPrune(t *testing.T) {
	isolateHome(t)

	if _, _, err := execute(t, "runs", "prune"); err == nil {
		t.Error("expected error with no retention limit")
	}

	for i := 0; i < 3; i++ {
		if _, _, err := execute(t, append([]string{"run", "--json"}, smallRun...)...); err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
	}

	out, _, err := execute(t, "runs", "prune", "--keep", "1", "--json")
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	var pruned struct {
		Removed []string `json:"removed"`
		Count   int      `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &pruned); err != nil {
		t.Fatal(err)
	}
	if pruned.Count != 2 || len(pruned.Removed) != 2 {
		t.Errorf("pruned = %+v, want 2 runs", pruned)
	}

	out, _, err = execute(t, "runs", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var list struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatal(err)
	}
	if list.Count != 1 {
		t.Errorf("runs count = %d, want 1", list.Count)
	}

	if _, _, err := execute(t, "runs", "prune", "--keep", "-1"); err == nil {
		t.Error("expected error for negative --keep")
	}
}

func TestRunTrialTrace(t *testing.T) {
	home := isolateHome(t)

	args := append([]string{"run", "--no-save"}, smallRun...)
	args = append(args, "--log-level", "debug")
	_, stderr, err := execute(t, args...)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(stderr, "experiment finished") {
		t.Errorf("stderr missing progress log:\n%s", stderr)
	}

	data, err := os.ReadFile(filepath.Join(home, ".rulesim", "trials.jsonl"))
	if err != nil {
		t.Fatalf("trial trace not written: %v", err)
	}
	if got := strings.Count(string(data), "\n"); got != 9 {
		t.Errorf("trace lines = %d, want 9 (3 sizes x 3 trials)", got)
	}
}

func TestServeCmd(t *testing.T) {
	isolateHome(t)

	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		rootCmd := newRootCmd()
		rootCmd.SetOut(pw)
		rootCmd.SetErr(io.Discard)
		rootCmd.SetArgs([]string{"serve", "--log-level", "warn"})
		done <- rootCmd.ExecuteContext(ctx)
		pw.Close()
	}()

	ch := make(chan string, 1)
	go func() {
		buf := make([]byte, 4096)
		n, _ := pr.Read(buf)
		ch <- string(buf[:n])
	}()

	select {
	case line := <-ch:
		if !strings.Contains(line, "Serving runs at http://") {
			t.Fatalf("expected startup line, got %q", line)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for server output")
	}

	pr.Close()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
