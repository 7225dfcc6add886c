package visualization

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/rulesim/internal/dagtree"
	"github.com/nvandessel/rulesim/internal/experiment"
	"github.com/nvandessel/rulesim/internal/logging"
	"github.com/nvandessel/rulesim/internal/store"
)

func setupTestStore(t *testing.T) *store.RunStore {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addRun(t *testing.T, s *store.RunStore, id string) *experiment.Report {
	t.Helper()
	tree, err := dagtree.Star(3, 0.1, 0.9, 0.9)
	if err != nil {
		t.Fatal(err)
	}
	rep := &experiment.Report{
		RunID:      id,
		StartedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
		Config:     experiment.DefaultConfig(),
		Tree:       tree,
		Points:     testPoints(),
	}
	if err := s.SaveReport(context.Background(), rep); err != nil {
		t.Fatalf("save report: %v", err)
	}
	return rep
}

func newTestServer(t *testing.T, s *store.RunStore) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(NewServer(s, logging.Discard()).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

func TestServer_Index(t *testing.T) {
	s := setupTestStore(t)
	ts := newTestServer(t, s)

	resp, body := get(t, ts.URL+"/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET / status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(body, "No runs recorded yet") {
		t.Errorf("empty index should say so: %s", body)
	}

	addRun(t, s, "run-1234")
	_, body = get(t, ts.URL+"/")
	if !strings.Contains(body, "run-1234") {
		t.Errorf("index missing run: %s", body)
	}
}

func TestServer_ListRuns(t *testing.T) {
	s := setupTestStore(t)
	ts := newTestServer(t, s)

	_, body := get(t, ts.URL+"/api/runs")
	if strings.TrimSpace(body) != "[]" {
		t.Errorf("empty list = %q, want []", body)
	}

	addRun(t, s, "run-a")
	addRun(t, s, "run-b")
	resp, body := get(t, ts.URL+"/api/runs")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var runs []store.RunSummary
	if err := json.Unmarshal([]byte(body), &runs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("runs = %d, want 2", len(runs))
	}
}

func TestServer_GetRun(t *testing.T) {
	s := setupTestStore(t)
	ts := newTestServer(t, s)
	addRun(t, s, "run-abc")

	resp, body := get(t, ts.URL+"/api/runs/run-a")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var rep experiment.Report
	if err := json.Unmarshal([]byte(body), &rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.RunID != "run-abc" || len(rep.Points) != 2 {
		t.Errorf("report = %+v", rep)
	}

	resp, _ = get(t, ts.URL+"/api/runs/missing")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing run status = %d, want 404", resp.StatusCode)
	}
}

func TestServer_AmbiguousID(t *testing.T) {
	s := setupTestStore(t)
	ts := newTestServer(t, s)
	addRun(t, s, "run-1")
	addRun(t, s, "run-2")

	resp, _ := get(t, ts.URL+"/api/runs/run")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestServer_Curve(t *testing.T) {
	s := setupTestStore(t)
	ts := newTestServer(t, s)
	addRun(t, s, "curve-run")

	_, body := get(t, ts.URL+"/api/runs/curve-run/curve")
	var points []experiment.CurvePoint
	if err := json.Unmarshal([]byte(body), &points); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(points) != 2 || points[1].T != 10 {
		t.Errorf("points = %+v", points)
	}

	resp, body := get(t, ts.URL+"/api/runs/curve-run/curve?format=csv")
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	records, err := csv.NewReader(strings.NewReader(body)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("csv rows = %d, want 3", len(records))
	}
}

func TestServer_Tree(t *testing.T) {
	s := setupTestStore(t)
	ts := newTestServer(t, s)
	addRun(t, s, "tree-run")

	resp, body := get(t, ts.URL+"/api/runs/tree-run/tree.dot")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	if !strings.HasPrefix(body, "digraph star") {
		t.Errorf("unexpected DOT: %s", body)
	}

	_, body = get(t, ts.URL+"/api/runs/tree-run/tree.json")
	var tree map[string]interface{}
	if err := json.Unmarshal([]byte(body), &tree); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tree["leaf_count"] != float64(3) {
		t.Errorf("leaf_count = %v, want 3", tree["leaf_count"])
	}
}

func TestServer_ListenAndCleanShutdown(t *testing.T) {
	s := setupTestStore(t)
	srv := NewServer(s, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx, "") }()

	waitForServer(t, srv, 2*time.Second)

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("unexpected error on shutdown: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down within 3 seconds")
	}
}

// waitForServer polls the server until it's ready or the timeout is reached.
func waitForServer(t *testing.T, srv *Server, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		addr := srv.Addr()
		if addr == "" {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		resp, err := http.Get("http://" + addr + "/api/runs")
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("server did not start within timeout")
}
