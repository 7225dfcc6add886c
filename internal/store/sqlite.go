package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nvandessel/rulesim/internal/dagtree"
	"github.com/nvandessel/rulesim/internal/experiment"
	"github.com/nvandessel/rulesim/internal/rules"
)

// RunStore keeps experiment reports in <dir>/rulesim.db.
type RunStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
}

// Open creates or opens the run database in dir.
func Open(dir string) (*RunStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	dbPath := filepath.Join(dir, DBName)
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &RunStore{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *RunStore) Path() string {
	return s.dbPath
}

// Close closes the database.
func (s *RunStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// SaveReport stores a complete report. Saving a run ID twice replaces the
// earlier copy.
func (s *RunStore) SaveReport(ctx context.Context, rep *experiment.Report) error {
	if rep == nil || rep.RunID == "" {
		return fmt.Errorf("report with run ID is required")
	}
	if rep.Tree == nil {
		return fmt.Errorf("report %s has no tree", rep.RunID)
	}
	if err := dagtree.Validate(rep.Tree); err != nil {
		return fmt.Errorf("report %s: %w", rep.RunID, err)
	}

	cfg, err := json.Marshal(rep.Config)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	loss := rep.LossSummary()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, rep.RunID); err != nil {
		return fmt.Errorf("failed to replace run: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, topology, items, node_count, config,
			true_rule_count, degenerate, min_loss, max_loss, average_loss)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.RunID, formatTime(rep.StartedAt), formatTime(rep.FinishedAt),
		string(rep.Tree.Topology), rep.Tree.Items, rep.Tree.Len(), string(cfg),
		len(rep.TrueRules), rep.Degenerate, loss.Min, loss.Max, loss.Average)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	nodeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tree_nodes (run_id, idx, node_id, parent, p10, p11, leaf)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare node insert: %w", err)
	}
	defer nodeStmt.Close()
	for i, n := range rep.Tree.Nodes {
		if _, err := nodeStmt.ExecContext(ctx, rep.RunID, i, n.ID, n.Parent, n.P10, n.P11, boolToInt(n.Leaf)); err != nil {
			return fmt.Errorf("failed to insert node %d: %w", i, err)
		}
	}

	ruleStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO true_rules (run_id, antecedent, consequent, support, confidence)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare rule insert: %w", err)
	}
	defer ruleStmt.Close()
	for _, r := range rep.TrueRules {
		if _, err := ruleStmt.ExecContext(ctx, rep.RunID, r.Antecedent.Key(), r.Consequent.Key(), r.Support, r.Confidence); err != nil {
			return fmt.Errorf("failed to insert rule %s: %w", r.Rule, err)
		}
	}

	pointStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO curve_points (run_id, t, median_loss, median_loss_rate, median_precision,
			median_recall, mean_loss_rate, std_loss_rate, degenerate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare curve insert: %w", err)
	}
	defer pointStmt.Close()
	for _, p := range rep.Points {
		if _, err := pointStmt.ExecContext(ctx, rep.RunID, p.T, p.MedianLoss, p.MedianLossRate,
			p.MedianPrecision, p.MedianRecall, p.MeanLossRate, p.StdLossRate, p.Degenerate); err != nil {
			return fmt.Errorf("failed to insert curve point t=%d: %w", p.T, err)
		}
	}

	return tx.Commit()
}

// ResolveID expands a unique run ID prefix to the full ID.
func (s *RunStore) ResolveID(ctx context.Context, prefix string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveID(ctx, prefix)
}

func (s *RunStore) resolveID(ctx context.Context, prefix string) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("%w: empty id", ErrNotFound)
	}
	pattern := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix) + "%"
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs WHERE id LIKE ? ESCAPE '\' LIMIT 2`, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to look up run: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("failed to scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNotFound, prefix)
	case 1:
		return ids[0], nil
	default:
		for _, id := range ids {
			if id == prefix {
				return id, nil
			}
		}
		return "", fmt.Errorf("%w: %s", ErrAmbiguous, prefix)
	}
}

// GetRun rebuilds the full report for id, which may be a unique prefix.
func (s *RunStore) GetRun(ctx context.Context, id string) (*experiment.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, err := s.resolveID(ctx, id)
	if err != nil {
		return nil, err
	}

	var (
		started, finished, cfg string
		topology               string
		items                  int
	)
	rep := &experiment.Report{RunID: id}
	err = s.db.QueryRowContext(ctx, `
		SELECT started_at, finished_at, topology, items, config, degenerate
		FROM runs WHERE id = ?`, id).Scan(&started, &finished, &topology, &items, &cfg, &rep.Degenerate)
	if err != nil {
		return nil, fmt.Errorf("failed to read run %s: %w", id, err)
	}
	rep.StartedAt = parseTime(started)
	rep.FinishedAt = parseTime(finished)
	if err := json.Unmarshal([]byte(cfg), &rep.Config); err != nil {
		return nil, fmt.Errorf("failed to decode config of run %s: %w", id, err)
	}

	if rep.Tree, err = s.loadTree(ctx, id, dagtree.Topology(topology), items); err != nil {
		return nil, err
	}
	if rep.TrueRules, err = s.trueRules(ctx, id); err != nil {
		return nil, err
	}
	if rep.Points, err = s.curve(ctx, id); err != nil {
		return nil, err
	}
	return rep, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, started_at, finished_at, topology, items, node_count, true_rule_count,
			degenerate, min_loss, max_loss, average_loss
		FROM runs ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			r                 RunSummary
			started, finished string
			topology          string
			minL, maxL, avgL  sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &started, &finished, &topology, &r.Items, &r.Nodes,
			&r.TrueRules, &r.Degenerate, &minL, &maxL, &avgL); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		r.Topology = dagtree.Topology(topology)
		r.Loss = experiment.LossSummary{Min: minL.Float64, Max: maxL.Float64, Average: avgL.Float64}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadTree returns the model a run was measured on.
func (s *RunStore) LoadTree(ctx context.Context, id string) (*dagtree.Tree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, err := s.resolveID(ctx, id)
	if err != nil {
		return nil, err
	}
	var (
		topology string
		items    int
	)
	if err := s.db.QueryRowContext(ctx, `SELECT topology, items FROM runs WHERE id = ?`, id).Scan(&topology, &items); err != nil {
		return nil, fmt.Errorf("failed to read run %s: %w", id, err)
	}
	return s.loadTree(ctx, id, dagtree.Topology(topology), items)
}

// Curve returns a run's aggregated sweep ordered by transaction count.
func (s *RunStore) Curve(ctx context.Context, id string) ([]experiment.CurvePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, err := s.resolveID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.curve(ctx, id)
}

// DeleteRun removes a run and everything recorded for it.
func (s *RunStore) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.resolveID(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	return nil
}

// loadTree rebuilds the arena. Children are recovered from parent links in
// index order; dagtree.Validate requires that order of every saved tree, so
// the rebuilt tree numbers its items exactly like the saved one.
func (s *RunStore) loadTree(ctx context.Context, id string, topology dagtree.Topology, items int) (*dagtree.Tree, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, node_id, parent, p10, p11, leaf
		FROM tree_nodes WHERE run_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read tree of run %s: %w", id, err)
	}
	defer rows.Close()

	tree := &dagtree.Tree{Topology: topology, Items: items}
	for rows.Next() {
		var (
			idx  int
			n    dagtree.Node
			leaf int
		)
		if err := rows.Scan(&idx, &n.ID, &n.Parent, &n.P10, &n.P11, &leaf); err != nil {
			return nil, fmt.Errorf("failed to scan tree node: %w", err)
		}
		if idx != len(tree.Nodes) {
			return nil, fmt.Errorf("run %s: tree node %d out of sequence", id, idx)
		}
		n.Leaf = leaf != 0
		tree.Nodes = append(tree.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, n := range tree.Nodes {
		if n.Parent >= 0 && n.Parent < len(tree.Nodes) {
			tree.Nodes[n.Parent].Children = append(tree.Nodes[n.Parent].Children, i)
		}
	}
	if err := dagtree.Validate(tree); err != nil {
		return nil, fmt.Errorf("run %s: %w", id, err)
	}
	return tree, nil
}

func (s *RunStore) trueRules(ctx context.Context, id string) ([]rules.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT antecedent, consequent, support, confidence
		FROM true_rules WHERE run_id = ? ORDER BY antecedent, consequent`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules of run %s: %w", id, err)
	}
	defer rows.Close()

	var out []rules.Record
	for rows.Next() {
		var (
			ante, cons string
			r          rules.Record
		)
		if err := rows.Scan(&ante, &cons, &r.Support, &r.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		if r.Antecedent, err = rules.ParseItemset(ante); err != nil {
			return nil, err
		}
		if r.Consequent, err = rules.ParseItemset(cons); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *RunStore) curve(ctx context.Context, id string) ([]experiment.CurvePoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t, median_loss, median_loss_rate, median_precision, median_recall,
			mean_loss_rate, std_loss_rate, degenerate
		FROM curve_points WHERE run_id = ? ORDER BY t`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read curve of run %s: %w", id, err)
	}
	defer rows.Close()

	var out []experiment.CurvePoint
	for rows.Next() {
		var p experiment.CurvePoint
		if err := rows.Scan(&p.T, &p.MedianLoss, &p.MedianLossRate, &p.MedianPrecision,
			&p.MedianRecall, &p.MeanLossRate, &p.StdLossRate, &p.Degenerate); err != nil {
			return nil, fmt.Errorf("failed to scan curve point: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
