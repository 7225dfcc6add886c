package store

import (
	"context"
	"fmt"
	"time"
)

// RetentionPolicy decides which runs to keep. Apply receives runs newest
// first and returns the ones to keep in the same order.
type RetentionPolicy interface {
	Apply(runs []RunSummary) (keep []RunSummary)
}

// CountPolicy keeps the MaxCount most recent runs.
type CountPolicy struct {
	MaxCount int
}

// Apply keeps the first MaxCount runs.
func (p *CountPolicy) Apply(runs []RunSummary) []RunSummary {
	if len(runs) <= p.MaxCount {
		return runs
	}
	return runs[:p.MaxCount]
}

// AgePolicy keeps runs started within MaxAge.
type AgePolicy struct {
	MaxAge time.Duration

	now func() time.Time
}

// Apply keeps runs whose StartedAt is within MaxAge of now.
func (p *AgePolicy) Apply(runs []RunSummary) []RunSummary {
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	cutoff := now().Add(-p.MaxAge)
	var keep []RunSummary
	for _, r := range runs {
		if r.StartedAt.After(cutoff) {
			keep = append(keep, r)
		}
	}
	return keep
}

// AllPolicy keeps a run only if every sub-policy keeps it.
type AllPolicy struct {
	Policies []RetentionPolicy
}

// Apply returns the runs kept by all sub-policies.
func (p *AllPolicy) Apply(runs []RunSummary) []RunSummary {
	votes := make(map[string]int, len(runs))
	for _, policy := range p.Policies {
		for _, r := range policy.Apply(runs) {
			votes[r.ID]++
		}
	}

	var keep []RunSummary
	for _, r := range runs {
		if votes[r.ID] == len(p.Policies) {
			keep = append(keep, r)
		}
	}
	return keep
}

// PolicyFor combines the configured limits. Zero disables a limit; with both
// disabled it returns nil.
func PolicyFor(maxRuns int, maxAge time.Duration) RetentionPolicy {
	var policies []RetentionPolicy
	if maxRuns > 0 {
		policies = append(policies, &CountPolicy{MaxCount: maxRuns})
	}
	if maxAge > 0 {
		policies = append(policies, &AgePolicy{MaxAge: maxAge})
	}
	switch len(policies) {
	case 0:
		return nil
	case 1:
		return policies[0]
	default:
		return &AllPolicy{Policies: policies}
	}
}

// Prune deletes every run policy does not keep and returns their IDs.
func (s *RunStore) Prune(ctx context.Context, policy RetentionPolicy) ([]string, error) {
	if policy == nil {
		return nil, nil
	}

	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		return nil, err
	}
	kept := make(map[string]bool, len(runs))
	for _, r := range policy.Apply(runs) {
		kept[r.ID] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var removed []string
	for _, r := range runs {
		if kept[r.ID] {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, r.ID); err != nil {
			return nil, fmt.Errorf("failed to delete run %s: %w", r.ID, err)
		}
		removed = append(removed, r.ID)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit prune: %w", err)
	}
	return removed, nil
}
