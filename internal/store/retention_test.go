package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var retentionNow = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

// summaries returns n runs one day apart, newest first.
func summaries(n int) []RunSummary {
	out := make([]RunSummary, n)
	for i := range out {
		out[i] = RunSummary{
			ID:        fmt.Sprintf("run-%d", i),
			StartedAt: retentionNow.Add(-time.Duration(i) * 24 * time.Hour),
		}
	}
	return out
}

func ids(runs []RunSummary) []string {
	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.ID
	}
	return out
}

func TestRetentionPolicies(t *testing.T) {
	fixed := func() time.Time { return retentionNow }
	tests := []struct {
		name   string
		policy RetentionPolicy
		want   int
	}{
		{"count under limit", &CountPolicy{MaxCount: 10}, 5},
		{"count over limit", &CountPolicy{MaxCount: 2}, 2},
		{"count zero", &CountPolicy{MaxCount: 0}, 0},
		{"age", &AgePolicy{MaxAge: 60 * time.Hour, now: fixed}, 3},
		{"all", &AllPolicy{Policies: []RetentionPolicy{
			&CountPolicy{MaxCount: 2},
			&AgePolicy{MaxAge: 60 * time.Hour, now: fixed},
		}}, 2},
		{"all, age tighter", &AllPolicy{Policies: []RetentionPolicy{
			&CountPolicy{MaxCount: 4},
			&AgePolicy{MaxAge: 30 * time.Hour, now: fixed},
		}}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keep := tt.policy.Apply(summaries(5))
			if len(keep) != tt.want {
				t.Fatalf("kept %v, want %d runs", ids(keep), tt.want)
			}
			for i, r := range keep {
				if r.ID != fmt.Sprintf("run-%d", i) {
					t.Errorf("kept %v, want the newest runs in order", ids(keep))
					break
				}
			}
		})
	}
}

func TestPolicyFor(t *testing.T) {
	if p := PolicyFor(0, 0); p != nil {
		t.Errorf("PolicyFor(0, 0) = %T, want nil", p)
	}
	if _, ok := PolicyFor(3, 0).(*CountPolicy); !ok {
		t.Error("count-only limit should be a CountPolicy")
	}
	if _, ok := PolicyFor(0, time.Hour).(*AgePolicy); !ok {
		t.Error("age-only limit should be an AgePolicy")
	}
	if _, ok := PolicyFor(3, time.Hour).(*AllPolicy); !ok {
		t.Error("both limits should combine into an AllPolicy")
	}
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		rep := testReport(t, fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Minute))
		if err := s.SaveReport(ctx, rep); err != nil {
			t.Fatalf("SaveReport() error = %v", err)
		}
	}

	removed, err := s.Prune(ctx, &CountPolicy{MaxCount: 1})
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if len(removed) != 3 {
		t.Errorf("removed %v, want 3 runs", removed)
	}

	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != "run-3" {
		t.Errorf("remaining = %v, want [run-3]", ids(runs))
	}
	if _, err := s.Curve(ctx, "run-0"); !errors.Is(err, ErrNotFound) {
		t.Errorf("pruned run curve error = %v, want ErrNotFound", err)
	}

	removed, err = s.Prune(ctx, nil)
	if err != nil || removed != nil {
		t.Errorf("Prune(nil) = %v, %v; want no-op", removed, err)
	}
}
