package ratelimit

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock freezes l's clock and returns the instant for the test to advance.
func fakeClock(l *Limiter) *time.Time {
	now := time.Now()
	l.now = func() time.Time { return now }
	return &now
}

func TestAllow_Burst(t *testing.T) {
	tests := []struct {
		name  string
		burst int
	}{
		{"single", 1},
		{"small", 3},
		{"large", 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLimiter(1.0, tt.burst)
			fakeClock(l)
			for i := 0; i < tt.burst; i++ {
				if !l.Allow("k") {
					t.Fatalf("request %d should be allowed (within burst)", i+1)
				}
			}
			if l.Allow("k") {
				t.Error("request after burst exhaustion should be rejected")
			}
		})
	}
}

func TestAllow_Refill(t *testing.T) {
	l := NewLimiter(10.0, 2)
	now := fakeClock(l)

	l.Allow("k")
	l.Allow("k")
	if l.Allow("k") {
		t.Fatal("expected rejection after burst")
	}

	// 50ms at 10/s is half a token.
	*now = now.Add(50 * time.Millisecond)
	if l.Allow("k") {
		t.Error("half a token should not be enough")
	}

	*now = now.Add(50 * time.Millisecond)
	if !l.Allow("k") {
		t.Error("expected allow after a full token refilled")
	}
}

func TestAllow_RefillCappedAtBurst(t *testing.T) {
	l := NewLimiter(100.0, 3)
	now := fakeClock(l)

	for i := 0; i < 3; i++ {
		l.Allow("k")
	}
	*now = now.Add(10 * time.Second)

	for i := 0; i < 3; i++ {
		if !l.Allow("k") {
			t.Errorf("request %d should be allowed after refill", i+1)
		}
	}
	if l.Allow("k") {
		t.Error("refill must not exceed burst")
	}
}

func TestAllow_IndependentKeys(t *testing.T) {
	l := NewLimiter(0, 1)
	if !l.Allow("a") {
		t.Fatal("first call for a should pass")
	}
	if l.Allow("a") {
		t.Error("a should be exhausted")
	}
	if !l.Allow("b") {
		t.Error("b has its own bucket")
	}
}

func TestAllow_Concurrent(t *testing.T) {
	l := NewLimiter(0, 50)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("k") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed %d requests, want exactly 50 with zero refill", allowed)
	}
}

func TestToolLimiters(t *testing.T) {
	limiters := NewToolLimiters()

	for _, tool := range []string{"rulesim_generate_tree", "rulesim_sample", "rulesim_run", "rulesim_runs"} {
		if _, ok := limiters[tool]; !ok {
			t.Errorf("missing limiter for %s", tool)
		}
	}

	if err := limiters.Check("unknown_tool"); err != nil {
		t.Errorf("unlimited tool returned %v", err)
	}

	run := limiters["rulesim_run"]
	fakeClock(run)
	for i := 0; i < run.burst; i++ {
		if err := limiters.Check("rulesim_run"); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
	}
	if err := limiters.Check("rulesim_run"); !errors.Is(err, ErrLimited) {
		t.Errorf("error = %v, want ErrLimited", err)
	}
}
