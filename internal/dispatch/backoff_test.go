package dispatch

import (
	"fmt"
	"testing"
	"time"
)

func testPolicy() BackoffPolicy {
	return BackoffPolicy{
		BaseInterval: time.Minute,
		RetryDelay:   5 * time.Second,
		MaxRounds:    5,
	}
}

func TestNextAttemptWithinRound(t *testing.T) {
	p := testPolicy()
	eligible := []string{"w1", "w2", "w3", "w4"}

	tried, round, delay := p.NextAttempt(nil, eligible, []string{"w1", "w2"}, 0)
	if round != 0 {
		t.Errorf("round: got %d, want 0", round)
	}
	if delay != p.RetryDelay {
		t.Errorf("delay: got %s, want %s", delay, p.RetryDelay)
	}
	if len(tried) != 2 {
		t.Errorf("tried: got %v, want 2 workers", tried)
	}
}

func TestNextAttemptRoundCompletes(t *testing.T) {
	p := testPolicy()
	eligible := []string{"w1", "w2", "w3"}

	tried, round, delay := p.NextAttempt([]string{"w1", "w2"}, eligible, []string{"w3"}, 2)
	if round != 3 {
		t.Errorf("round: got %d, want 3", round)
	}
	if len(tried) != 0 {
		t.Errorf("tried not cleared: %v", tried)
	}
	if delay != 3*time.Minute {
		t.Errorf("delay: got %s, want 3m", delay)
	}
}

// A fixed eligible set of size N with batches of size M advances the
// round after at most ceil(N/M) applications, and the cross-round
// delay never decreases.
func TestNextAttemptRoundAdvanceAndMonotonicity(t *testing.T) {
	p := testPolicy()
	for n := 1; n <= 20; n++ {
		eligible := make([]string, n)
		for i := range eligible {
			eligible[i] = fmt.Sprintf("w%d", i)
		}
		m := n
		if m > DefaultBroadcastLimit {
			m = DefaultBroadcastLimit
		}

		var tried []string
		round := 0
		lastRoundDelay := time.Duration(0)
		attempts := 0
		maxAttempts := (n + m - 1) / m

		cursor := eligible
		for round == 0 {
			attempts++
			if attempts > maxAttempts {
				t.Fatalf("n=%d m=%d: round did not advance after %d attempts", n, m, attempts)
			}
			batch, rotated := SelectBatch(cursor, m)
			var delay time.Duration
			tried, round, delay = p.NextAttempt(tried, eligible, batch, round)
			cursor = rotated
			if round > 0 {
				if delay < lastRoundDelay {
					t.Fatalf("n=%d: delay decreased across rounds: %s < %s", n, delay, lastRoundDelay)
				}
				lastRoundDelay = delay
			}
		}
	}
}

func TestNextAttemptDelayGrowsAcrossRounds(t *testing.T) {
	p := testPolicy()
	eligible := []string{"w1"}
	var prev time.Duration
	for round := 0; round < p.MaxRounds; round++ {
		_, newRound, delay := p.NextAttempt(nil, eligible, eligible, round)
		if newRound != round+1 {
			t.Fatalf("round %d: got %d, want %d", round, newRound, round+1)
		}
		if delay < prev {
			t.Fatalf("round %d: delay %s below previous %s", round, delay, prev)
		}
		prev = delay
	}
}
