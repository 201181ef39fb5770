package dispatch

import "time"

// Backoff defaults. Attempts fan out quickly inside a round, then slow
// down geometrically across rounds.
const (
	DefaultBaseInterval = 60 * time.Second
	DefaultRetryDelay   = 5 * time.Second
	DefaultMaxRounds    = 5
)

// BackoffPolicy computes the next attempt time and round counter.
// It is owned by the engine instance so parallel per-tenant engines
// never share mutable configuration.
type BackoffPolicy struct {
	BaseInterval time.Duration // per-round delay multiplier
	RetryDelay   time.Duration // delay between attempts within a round
	MaxRounds    int           // enforced by the candidate query, not here
}

func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		BaseInterval: DefaultBaseInterval,
		RetryDelay:   DefaultRetryDelay,
		MaxRounds:    DefaultMaxRounds,
	}
}

// NextAttempt merges the just-offered batch into the tried set and
// decides the delay before the task may be rebroadcast again. When the
// tried set covers every eligible worker the round is complete: the
// set resets and the delay grows with the round number.
func (p BackoffPolicy) NextAttempt(tried, eligible, batch []string, round int) (newTried []string, newRound int, delay time.Duration) {
	seen := make(map[string]bool, len(tried)+len(batch))
	for _, w := range tried {
		seen[w] = true
	}
	for _, w := range batch {
		seen[w] = true
	}

	covered := true
	for _, w := range eligible {
		if !seen[w] {
			covered = false
			break
		}
	}
	if covered {
		return nil, round + 1, time.Duration(round+1) * p.BaseInterval
	}

	newTried = make([]string, 0, len(seen))
	// Preserve eligible order so the tried set stays a stable subset.
	for _, w := range eligible {
		if seen[w] {
			newTried = append(newTried, w)
		}
	}
	return newTried, round, p.RetryDelay
}
