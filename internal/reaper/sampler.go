package reaper

import "math/rand"

// Clustering factor bounds. 1 means no sampling.
const (
	minClustering = 1
	maxClustering = 16
)

// NextClusteringFactor adapts the backlog-thinning factor: a capped
// batch means more backlog than one cycle can drain, so sampling
// coarsens; an uncapped batch relaxes it again.
func NextClusteringFactor(lastBatchSize, batchCap, current int) int {
	if current < minClustering {
		current = minClustering
	}
	if lastBatchSize == batchCap {
		if next := current * 2; next < maxClustering {
			return next
		}
		return maxClustering
	}
	if next := current / 2; next > minClustering {
		return next
	}
	return minClustering
}

// Sampler holds the clustering factor for one reaper instance. The
// state is process-local: each control-plane instance adapts on its
// own, which only affects thinning heuristics, not correctness.
type Sampler struct {
	current int
	rand    *rand.Rand
}

func NewSampler(src rand.Source) *Sampler {
	return &Sampler{current: minClustering, rand: rand.New(src)}
}

// Factor returns the clustering factor for the coming cycle.
func (s *Sampler) Factor() int { return s.current }

// Bucket picks the creation-time hash bucket to sweep this cycle.
// Random rather than sequential so sustained overload spreads across
// buckets instead of starving the newest records.
func (s *Sampler) Bucket() int {
	if s.current <= 1 {
		return 0
	}
	return s.rand.Intn(s.current)
}

// Observe feeds back the size of the batch the last query returned.
func (s *Sampler) Observe(lastBatchSize, batchCap int) {
	s.current = NextClusteringFactor(lastBatchSize, batchCap, s.current)
}
