package reaper

import (
	"math/rand"
	"testing"
)

func TestNextClusteringFactorDoublesOnCapHit(t *testing.T) {
	got := 1
	want := []int{2, 4, 8, 16, 16, 16}
	for i, w := range want {
		got = NextClusteringFactor(100, 100, got)
		if got != w {
			t.Fatalf("step %d: got %d, want %d", i, got, w)
		}
	}
}

func TestNextClusteringFactorHalvesWhenDrained(t *testing.T) {
	got := 16
	want := []int{8, 4, 2, 1, 1}
	for i, w := range want {
		got = NextClusteringFactor(3, 100, got)
		if got != w {
			t.Fatalf("step %d: got %d, want %d", i, got, w)
		}
	}
}

func TestNextClusteringFactorBounds(t *testing.T) {
	for current := -4; current <= 64; current++ {
		for _, batch := range []int{0, 1, 99, 100} {
			next := NextClusteringFactor(batch, 100, current)
			if next < 1 || next > 16 {
				t.Fatalf("current=%d batch=%d: factor %d out of [1,16]", current, batch, next)
			}
		}
	}
}

func TestSamplerBucketWithinFactor(t *testing.T) {
	s := NewSampler(rand.NewSource(1))
	if s.Factor() != 1 {
		t.Fatalf("initial factor: got %d, want 1", s.Factor())
	}
	if b := s.Bucket(); b != 0 {
		t.Fatalf("bucket without sampling: got %d, want 0", b)
	}

	// Saturate until the factor pins at 16.
	for i := 0; i < 10; i++ {
		s.Observe(100, 100)
	}
	if s.Factor() != 16 {
		t.Fatalf("saturated factor: got %d, want 16", s.Factor())
	}
	for i := 0; i < 100; i++ {
		if b := s.Bucket(); b < 0 || b >= 16 {
			t.Fatalf("bucket %d outside [0,16)", b)
		}
	}

	s.Observe(5, 100)
	if s.Factor() != 8 {
		t.Fatalf("relaxed factor: got %d, want 8", s.Factor())
	}
}
