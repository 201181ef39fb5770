package dispatch

import (
	"fmt"
	"reflect"
	"testing"
)

func TestSelectBatchRotates(t *testing.T) {
	eligible := []string{"w1", "w2", "w3", "w4", "w5"}
	batch, rotated := SelectBatch(eligible, 2)

	if !reflect.DeepEqual(batch, []string{"w1", "w2"}) {
		t.Errorf("batch: got %v, want [w1 w2]", batch)
	}
	if !reflect.DeepEqual(rotated, []string{"w3", "w4", "w5", "w1", "w2"}) {
		t.Errorf("rotated: got %v, want [w3 w4 w5 w1 w2]", rotated)
	}
	// Input must not be mutated.
	if !reflect.DeepEqual(eligible, []string{"w1", "w2", "w3", "w4", "w5"}) {
		t.Errorf("eligible mutated: %v", eligible)
	}
}

func TestSelectBatchLimitClamped(t *testing.T) {
	eligible := []string{"w1", "w2", "w3"}
	batch, rotated := SelectBatch(eligible, DefaultBroadcastLimit)

	if !reflect.DeepEqual(batch, eligible) {
		t.Errorf("batch: got %v, want all of %v", batch, eligible)
	}
	// A full rotation is the identity permutation.
	if !reflect.DeepEqual(rotated, eligible) {
		t.Errorf("rotated: got %v, want %v", rotated, eligible)
	}
}

func TestSelectBatchEmpty(t *testing.T) {
	batch, rotated := SelectBatch(nil, 10)
	if len(batch) != 0 || len(rotated) != 0 {
		t.Errorf("empty eligible: got batch=%v rotated=%v", batch, rotated)
	}
}

// For every size and limit, the batch is the prefix and the rotated
// list is a cyclic left-shift: same length, same multiset, remainder
// followed by the batch.
func TestSelectBatchCyclicShiftProperty(t *testing.T) {
	for size := 1; size <= 25; size++ {
		eligible := make([]string, size)
		for i := range eligible {
			eligible[i] = fmt.Sprintf("w%d", i)
		}
		for limit := 1; limit <= size; limit++ {
			batch, rotated := SelectBatch(eligible, limit)

			if len(batch) != limit {
				t.Fatalf("size=%d limit=%d: batch len %d", size, limit, len(batch))
			}
			if !reflect.DeepEqual(batch, eligible[:limit]) {
				t.Fatalf("size=%d limit=%d: batch is not the prefix", size, limit)
			}
			if len(rotated) != size {
				t.Fatalf("size=%d limit=%d: rotated len %d", size, limit, len(rotated))
			}
			want := append(append([]string(nil), eligible[limit:]...), eligible[:limit]...)
			if !reflect.DeepEqual(rotated, want) {
				t.Fatalf("size=%d limit=%d: rotated %v, want %v", size, limit, rotated, want)
			}
		}
	}
}
