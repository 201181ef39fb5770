package dispatch

// DefaultBroadcastLimit caps how many workers one rebroadcast attempt
// fans out to.
const DefaultBroadcastLimit = 10

// SelectBatch picks the next batch of workers to offer a task to and
// rotates the eligible list so the batch moves to the tail. The
// eligible order is the round-robin cursor: the head is always the
// least recently offered worker.
//
// An empty eligible list yields an empty batch; the caller skips the
// task.
func SelectBatch(eligible []string, limit int) (batch, rotated []string) {
	if len(eligible) == 0 {
		return nil, nil
	}
	if limit > len(eligible) {
		limit = len(eligible)
	}
	batch = append([]string(nil), eligible[:limit]...)
	rotated = append(append([]string(nil), eligible[limit:]...), batch...)
	return batch, rotated
}
