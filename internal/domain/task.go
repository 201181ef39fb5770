package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Live task statuses. Anything else is terminal and out of the
// scheduler's reach; the reaper deletes rather than transitions, so
// terminal states never appear in the store.
const (
	StatusQueued  = "queued"
	StatusStarted = "started"
	StatusParked  = "parked"
	StatusAborted = "aborted"
)

// StalledStatuses are the non-running statuses swept by the reaper's
// second pass.
var StalledStatuses = []string{StatusQueued, StatusParked, StatusAborted}

// Task is the unit of dispatch handed to remote workers.
type Task struct {
	ID       uuid.UUID `json:"id"`        // immutable identifier
	TenantID string    `json:"tenant_id"` // owning tenant, immutable
	Status   string    `json:"status"`

	// EligibleWorkers is both the round-robin cursor and, by order,
	// the recency of last offer. Mutated only by the scheduler.
	EligibleWorkers []string `json:"eligible_workers"`
	// TriedWorkers is the set of workers already offered in the
	// current round; cleared when a round completes.
	TriedWorkers []string `json:"tried_workers"`

	// BroadcastCount doubles as the optimistic-concurrency version
	// token for claiming the task.
	BroadcastCount int `json:"broadcast_count"`
	BroadcastRound int `json:"broadcast_round"`

	NextBroadcastAt     time.Time  `json:"next_broadcast_at"`
	ExpiresAt           time.Time  `json:"expires_at"`
	LastBroadcastAt     *time.Time `json:"last_broadcast_at"`
	ValidationStartedAt *time.Time `json:"validation_started_at"`

	WaiterID       string `json:"waiter_id"`       // notified on terminal failure, may be empty
	ForceExecute   bool   `json:"force_execute"`   // exempt from expiry-driven termination
	AssignedWorker string `json:"assigned_worker"` // set by an accepting worker, empty while unassigned

	Payload   json.RawMessage `json:"payload"` // opaque to the scheduler
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Rebroadcastable reports whether the task is a rebroadcast candidate
// at the given instant.
func (t *Task) Rebroadcastable(now time.Time, maxRounds int) bool {
	return t.Status == StatusQueued &&
		t.AssignedWorker == "" &&
		!t.NextBroadcastAt.After(now) &&
		t.ExpiresAt.After(now) &&
		t.BroadcastRound < maxRounds
}

// Expired reports whether the task is past its deadline.
func (t *Task) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}
