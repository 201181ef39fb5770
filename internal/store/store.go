// Package store defines the task store consumed by the dispatch and
// reaper engines. The single write primitive is ConditionalUpdate, a
// match-then-mutate keyed on the task's broadcast count, so any
// backend with a compare-and-set can implement it.
package store

import (
	"context"
	"errors"
	"time"

	"fleetdispatch/internal/domain"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a task id does not exist.
var ErrNotFound = errors.New("store: task not found")

// Mutation is the field set written by a successful rebroadcast claim.
// BroadcastCount is advanced by the store itself, never by the caller.
type Mutation struct {
	EligibleWorkers []string
	TriedWorkers    []string
	BroadcastRound  int
	NextBroadcastAt time.Time
	LastBroadcastAt time.Time
}

// Cursor is a forward-only iteration over live candidates. It never
// materializes the full result set.
type Cursor interface {
	// Next advances the cursor, returning false at the end or on error.
	Next() bool
	// Task returns the record at the current position.
	Task() *domain.Task
	// Err reports the error that terminated iteration, if any.
	Err() error
	Close()
}

// TaskStore is the document store boundary.
type TaskStore interface {
	Insert(ctx context.Context, t *domain.Task) error

	// QueryLive returns a cursor over unassigned queued tasks of the
	// tenant that are due for another broadcast attempt and not yet
	// expired or out of rounds.
	QueryLive(ctx context.Context, tenantID string, maxRounds int) (Cursor, error)

	// ConditionalUpdate applies mut and increments broadcast_count if
	// and only if the stored count still equals expectedCount. It
	// returns the updated record, or (nil, nil) when the match failed
	// because a concurrent claimer already advanced the count.
	ConditionalUpdate(ctx context.Context, id uuid.UUID, expectedCount int, mut Mutation) (*domain.Task, error)

	// ListExpiredIDs is a key-only listing of tasks in one of statuses
	// whose deadline has passed, capped at limit. When clustering > 1
	// the result is thinned to tasks whose creation-time hash falls in
	// the given bucket modulo clustering.
	ListExpiredIDs(ctx context.Context, tenantID string, statuses []string, limit, clustering, bucket int) ([]uuid.UUID, error)

	// ListStaleValidationIDs lists tasks whose validation started
	// before the given instant and never finished.
	ListStaleValidationIDs(ctx context.Context, tenantID string, before time.Time, limit int) ([]uuid.UUID, error)

	FetchByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.Task, error)
	FetchByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// FetchWaiter reads only the waiter id projection, for records
	// whose full body cannot be deserialized.
	FetchWaiter(ctx context.Context, id uuid.UUID) (string, error)

	// BulkDelete removes the given ids in one operation. Missing ids
	// are not an error.
	BulkDelete(ctx context.Context, ids []uuid.UUID) error
}
