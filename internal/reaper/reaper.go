// Package reaper terminates tasks stuck past their deadline: running
// tasks that never finished, and queued/parked/aborted tasks nobody
// ever picked up. Terminated tasks are deleted from the store and
// their waiters notified with a terminal failure reason.
//
// The reaper runs on at most one control-plane instance at a time,
// gated by a PrimacyOracle, so waiters are never notified twice.
package reaper

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"fleetdispatch/internal/domain"
	"fleetdispatch/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Metric event kinds emitted per terminated task.
const (
	EventExpiredRunning    = "expired_running"
	EventExpiredStalled    = "expired_stalled"
	EventValidationStalled = "validation_stalled"
)

const (
	DefaultBatchCap          = 100
	DefaultValidationTimeout = 5 * time.Minute
)

// MetricsSink receives one aggregate event per terminated task.
type MetricsSink interface {
	RecordEvent(ctx context.Context, taskID uuid.UUID, kind string) error
}

// WaiterNotifier delivers the terminal failure reason to whoever is
// waiting on the task. Fire and forget.
type WaiterNotifier interface {
	NotifyFailure(ctx context.Context, waiterID, reason string) error
}

// PrimacyOracle reports whether this instance is the elected reaper.
type PrimacyOracle interface {
	IsPrimary(ctx context.Context) bool
}

type Reaper struct {
	store             store.TaskStore
	notifier          WaiterNotifier
	metrics           MetricsSink
	primacy           PrimacyOracle
	sampler           *Sampler
	batchCap          int
	validationTimeout time.Duration
	now               func() time.Time
	log               zerolog.Logger
}

func New(st store.TaskStore, notifier WaiterNotifier, metrics MetricsSink, primacy PrimacyOracle, log zerolog.Logger) *Reaper {
	return &Reaper{
		store:             st,
		notifier:          notifier,
		metrics:           metrics,
		primacy:           primacy,
		sampler:           NewSampler(rand.NewSource(time.Now().UnixNano())),
		batchCap:          DefaultBatchCap,
		validationTimeout: DefaultValidationTimeout,
		now:               time.Now,
		log:               log.With().Str("component", "reaper").Logger(),
	}
}

// SetClock overrides the reaper time source, for tests.
func (r *Reaper) SetClock(clock func() time.Time) { r.now = clock }

// SetBatchCap overrides the per-pass candidate cap.
func (r *Reaper) SetBatchCap(n int) { r.batchCap = n }

// ReapRunning sweeps tasks still marked started past their deadline.
// Best effort: any bounded subset per cycle is acceptable, the next
// cycle picks up the rest.
func (r *Reaper) ReapRunning(ctx context.Context, tenantID string) (int, error) {
	if !r.primacy.IsPrimary(ctx) {
		return 0, nil
	}
	ids, err := r.store.ListExpiredIDs(ctx, tenantID, []string{domain.StatusStarted}, r.batchCap, 1, 0)
	if err != nil {
		return 0, fmt.Errorf("list expired running tasks: %w", err)
	}
	return r.terminate(ctx, ids, EventExpiredRunning)
}

// ReapStalled sweeps queued, parked and aborted tasks past their
// deadline. Under sustained overload the candidate query is thinned to
// one creation-time hash bucket per cycle.
func (r *Reaper) ReapStalled(ctx context.Context, tenantID string) (int, error) {
	if !r.primacy.IsPrimary(ctx) {
		return 0, nil
	}
	clustering := r.sampler.Factor()
	bucket := r.sampler.Bucket()
	ids, err := r.store.ListExpiredIDs(ctx, tenantID, domain.StalledStatuses, r.batchCap, clustering, bucket)
	if err != nil {
		return 0, fmt.Errorf("list expired stalled tasks: %w", err)
	}
	r.sampler.Observe(len(ids), r.batchCap)
	if clustering > 1 {
		r.log.Debug().Int("clustering", clustering).Int("bucket", bucket).Int("candidates", len(ids)).Msg("sampling stalled backlog")
	}
	return r.terminate(ctx, ids, EventExpiredStalled)
}

// ObserveStaleValidation counts tasks stuck in validation past the
// timeout. It deliberately mutates nothing: the terminal disposition
// for these is still undecided, so the pass only surfaces the signal.
// TODO: decide whether stale-validation tasks should be failed like
// expired ones and fold them into terminate.
func (r *Reaper) ObserveStaleValidation(ctx context.Context, tenantID string) (int, error) {
	if !r.primacy.IsPrimary(ctx) {
		return 0, nil
	}
	before := r.now().Add(-r.validationTimeout)
	ids, err := r.store.ListStaleValidationIDs(ctx, tenantID, before, r.batchCap)
	if err != nil {
		return 0, fmt.Errorf("list stale validation tasks: %w", err)
	}
	for _, id := range ids {
		r.log.Warn().Str("task", id.String()).Msg("task stuck in validation")
		if err := r.metrics.RecordEvent(ctx, id, EventValidationStalled); err != nil {
			r.log.Warn().Err(err).Msg("metric emit failed")
		}
	}
	return len(ids), nil
}

// victim is one task headed for termination. The record may be absent
// when the body was unreadable; the waiter id may still be known from
// the projection fallback.
type victim struct {
	id       uuid.UUID
	task     *domain.Task
	waiterID string
}

// terminate deletes the given tasks and notifies their waiters.
// Deletion strictly precedes notification: a waiter is never told
// about a task that provably still exists.
func (r *Reaper) terminate(ctx context.Context, ids []uuid.UUID, kind string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	victims := r.resolve(ctx, ids)

	deleteIDs := make([]uuid.UUID, 0, len(victims))
	kept := victims[:0]
	for _, v := range victims {
		if v.task != nil && v.task.ForceExecute {
			// Exempt from expiry-driven termination.
			r.log.Debug().Str("task", v.id.String()).Msg("force-execute task spared")
			continue
		}
		deleteIDs = append(deleteIDs, v.id)
		kept = append(kept, v)
	}
	if len(deleteIDs) == 0 {
		return 0, nil
	}

	// Fail closed: if the delete did not go through, re-attempt next
	// cycle rather than notify about tasks that still exist.
	if err := r.store.BulkDelete(ctx, deleteIDs); err != nil {
		return 0, fmt.Errorf("bulk delete expired tasks: %w", err)
	}

	for _, v := range kept {
		if err := r.metrics.RecordEvent(ctx, v.id, kind); err != nil {
			r.log.Warn().Err(err).Str("task", v.id.String()).Msg("metric emit failed")
		}
		if v.waiterID == "" {
			continue
		}
		if err := r.notifier.NotifyFailure(ctx, v.waiterID, failureReason(v.task)); err != nil {
			// The task is already gone; forward progress beats
			// guaranteed delivery of the reason.
			r.log.Warn().Err(err).Str("waiter", v.waiterID).Msg("waiter notification failed")
		}
		r.log.Info().Str("task", v.id.String()).Str("waiter", v.waiterID).Str("kind", kind).Msg("expired task terminated")
	}
	return len(kept), nil
}

// resolve re-fetches full records for the candidate ids, degrading a
// tier at a time: bulk fetch, then per id, then the waiter-id
// projection alone. An id unreadable by every tier is still deleted so
// a poisoned record cannot wedge the backlog, but nobody is notified
// for it.
func (r *Reaper) resolve(ctx context.Context, ids []uuid.UUID) []victim {
	tasks, err := r.store.FetchByIDs(ctx, ids)
	if err == nil {
		byID := make(map[uuid.UUID]*domain.Task, len(tasks))
		for _, t := range tasks {
			byID[t.ID] = t
		}
		victims := make([]victim, 0, len(ids))
		for _, id := range ids {
			t := byID[id]
			if t == nil {
				// Already gone; deleting again is harmless.
				victims = append(victims, victim{id: id})
				continue
			}
			victims = append(victims, victim{id: id, task: t, waiterID: t.WaiterID})
		}
		return victims
	}
	r.log.Warn().Err(err).Int("batch", len(ids)).Msg("bulk fetch failed, degrading to per-id fetch")

	victims := make([]victim, 0, len(ids))
	for _, id := range ids {
		if t, err := r.store.FetchByID(ctx, id); err == nil {
			victims = append(victims, victim{id: id, task: t, waiterID: t.WaiterID})
			continue
		} else if err != store.ErrNotFound {
			r.log.Warn().Err(err).Str("task", id.String()).Msg("task body unreadable, degrading to waiter projection")
		}
		if waiterID, err := r.store.FetchWaiter(ctx, id); err == nil {
			victims = append(victims, victim{id: id, waiterID: waiterID})
			continue
		}
		// Unreadable by every tier: delete so it cannot wedge the
		// backlog, but do not notify.
		r.log.Error().Str("task", id.String()).Msg("task unreadable, queued for deletion without notification")
		victims = append(victims, victim{id: id})
	}
	return victims
}

func failureReason(t *domain.Task) string {
	if t == nil {
		return "task expired; could not determine cause"
	}
	return fmt.Sprintf("task %s exceeded its deadline (status=%s, expired at %s)",
		t.ID, t.Status, t.ExpiresAt.UTC().Format(time.RFC3339))
}
