// Package dispatch rebroadcasts unassigned queued tasks to rotating
// batches of eligible workers with escalating backoff. Claims are
// single-shot conditional updates on the task's broadcast count, so
// any number of engine instances can sweep the same tenant and at most
// one wins each attempt.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"fleetdispatch/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DeliveryTransport hands a claimed task to workers. Best effort: a
// failed offer is logged and retried implicitly on the next cycle.
type DeliveryTransport interface {
	Offer(ctx context.Context, taskID uuid.UUID, workerIDs []string) error
}

// SelectionAuditSink records which workers were offered a task and
// which were rotated out of the batch.
type SelectionAuditSink interface {
	RecordOffer(ctx context.Context, taskID uuid.UUID, offered, skipped []string) error
}

// Engine is the per-tenant rebroadcast loop body. One RunOnce call is
// one sweep; the driver owns cadence and per-tenant serialization.
type Engine struct {
	store     store.TaskStore
	transport DeliveryTransport
	audit     SelectionAuditSink
	backoff   BackoffPolicy
	limit     int
	now       func() time.Time
	log       zerolog.Logger
}

func NewEngine(st store.TaskStore, tr DeliveryTransport, audit SelectionAuditSink, backoff BackoffPolicy, log zerolog.Logger) *Engine {
	return &Engine{
		store:     st,
		transport: tr,
		audit:     audit,
		backoff:   backoff,
		limit:     DefaultBroadcastLimit,
		now:       time.Now,
		log:       log.With().Str("component", "rebroadcast").Logger(),
	}
}

// SetClock overrides the engine time source, for tests.
func (e *Engine) SetClock(clock func() time.Time) { e.now = clock }

// RunOnce sweeps one tenant's rebroadcast candidates and returns how
// many tasks were successfully claimed and offered. A query failure
// aborts the sweep; a lost claim race on one task never does.
func (e *Engine) RunOnce(ctx context.Context, tenantID string) (int, error) {
	cur, err := e.store.QueryLive(ctx, tenantID, e.backoff.MaxRounds)
	if err != nil {
		return 0, fmt.Errorf("query live candidates: %w", err)
	}
	defer cur.Close()

	rebroadcast := 0
	for cur.Next() {
		t := cur.Task()

		if len(t.EligibleWorkers) == 0 {
			// Not an error: reconsidered every cycle until workers
			// appear or the task expires.
			e.log.Debug().Str("task", t.ID.String()).Msg("no eligible workers, skipping")
			continue
		}

		batch, rotated := SelectBatch(t.EligibleWorkers, e.limit)
		newTried, newRound, delay := e.backoff.NextAttempt(t.TriedWorkers, t.EligibleWorkers, batch, t.BroadcastRound)

		now := e.now()
		claimed, err := e.store.ConditionalUpdate(ctx, t.ID, t.BroadcastCount, store.Mutation{
			EligibleWorkers: rotated,
			TriedWorkers:    newTried,
			BroadcastRound:  newRound,
			NextBroadcastAt: now.Add(delay),
			LastBroadcastAt: now,
		})
		if err != nil {
			e.log.Error().Err(err).Str("task", t.ID.String()).Msg("conditional update failed")
			continue
		}
		if claimed == nil {
			// Another instance advanced the broadcast count first.
			e.log.Debug().Str("task", t.ID.String()).Int("count", t.BroadcastCount).Msg("lost claim race")
			continue
		}

		if err := e.transport.Offer(ctx, t.ID, batch); err != nil {
			e.log.Warn().Err(err).Str("task", t.ID.String()).Msg("offer delivery failed")
		}
		skipped := t.EligibleWorkers[len(batch):]
		if err := e.audit.RecordOffer(ctx, t.ID, batch, skipped); err != nil {
			e.log.Warn().Err(err).Str("task", t.ID.String()).Msg("selection audit failed")
		}

		e.log.Info().
			Str("task", t.ID.String()).
			Strs("offered", batch).
			Int("round", newRound).
			Dur("next_in", delay).
			Msg("task rebroadcast")
		rebroadcast++
	}
	if err := cur.Err(); err != nil {
		return rebroadcast, fmt.Errorf("iterate live candidates: %w", err)
	}
	return rebroadcast, nil
}
