// Package transport implements the scheduler's outward-facing
// collaborators on Redis: per-worker offer queues, the selection audit
// trail, reaper metrics counters, and waiter failure notifications.
package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// OfferKey is the list a worker polls for task offers.
func OfferKey(workerID string) string {
	return "offer:" + workerID
}

// AuditKey is the capped list of selection-audit records.
func AuditKey() string {
	return "audit:offers"
}

// MetricKey is the counter for one reaper event kind.
func MetricKey(kind string) string {
	return "metrics:reaper:" + kind
}

// WaiterChannel is the pub/sub channel a waiter subscribes to.
func WaiterChannel(waiterID string) string {
	return "waiter:" + waiterID
}

// auditTrim caps the per-tenant audit list length.
const auditTrim = 1000

// Connect parses a Redis URL, opens a client and verifies it with a
// ping.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// RedisDelivery offers tasks to workers by pushing one message per
// worker onto its offer list.
type RedisDelivery struct {
	rdb *redis.Client
}

func NewRedisDelivery(rdb *redis.Client) *RedisDelivery {
	return &RedisDelivery{rdb: rdb}
}

type offerMsg struct {
	TaskID    uuid.UUID `json:"task_id"`
	OfferedAt time.Time `json:"offered_at"`
}

func (d *RedisDelivery) Offer(ctx context.Context, taskID uuid.UUID, workerIDs []string) error {
	b, _ := json.Marshal(offerMsg{TaskID: taskID, OfferedAt: time.Now().UTC()})
	pipe := d.rdb.Pipeline()
	for _, w := range workerIDs {
		pipe.RPush(ctx, OfferKey(w), b)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// RedisAudit appends selection-audit records to a capped list.
type RedisAudit struct {
	rdb *redis.Client
}

func NewRedisAudit(rdb *redis.Client) *RedisAudit {
	return &RedisAudit{rdb: rdb}
}

type auditRecord struct {
	TaskID  uuid.UUID `json:"task_id"`
	Offered []string  `json:"offered"`
	Skipped []string  `json:"skipped"`
	At      time.Time `json:"at"`
}

func (a *RedisAudit) RecordOffer(ctx context.Context, taskID uuid.UUID, offered, skipped []string) error {
	b, _ := json.Marshal(auditRecord{TaskID: taskID, Offered: offered, Skipped: skipped, At: time.Now().UTC()})
	key := AuditKey()
	pipe := a.rdb.TxPipeline()
	pipe.RPush(ctx, key, b)
	pipe.LTrim(ctx, key, -auditTrim, -1)
	_, err := pipe.Exec(ctx)
	return err
}

// RedisMetrics counts reaper events per kind.
type RedisMetrics struct {
	rdb *redis.Client
}

func NewRedisMetrics(rdb *redis.Client) *RedisMetrics {
	return &RedisMetrics{rdb: rdb}
}

func (m *RedisMetrics) RecordEvent(ctx context.Context, taskID uuid.UUID, kind string) error {
	return m.rdb.Incr(ctx, MetricKey(kind)).Err()
}

// RedisNotifier publishes terminal failure reasons to waiters.
// Fire and forget: a missed publish is logged by the caller, never
// retried, because the task is already gone.
type RedisNotifier struct {
	rdb *redis.Client
}

func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb}
}

type failureMsg struct {
	WaiterID string    `json:"waiter_id"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

func (n *RedisNotifier) NotifyFailure(ctx context.Context, waiterID, reason string) error {
	b, _ := json.Marshal(failureMsg{WaiterID: waiterID, Reason: reason, At: time.Now().UTC()})
	return n.rdb.Publish(ctx, WaiterChannel(waiterID), b).Err()
}
