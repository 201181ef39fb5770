package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"fleetdispatch/internal/domain"
	"fleetdispatch/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrNoTenant    = errors.New("tenant_id is required")
	ErrBadTTL      = errors.New("ttl must be positive")
	ErrTaskMissing = errors.New("task not found")
)

// DefaultTTL bounds how long a submitted task may wait for a worker.
const DefaultTTL = 10 * time.Minute

// TaskService is the submit/lookup surface in front of the store.
// Task creation lives here rather than in the scheduler: the engines
// only ever mutate tasks that already exist.
type TaskService struct {
	store store.TaskStore
	log   zerolog.Logger
}

func NewTaskService(st store.TaskStore, log zerolog.Logger) *TaskService {
	return &TaskService{store: st, log: log.With().Str("component", "task-service").Logger()}
}

type SubmitRequest struct {
	TenantID        string          `json:"tenant_id"`
	EligibleWorkers []string        `json:"eligible_workers"`
	TTL             time.Duration   `json:"-"`
	TTLSeconds      int             `json:"ttl_seconds"`
	WaiterID        string          `json:"waiter_id"`
	ForceExecute    bool            `json:"force_execute"`
	Payload         json.RawMessage `json:"payload"`
}

// Submit creates a queued task due for broadcast immediately.
func (s *TaskService) Submit(ctx context.Context, req SubmitRequest) (*domain.Task, error) {
	if req.TenantID == "" {
		return nil, ErrNoTenant
	}
	ttl := req.TTL
	if ttl == 0 && req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	if ttl < 0 {
		return nil, ErrBadTTL
	}
	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	now := time.Now().UTC()
	t := &domain.Task{
		ID:              uuid.New(),
		TenantID:        req.TenantID,
		Status:          domain.StatusQueued,
		EligibleWorkers: req.EligibleWorkers,
		TriedWorkers:    []string{},
		NextBroadcastAt: now,
		ExpiresAt:       now.Add(ttl),
		WaiterID:        req.WaiterID,
		ForceExecute:    req.ForceExecute,
		Payload:         payload,
	}
	if err := s.store.Insert(ctx, t); err != nil {
		return nil, err
	}
	s.log.Info().Str("task", t.ID.String()).Str("tenant", t.TenantID).Time("expires_at", t.ExpiresAt).Msg("task submitted")
	return t, nil
}

// Get looks a task up by id. A reaped or completed task reads as
// missing: the store does not retain terminal records.
func (s *TaskService) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	t, err := s.store.FetchByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTaskMissing
	}
	return t, err
}
