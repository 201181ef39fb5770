package store

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"fleetdispatch/internal/domain"

	"github.com/google/uuid"
)

// Memory is an in-process TaskStore. It backs the unit tests and lets
// the daemon run without infrastructure; the conditional update is
// atomic under the store mutex, matching the Postgres semantics.
type Memory struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task
	clock func() time.Time
}

func NewMemory() *Memory {
	return &Memory{tasks: make(map[uuid.UUID]*domain.Task), clock: time.Now}
}

// SetClock overrides the store's time source, for tests.
func (m *Memory) SetClock(clock func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
}

func cloneTask(t *domain.Task) *domain.Task {
	c := *t
	c.EligibleWorkers = append([]string(nil), t.EligibleWorkers...)
	c.TriedWorkers = append([]string(nil), t.TriedWorkers...)
	c.Payload = append([]byte(nil), t.Payload...)
	return &c
}

func (m *Memory) Insert(ctx context.Context, t *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := cloneTask(t)
	now := m.clock()
	c.CreatedAt = now
	c.UpdatedAt = now
	m.tasks[c.ID] = c
	return nil
}

// sliceCursor iterates a snapshot taken at query time.
type sliceCursor struct {
	tasks []*domain.Task
	pos   int
}

func (c *sliceCursor) Next() bool {
	if c.pos >= len(c.tasks) {
		return false
	}
	c.pos++
	return true
}

func (c *sliceCursor) Task() *domain.Task { return c.tasks[c.pos-1] }
func (c *sliceCursor) Err() error         { return nil }
func (c *sliceCursor) Close()             {}

func (m *Memory) QueryLive(ctx context.Context, tenantID string, maxRounds int) (Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	var out []*domain.Task
	for _, t := range m.tasks {
		if t.TenantID == tenantID && t.Rebroadcastable(now, maxRounds) {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NextBroadcastAt.Before(out[j].NextBroadcastAt)
	})
	return &sliceCursor{tasks: out}, nil
}

func (m *Memory) ConditionalUpdate(ctx context.Context, id uuid.UUID, expectedCount int, mut Mutation) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.BroadcastCount != expectedCount {
		return nil, nil
	}
	t.EligibleWorkers = append([]string(nil), mut.EligibleWorkers...)
	t.TriedWorkers = append([]string(nil), mut.TriedWorkers...)
	t.BroadcastRound = mut.BroadcastRound
	t.NextBroadcastAt = mut.NextBroadcastAt
	last := mut.LastBroadcastAt
	t.LastBroadcastAt = &last
	t.BroadcastCount++
	t.UpdatedAt = m.clock()
	return cloneTask(t), nil
}

func creationBucket(createdAt time.Time, clustering int) int {
	h := fnv.New32a()
	h.Write([]byte(createdAt.UTC().Format(time.RFC3339Nano)))
	return int(h.Sum32() % uint32(clustering))
}

func (m *Memory) ListExpiredIDs(ctx context.Context, tenantID string, statuses []string, limit, clustering, bucket int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	inStatus := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		inStatus[s] = true
	}
	var ids []uuid.UUID
	for _, t := range m.tasks {
		if len(ids) >= limit {
			break
		}
		if t.TenantID != tenantID || !inStatus[t.Status] || !t.Expired(now) {
			continue
		}
		if clustering > 1 && creationBucket(t.CreatedAt, clustering) != bucket {
			continue
		}
		ids = append(ids, t.ID)
	}
	return ids, nil
}

func (m *Memory) ListStaleValidationIDs(ctx context.Context, tenantID string, before time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for _, t := range m.tasks {
		if len(ids) >= limit {
			break
		}
		if t.TenantID != tenantID || t.ValidationStartedAt == nil {
			continue
		}
		if t.ValidationStartedAt.After(before) {
			continue
		}
		ids = append(ids, t.ID)
	}
	return ids, nil
}

func (m *Memory) FetchByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Task
	for _, id := range ids {
		if t, ok := m.tasks[id]; ok {
			out = append(out, cloneTask(t))
		}
	}
	return out, nil
}

func (m *Memory) FetchByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTask(t), nil
}

func (m *Memory) FetchWaiter(ctx context.Context, id uuid.UUID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return "", ErrNotFound
	}
	return t.WaiterID, nil
}

func (m *Memory) BulkDelete(ctx context.Context, ids []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.tasks, id)
	}
	return nil
}
