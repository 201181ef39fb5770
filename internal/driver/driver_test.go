package driver

import (
	"context"
	"testing"
	"time"

	"fleetdispatch/internal/dispatch"
	"fleetdispatch/internal/domain"
	"fleetdispatch/internal/reaper"
	"fleetdispatch/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type staticGate struct {
	eligible map[string]bool
}

func (g *staticGate) IsEligible(ctx context.Context, tenantID string) bool {
	return g.eligible[tenantID]
}

type nopTransport struct{}

func (nopTransport) Offer(ctx context.Context, taskID uuid.UUID, workerIDs []string) error {
	return nil
}

type nopAudit struct{}

func (nopAudit) RecordOffer(ctx context.Context, taskID uuid.UUID, offered, skipped []string) error {
	return nil
}

type nopNotifier struct{}

func (nopNotifier) NotifyFailure(ctx context.Context, waiterID, reason string) error { return nil }

type nopMetrics struct{}

func (nopMetrics) RecordEvent(ctx context.Context, taskID uuid.UUID, kind string) error { return nil }

type alwaysPrimary struct{}

func (alwaysPrimary) IsPrimary(ctx context.Context) bool { return true }

func newTestDriver(t *testing.T, gate Gate, mem *store.Memory) (*Driver, *dispatch.Engine, *reaper.Reaper) {
	t.Helper()
	engineFor := func(string) *dispatch.Engine {
		return dispatch.NewEngine(mem, nopTransport{}, nopAudit{}, dispatch.DefaultBackoff(), zerolog.Nop())
	}
	reaperFor := func(string) *reaper.Reaper {
		return reaper.New(mem, nopNotifier{}, nopMetrics{}, alwaysPrimary{}, zerolog.Nop())
	}
	d, err := New(Config{
		Tenants:      []string{"acme"},
		SweepCron:    "*/10 * * * * *",
		CycleTimeout: time.Second,
	}, gate, engineFor, reaperFor, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d, engineFor("acme"), reaperFor("acme")
}

func TestNewRejectsBadCron(t *testing.T) {
	_, err := New(Config{Tenants: []string{"acme"}, SweepCron: "not a cron"}, &staticGate{}, nil, nil, nil, zerolog.Nop())
	if err == nil {
		t.Fatal("expected error for malformed cron spec")
	}
}

func TestCycleSkipsIneligibleTenant(t *testing.T) {
	mem := store.NewMemory()
	d, eng, rp := newTestDriver(t, &staticGate{eligible: map[string]bool{}}, mem)

	counts := d.Cycle(context.Background(), "acme", eng, rp, zerolog.Nop())
	if !counts.Skipped {
		t.Error("ineligible tenant was not skipped")
	}
}

func TestCycleRunsBothEngines(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	d, eng, rp := newTestDriver(t, &staticGate{eligible: map[string]bool{"acme": true}}, mem)

	now := time.Now()
	queued := &domain.Task{
		ID: uuid.New(), TenantID: "acme", Status: domain.StatusQueued,
		EligibleWorkers: []string{"w1"},
		NextBroadcastAt: now.Add(-time.Second), ExpiresAt: now.Add(time.Hour),
	}
	expired := &domain.Task{
		ID: uuid.New(), TenantID: "acme", Status: domain.StatusStarted,
		ExpiresAt: now.Add(-time.Second),
	}
	for _, task := range []*domain.Task{queued, expired} {
		if err := mem.Insert(ctx, task); err != nil {
			t.Fatal(err)
		}
	}

	counts := d.Cycle(ctx, "acme", eng, rp, zerolog.Nop())
	if counts.Skipped {
		t.Fatal("eligible tenant was skipped")
	}
	if counts.Rebroadcast != 1 {
		t.Errorf("rebroadcast: got %d, want 1", counts.Rebroadcast)
	}
	if counts.ReapedRunning != 1 {
		t.Errorf("reaped running: got %d, want 1", counts.ReapedRunning)
	}
}
