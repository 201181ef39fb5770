package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"fleetdispatch/internal/domain"
	"fleetdispatch/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestSubmitDefaults(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc := NewTaskService(mem, zerolog.Nop())

	before := time.Now()
	task, err := svc.Submit(ctx, SubmitRequest{
		TenantID:        "acme",
		EligibleWorkers: []string{"w1", "w2"},
		WaiterID:        "caller-1",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if task.Status != domain.StatusQueued {
		t.Errorf("status: got %s, want queued", task.Status)
	}
	if task.NextBroadcastAt.After(time.Now()) {
		t.Error("submitted task is not due for immediate broadcast")
	}
	wantExpiry := before.Add(DefaultTTL)
	if task.ExpiresAt.Before(wantExpiry.Add(-time.Minute)) || task.ExpiresAt.After(wantExpiry.Add(time.Minute)) {
		t.Errorf("expiry: got %s, want about %s", task.ExpiresAt, wantExpiry)
	}

	stored, err := mem.FetchByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("stored task: %v", err)
	}
	if stored.BroadcastCount != 0 || stored.BroadcastRound != 0 {
		t.Errorf("fresh task has broadcast history: count=%d round=%d", stored.BroadcastCount, stored.BroadcastRound)
	}
}

func TestSubmitRequiresTenant(t *testing.T) {
	svc := NewTaskService(store.NewMemory(), zerolog.Nop())
	if _, err := svc.Submit(context.Background(), SubmitRequest{}); !errors.Is(err, ErrNoTenant) {
		t.Errorf("got %v, want ErrNoTenant", err)
	}
}

func TestSubmitHonorsTTLSeconds(t *testing.T) {
	svc := NewTaskService(store.NewMemory(), zerolog.Nop())
	task, err := svc.Submit(context.Background(), SubmitRequest{TenantID: "acme", TTLSeconds: 30})
	if err != nil {
		t.Fatal(err)
	}
	ttl := time.Until(task.ExpiresAt)
	if ttl > 31*time.Second || ttl < 25*time.Second {
		t.Errorf("ttl: got %s, want about 30s", ttl)
	}
}

func TestGetMissingTask(t *testing.T) {
	svc := NewTaskService(store.NewMemory(), zerolog.Nop())
	if _, err := svc.Get(context.Background(), uuid.New()); !errors.Is(err, ErrTaskMissing) {
		t.Errorf("got %v, want ErrTaskMissing", err)
	}
}
