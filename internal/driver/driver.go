// Package driver owns the scheduling cadence: one goroutine per
// tenant fires the rebroadcast engine and the reaper passes on a cron
// schedule. Cycles for the same tenant are serialized by construction;
// different tenants run in parallel.
package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fleetdispatch/internal/dispatch"
	"fleetdispatch/internal/reaper"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Gate decides whether a tenant gets a cycle at all.
type Gate interface {
	IsEligible(ctx context.Context, tenantID string) bool
}

type Config struct {
	Tenants      []string
	SweepCron    string // seconds-granularity cron spec
	CycleTimeout time.Duration
}

type Driver struct {
	cfg    Config
	gate   Gate
	engine func(tenantID string) *dispatch.Engine
	reaper func(tenantID string) *reaper.Reaper
	rdb    *redis.Client
	sched  cron.Schedule
	log    zerolog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a driver. The engine and reaper factories are invoked
// once per tenant so each tenant loop owns its backoff and sampler
// state.
func New(cfg Config, gate Gate, engineFor func(string) *dispatch.Engine, reaperFor func(string) *reaper.Reaper, rdb *redis.Client, log zerolog.Logger) (*Driver, error) {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(cfg.SweepCron)
	if err != nil {
		return nil, fmt.Errorf("parse sweep cron %q: %w", cfg.SweepCron, err)
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 8 * time.Second
	}
	return &Driver{
		cfg:    cfg,
		gate:   gate,
		engine: engineFor,
		reaper: reaperFor,
		rdb:    rdb,
		sched:  sched,
		log:    log.With().Str("component", "driver").Logger(),
	}, nil
}

// Start launches the per-tenant loops and returns.
func (d *Driver) Start(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	for _, tenantID := range d.cfg.Tenants {
		d.wg.Add(1)
		go d.runTenant(cctx, tenantID)
	}
	d.log.Info().Strs("tenants", d.cfg.Tenants).Str("cron", d.cfg.SweepCron).Msg("driver started")
}

// Stop cancels all tenant loops and waits for in-flight cycles.
func (d *Driver) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	d.log.Info().Msg("driver stopped")
}

func (d *Driver) runTenant(ctx context.Context, tenantID string) {
	defer d.wg.Done()
	eng := d.engine(tenantID)
	rp := d.reaper(tenantID)
	log := d.log.With().Str("tenant", tenantID).Logger()

	for {
		next := d.sched.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		d.Cycle(ctx, tenantID, eng, rp, log)
	}
}

// Cycle runs one full sweep for a tenant: rebroadcast, both reaper
// passes, and the validation observation. The whole cycle is
// time-boxed so a slow query cannot starve the next tick.
func (d *Driver) Cycle(ctx context.Context, tenantID string, eng *dispatch.Engine, rp *reaper.Reaper, log zerolog.Logger) CycleCounts {
	if !d.gate.IsEligible(ctx, tenantID) {
		log.Debug().Msg("tenant not eligible, skipping cycle")
		return CycleCounts{Skipped: true}
	}

	cctx, cancel := context.WithTimeout(ctx, d.cfg.CycleTimeout)
	defer cancel()

	var counts CycleCounts
	var err error

	if counts.Rebroadcast, err = eng.RunOnce(cctx, tenantID); err != nil {
		log.Error().Err(err).Msg("rebroadcast sweep failed")
	}
	if counts.ReapedRunning, err = rp.ReapRunning(cctx, tenantID); err != nil {
		log.Error().Err(err).Msg("running-task reap failed")
	}
	if counts.ReapedStalled, err = rp.ReapStalled(cctx, tenantID); err != nil {
		log.Error().Err(err).Msg("stalled-task reap failed")
	}
	if counts.ValidationStalled, err = rp.ObserveStaleValidation(cctx, tenantID); err != nil {
		log.Error().Err(err).Msg("validation observation failed")
	}

	d.publishCycle(cctx, tenantID, counts)
	log.Debug().
		Int("rebroadcast", counts.Rebroadcast).
		Int("reaped_running", counts.ReapedRunning).
		Int("reaped_stalled", counts.ReapedStalled).
		Msg("cycle complete")
	return counts
}

// CycleCounts is the per-cycle observability summary.
type CycleCounts struct {
	Skipped           bool `json:"skipped,omitempty"`
	Rebroadcast       int  `json:"rebroadcast"`
	ReapedRunning     int  `json:"reaped_running"`
	ReapedStalled     int  `json:"reaped_stalled"`
	ValidationStalled int  `json:"validation_stalled"`
}

// CycleMetricsKey holds the last cycle summary for a tenant.
func CycleMetricsKey(tenantID string) string {
	return "metrics:dispatch:" + tenantID + ":last"
}

const TicksKey = "metrics:dispatch:ticks"

func (d *Driver) publishCycle(ctx context.Context, tenantID string, counts CycleCounts) {
	if d.rdb == nil {
		return
	}
	if err := d.rdb.Incr(ctx, TicksKey).Err(); err != nil {
		d.log.Warn().Err(err).Msg("cycle tick counter failed")
		return
	}
	_ = d.rdb.HSet(ctx, CycleMetricsKey(tenantID), map[string]any{
		"time":               time.Now().UTC().Format(time.RFC3339),
		"rebroadcast":        counts.Rebroadcast,
		"reaped_running":     counts.ReapedRunning,
		"reaped_stalled":     counts.ReapedStalled,
		"validation_stalled": counts.ValidationStalled,
	}).Err()
}
