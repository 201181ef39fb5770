package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fleetdispatch/internal/config"
	"fleetdispatch/internal/db"
	"fleetdispatch/internal/dispatch"
	"fleetdispatch/internal/driver"
	"fleetdispatch/internal/http/handler"
	"fleetdispatch/internal/primacy"
	"fleetdispatch/internal/reaper"
	"fleetdispatch/internal/service"
	"fleetdispatch/internal/store"
	"fleetdispatch/internal/tenant"
	"fleetdispatch/internal/transport"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pg, err := db.Connect(initCtx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres failed")
	}
	defer pg.Close()
	if err := db.EnsureSchema(initCtx, pg); err != nil {
		log.Fatal().Err(err).Msg("ensure schema failed")
	}

	rdb, err := transport.Connect(initCtx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect redis failed")
	}
	defer rdb.Close()

	tenants, err := tenant.ListActive(initCtx, pg)
	if err != nil {
		log.Fatal().Err(err).Msg("list tenants failed")
	}
	if len(tenants) == 0 {
		// First boot: seed the configured tenants as active.
		for _, id := range cfg.Tenants {
			if err := tenant.Ensure(initCtx, pg, id); err != nil {
				log.Fatal().Err(err).Str("tenant", id).Msg("seed tenant failed")
			}
		}
		tenants = cfg.Tenants
	}

	taskStore := store.NewPostgres(pg)
	gate := tenant.NewGate(pg, log)
	oracle := primacy.NewOracle(rdb, cfg.InstanceID, cfg.PrimacyTTL, log)

	backoff := dispatch.DefaultBackoff()
	backoff.BaseInterval = cfg.BaseInterval
	backoff.MaxRounds = cfg.MaxRounds

	engineFor := func(tenantID string) *dispatch.Engine {
		return dispatch.NewEngine(taskStore, transport.NewRedisDelivery(rdb), transport.NewRedisAudit(rdb), backoff, log)
	}
	reaperFor := func(tenantID string) *reaper.Reaper {
		rp := reaper.New(taskStore, transport.NewRedisNotifier(rdb), transport.NewRedisMetrics(rdb), oracle, log)
		rp.SetBatchCap(cfg.ReaperBatchCap)
		return rp
	}

	drv, err := driver.New(driver.Config{
		Tenants:      tenants,
		SweepCron:    cfg.SweepCron,
		CycleTimeout: cfg.CycleTimeout,
	}, gate, engineFor, reaperFor, rdb, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build driver failed")
	}
	drv.Start(ctx)

	svc := service.NewTaskService(taskStore, log)
	taskHandler := handler.NewTaskHandler(svc, log)
	runHandler := handler.NewRunHandler(engineFor, reaperFor, log)
	metricsHandler := handler.NewMetricsHandler(rdb, log)
	healthHandler := handler.NewHealthHandler(pg, rdb)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", healthHandler.Healthz)
	r.GET("/readyz", healthHandler.Readyz)

	api := r.Group("/api/v1")
	api.POST("/tasks", taskHandler.Submit)
	api.GET("/tasks/:id", taskHandler.Get)
	api.GET("/metrics/dispatch", metricsHandler.GetDispatchMetrics)
	api.POST("/tenants/:id/dispatch/run", runHandler.RunDispatch)
	api.POST("/tenants/:id/reaper/run", runHandler.RunReaper)

	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: r}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("instance", cfg.InstanceID).Msg("dispatchd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown failed")
	}
	drv.Stop()
	oracle.Resign(shutdownCtx)
}
