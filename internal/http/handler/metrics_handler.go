package handler

import (
	"net/http"
	"strings"

	"fleetdispatch/internal/driver"
	"fleetdispatch/internal/reaper"
	"fleetdispatch/internal/transport"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type MetricsHandler struct {
	rdb *redis.Client
	log zerolog.Logger
}

func NewMetricsHandler(rdb *redis.Client, log zerolog.Logger) *MetricsHandler {
	return &MetricsHandler{rdb: rdb, log: log}
}

// GET /api/v1/metrics/dispatch
func (h *MetricsHandler) GetDispatchMetrics(c *gin.Context) {
	ctx := c.Request.Context()

	ticks, err := h.rdb.Get(ctx, driver.TicksKey).Int64()
	if err != nil && err != redis.Nil {
		h.log.Error().Err(err).Msg("failed to read dispatch ticks")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	keys, _, err := h.rdb.Scan(ctx, 0, "metrics:dispatch:*:last", 1000).Result()
	if err != nil {
		h.log.Error().Err(err).Msg("failed to scan cycle metrics keys")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	tenants := make(map[string]map[string]string, len(keys))
	for _, k := range keys {
		parts := strings.Split(k, ":")
		if len(parts) != 4 {
			continue
		}
		last, err := h.rdb.HGetAll(ctx, k).Result()
		if err != nil {
			continue
		}
		tenants[parts[2]] = last
	}

	reaped := make(map[string]int64, 3)
	for _, kind := range []string{reaper.EventExpiredRunning, reaper.EventExpiredStalled, reaper.EventValidationStalled} {
		n, err := h.rdb.Get(ctx, transport.MetricKey(kind)).Int64()
		if err != nil && err != redis.Nil {
			continue
		}
		reaped[kind] = n
	}

	c.JSON(http.StatusOK, gin.H{
		"ticks":   ticks,
		"tenants": tenants,
		"reaper":  reaped,
	})
}
