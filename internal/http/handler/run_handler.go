package handler

import (
	"net/http"

	"fleetdispatch/internal/dispatch"
	"fleetdispatch/internal/reaper"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RunHandler triggers manual sweeps for operational debugging. Each
// request gets a fresh engine/reaper so manual runs never race a
// tenant loop's backoff or sampler state; claim correctness is carried
// by the store's conditional update either way.
type RunHandler struct {
	engineFor func(tenantID string) *dispatch.Engine
	reaperFor func(tenantID string) *reaper.Reaper
	log       zerolog.Logger
}

func NewRunHandler(engineFor func(string) *dispatch.Engine, reaperFor func(string) *reaper.Reaper, log zerolog.Logger) *RunHandler {
	return &RunHandler{engineFor: engineFor, reaperFor: reaperFor, log: log}
}

// POST /api/v1/tenants/:id/dispatch/run
func (h *RunHandler) RunDispatch(c *gin.Context) {
	tenantID := c.Param("id")
	n, err := h.engineFor(tenantID).RunOnce(c.Request.Context(), tenantID)
	if err != nil {
		h.log.Error().Err(err).Str("tenant", tenantID).Msg("manual rebroadcast failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error", "rebroadcast": n})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": tenantID, "rebroadcast": n})
}

// POST /api/v1/tenants/:id/reaper/run
func (h *RunHandler) RunReaper(c *gin.Context) {
	tenantID := c.Param("id")
	ctx := c.Request.Context()
	rp := h.reaperFor(tenantID)

	running, err := rp.ReapRunning(ctx, tenantID)
	if err != nil {
		h.log.Error().Err(err).Str("tenant", tenantID).Msg("manual running reap failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	stalled, err := rp.ReapStalled(ctx, tenantID)
	if err != nil {
		h.log.Error().Err(err).Str("tenant", tenantID).Msg("manual stalled reap failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error", "reaped_running": running})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tenant":         tenantID,
		"reaped_running": running,
		"reaped_stalled": stalled,
	})
}
