package handler

import (
	"errors"
	"net/http"

	"fleetdispatch/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type TaskHandler struct {
	svc *service.TaskService
	log zerolog.Logger
}

func NewTaskHandler(svc *service.TaskService, log zerolog.Logger) *TaskHandler {
	return &TaskHandler{svc: svc, log: log}
}

// POST /api/v1/tasks
func (h *TaskHandler) Submit(c *gin.Context) {
	var req service.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	t, err := h.svc.Submit(c.Request.Context(), req)
	if errors.Is(err, service.ErrNoTenant) || errors.Is(err, service.ErrBadTTL) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("task submit failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusCreated, t)
}

// GET /api/v1/tasks/:id
func (h *TaskHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}
	t, err := h.svc.Get(c.Request.Context(), id)
	if errors.Is(err, service.ErrTaskMissing) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("task lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, t)
}
