package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"search-market-agent/internal/auth"
	"search-market-agent/internal/models"
	"search-market-agent/internal/repository"
)

// Retrier reopens a failed settlement and schedules it to resume
type Retrier interface {
	Retry(ctx context.Context, id uuid.UUID) (*models.SettlementTask, error)
}

type SettlementHandler struct {
	repo    *repository.SettlementRepository
	retrier Retrier
	logger  *zap.Logger
}

func NewSettlementHandler(repo *repository.SettlementRepository, retrier Retrier, logger *zap.Logger) *SettlementHandler {
	return &SettlementHandler{
		repo:    repo,
		retrier: retrier,
		logger:  logger,
	}
}

// GetSettlements lists settlement tasks
// GET /api/settlements?market=&state=&limit=
func (h *SettlementHandler) GetSettlements(c *gin.Context) {
	filter := repository.SettlementFilter{
		MarketAddress: c.Query("market"),
		State:         models.SettlementState(c.Query("state")),
	}
	if filter.State != "" && !filter.State.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid state"})
		return
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = n
	}

	tasks, err := h.repo.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list settlements", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list settlements"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    tasks,
		"count":   len(tasks),
	})
}

// GetSettlementStats counts tasks per state
// GET /api/settlements/stats
func (h *SettlementHandler) GetSettlementStats(c *gin.Context) {
	counts, err := h.repo.CountByState(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to count settlements", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count settlements"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": counts})
}

// GetSettlement retrieves a settlement task by ID
// GET /api/settlements/:id
func (h *SettlementHandler) GetSettlement(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid settlement id"})
		return
	}

	task, err := h.repo.GetByID(c.Request.Context(), id)
	if errors.Is(err, repository.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "settlement not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to get settlement", zap.Error(err), zap.String("task_id", id.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get settlement"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": task})
}

// RetrySettlement resumes a failed task from its last confirmed state
// POST /api/admin/settlements/:id/retry
func (h *SettlementHandler) RetrySettlement(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid settlement id"})
		return
	}

	task, err := h.retrier.Retry(c.Request.Context(), id)
	switch {
	case errors.Is(err, repository.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "settlement not found"})
		return
	case errors.Is(err, repository.ErrNotRetryable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("failed to retry settlement", zap.Error(err), zap.String("task_id", id.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retry settlement"})
		return
	}

	subject, _ := auth.GetSubject(c)
	h.logger.Info("settlement retry queued",
		zap.String("task_id", id.String()),
		zap.String("resume_from", string(task.State)),
		zap.String("operator", subject),
	)
	c.JSON(http.StatusAccepted, gin.H{"success": true, "data": task})
}
