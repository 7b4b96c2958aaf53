package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/readmeabook/readmeabook/internal/domain"
	"github.com/readmeabook/readmeabook/internal/usecase"
)

type jobUsecaser interface {
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	ListJobs(ctx context.Context, input usecase.ListJobsInput) (usecase.ListJobsResult, error)
	QueueDepths(ctx context.Context) (map[domain.JobStatus]int, error)
}

type JobHandler struct {
	jobUsecase jobUsecaser
	logger     *slog.Logger
}

func NewJobHandler(jobUsecase jobUsecaser, logger *slog.Logger) *JobHandler {
	return &JobHandler{jobUsecase: jobUsecase, logger: logger.With("component", "job_handler")}
}

type jobResponse struct {
	ID           string           `json:"id"`
	Type         domain.JobType   `json:"type"`
	Status       domain.JobStatus `json:"status"`
	Payload      json.RawMessage  `json:"payload,omitempty"`
	Attempts     int              `json:"attempts"`
	MaxAttempts  int              `json:"max_attempts"`
	ScheduledAt  time.Time        `json:"scheduled_at"`
	ClaimedBy    *string          `json:"claimed_by,omitempty"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	Result       json.RawMessage  `json:"result,omitempty"`
	ErrorMessage *string          `json:"error_message,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

type listJobsResponse struct {
	Jobs       []jobResponse `json:"jobs"`
	NextCursor *string       `json:"next_cursor"`
}

func toJobResponse(j *domain.Job) jobResponse {
	return jobResponse{
		ID:           j.ID,
		Type:         j.Type,
		Status:       j.Status,
		Payload:      j.Payload,
		Attempts:     j.Attempts,
		MaxAttempts:  j.MaxAttempts,
		ScheduledAt:  j.ScheduledAt,
		ClaimedBy:    j.ClaimedBy,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
		Result:       j.Result,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt,
	}
}

// GET /jobs
func (h *JobHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	result, err := h.jobUsecase.ListJobs(c.Request.Context(), usecase.ListJobsInput{
		Type:   c.Query("type"),
		Status: c.Query("status"),
		Cursor: c.Query("cursor"),
		Limit:  limit,
	})
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "list jobs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	items := make([]jobResponse, len(result.Jobs))
	for i, j := range result.Jobs {
		items[i] = toJobResponse(j)
	}
	c.JSON(http.StatusOK, listJobsResponse{Jobs: items, NextCursor: result.NextCursor})
}

// GET /jobs/stats
func (h *JobHandler) Stats(c *gin.Context) {
	counts, err := h.jobUsecase.QueueDepths(c.Request.Context())
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "queue depths", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"queued":    counts[domain.JobStatusQueued],
		"running":   counts[domain.JobStatusRunning],
		"succeeded": counts[domain.JobStatusSucceeded],
		"failed":    counts[domain.JobStatusFailed],
	})
}

// GET /jobs/:id
func (h *JobHandler) Get(c *gin.Context) {
	id := c.Param("id")

	job, err := h.jobUsecase.GetJob(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": errJobNotFound})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "get job", "job_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	c.JSON(http.StatusOK, toJobResponse(job))
}
