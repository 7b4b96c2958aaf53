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

type requestUsecaser interface {
	Create(ctx context.Context, input usecase.CreateRequestInput) (*usecase.RequestDetail, error)
	Get(ctx context.Context, id string, actor usecase.Actor) (*usecase.RequestDetail, error)
	List(ctx context.Context, input usecase.ListRequestsInput, actor usecase.Actor) (usecase.ListRequestsResult, error)
	Approve(ctx context.Context, id string, actor usecase.Actor) (*usecase.RequestDetail, error)
	Deny(ctx context.Context, id string, actor usecase.Actor) (*usecase.RequestDetail, error)
	Retry(ctx context.Context, id string, actor usecase.Actor) (*usecase.RequestDetail, error)
}

type RequestHandler struct {
	requestUsecase requestUsecaser
	logger         *slog.Logger
}

func NewRequestHandler(requestUsecase requestUsecaser, logger *slog.Logger) *RequestHandler {
	return &RequestHandler{
		requestUsecase: requestUsecase,
		logger:         logger.With("component", "request_handler"),
	}
}

// actorFrom rebuilds the caller identity the Auth middleware stashed in the
// gin context.
func actorFrom(c *gin.Context) usecase.Actor {
	return usecase.Actor{
		UserID:  c.GetString("userID"),
		IsAdmin: c.GetBool("isAdmin"),
	}
}

type createRequestBody struct {
	ASIN           string `json:"asin"            binding:"required,max=32"`
	Title          string `json:"title"           binding:"required,max=512"`
	Author         string `json:"author"          binding:"required,max=512"`
	Narrator       string `json:"narrator"        binding:"omitempty,max=512"`
	RuntimeMinutes int    `json:"runtime_minutes" binding:"omitempty,min=0"`
	CoverURL       string `json:"cover_url"       binding:"omitempty,url,max=2048"`
}

type audiobookResponse struct {
	ID             string `json:"id"`
	ASIN           string `json:"asin"`
	Title          string `json:"title"`
	Author         string `json:"author"`
	Narrator       string `json:"narrator,omitempty"`
	RuntimeMinutes int    `json:"runtime_minutes,omitempty"`
	CoverURL       string `json:"cover_url,omitempty"`
}

type requestResponse struct {
	ID             string               `json:"id"`
	UserID         string               `json:"user_id"`
	Status         domain.RequestStatus `json:"status"`
	SearchAttempts int                  `json:"search_attempts"`
	ErrorMessage   *string              `json:"error_message,omitempty"`
	Selection      json.RawMessage      `json:"selection,omitempty"`
	Audiobook      *audiobookResponse   `json:"audiobook,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
	CompletedAt    *time.Time           `json:"completed_at,omitempty"`
}

type listRequestsResponse struct {
	Requests   []requestResponse `json:"requests"`
	NextCursor *string           `json:"next_cursor"`
}

func toRequestResponse(d *usecase.RequestDetail) requestResponse {
	resp := requestResponse{
		ID:             d.Request.ID,
		UserID:         d.Request.UserID,
		Status:         d.Request.Status,
		SearchAttempts: d.Request.SearchAttempts,
		ErrorMessage:   d.Request.ErrorMessage,
		Selection:      d.Request.Selection,
		CreatedAt:      d.Request.CreatedAt,
		UpdatedAt:      d.Request.UpdatedAt,
		CompletedAt:    d.Request.CompletedAt,
	}
	if d.Audiobook != nil {
		resp.Audiobook = &audiobookResponse{
			ID:             d.Audiobook.ID,
			ASIN:           d.Audiobook.ASIN,
			Title:          d.Audiobook.Title,
			Author:         d.Audiobook.Author,
			Narrator:       d.Audiobook.Narrator,
			RuntimeMinutes: d.Audiobook.RuntimeMinutes,
			CoverURL:       d.Audiobook.CoverURL,
		}
	}
	return resp
}

// POST /requests
func (h *RequestHandler) Create(c *gin.Context) {
	var body createRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	detail, err := h.requestUsecase.Create(c.Request.Context(), usecase.CreateRequestInput{
		UserID:         c.GetString("userID"),
		ASIN:           body.ASIN,
		Title:          body.Title,
		Author:         body.Author,
		Narrator:       body.Narrator,
		RuntimeMinutes: body.RuntimeMinutes,
		CoverURL:       body.CoverURL,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrDuplicateRequest):
			c.JSON(http.StatusConflict, gin.H{"error": errDuplicateRequest})
		case errors.Is(err, domain.ErrUserNotFound):
			// A valid token for a deleted user reads as not signed in.
			c.JSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
		default:
			h.logger.ErrorContext(c.Request.Context(), "create request", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	c.JSON(http.StatusCreated, toRequestResponse(detail))
}

// GET /requests
func (h *RequestHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	result, err := h.requestUsecase.List(c.Request.Context(), usecase.ListRequestsInput{
		Status: c.Query("status"),
		UserID: c.Query("user_id"),
		Cursor: c.Query("cursor"),
		Limit:  limit,
	}, actorFrom(c))
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "list requests", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	items := make([]requestResponse, len(result.Requests))
	for i, d := range result.Requests {
		items[i] = toRequestResponse(d)
	}
	c.JSON(http.StatusOK, listRequestsResponse{Requests: items, NextCursor: result.NextCursor})
}

// GET /requests/:id
func (h *RequestHandler) Get(c *gin.Context) {
	id := c.Param("id")

	detail, err := h.requestUsecase.Get(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		if errors.Is(err, domain.ErrRequestNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": errRequestNotFound})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "get request", "request_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	c.JSON(http.StatusOK, toRequestResponse(detail))
}

// POST /requests/:id/approve
func (h *RequestHandler) Approve(c *gin.Context) {
	h.transition(c, h.requestUsecase.Approve, "approve request")
}

// POST /requests/:id/deny
func (h *RequestHandler) Deny(c *gin.Context) {
	h.transition(c, h.requestUsecase.Deny, "deny request")
}

// POST /requests/:id/retry
func (h *RequestHandler) Retry(c *gin.Context) {
	h.transition(c, h.requestUsecase.Retry, "retry request")
}

// transition runs one of the id-addressed lifecycle actions; they share
// their whole error surface.
func (h *RequestHandler) transition(
	c *gin.Context,
	action func(ctx context.Context, id string, actor usecase.Actor) (*usecase.RequestDetail, error),
	opName string,
) {
	id := c.Param("id")

	detail, err := action(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrRequestNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": errRequestNotFound})
		case errors.Is(err, domain.ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": errForbidden})
		case errors.Is(err, domain.ErrInvalidRequestTransition),
			errors.Is(err, domain.ErrStaleRequestStatus):
			c.JSON(http.StatusConflict, gin.H{"error": errStateConflict})
		default:
			h.logger.ErrorContext(c.Request.Context(), opName, "request_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	c.JSON(http.StatusOK, toRequestResponse(detail))
}
