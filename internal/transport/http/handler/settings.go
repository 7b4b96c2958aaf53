package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/readmeabook/readmeabook/internal/domain"
	"github.com/readmeabook/readmeabook/internal/usecase"
)

type settingsUsecaser interface {
	ListIndexers(ctx context.Context) ([]*domain.Indexer, error)
	GetIndexer(ctx context.Context, id string) (*domain.Indexer, error)
	CreateIndexer(ctx context.Context, input usecase.CreateIndexerInput) (*domain.Indexer, error)
	UpdateIndexer(ctx context.Context, id string, input usecase.UpdateIndexerInput) (*domain.Indexer, error)
	DeleteIndexer(ctx context.Context, id string) error
	ListFlagRules(ctx context.Context) ([]domain.FlagRule, error)
	ReplaceFlagRules(ctx context.Context, inputs []usecase.FlagRuleInput) ([]domain.FlagRule, error)
}

type SettingsHandler struct {
	settingsUsecase settingsUsecaser
	logger          *slog.Logger
}

func NewSettingsHandler(settingsUsecase settingsUsecaser, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{
		settingsUsecase: settingsUsecase,
		logger:          logger.With("component", "settings_handler"),
	}
}

type createIndexerBody struct {
	Name     string `json:"name"     binding:"required,max=128"`
	Kind     string `json:"kind"     binding:"required"`
	BaseURL  string `json:"base_url" binding:"required,url,max=2048"`
	APIKey   string `json:"api_key"  binding:"omitempty,max=256"`
	Protocol string `json:"protocol" binding:"required"`
	Priority int    `json:"priority" binding:"omitempty,min=0,max=100"`
	Enabled  *bool  `json:"enabled"`
}

// updateIndexerBody is a full replacement, so enabled must be stated
// explicitly instead of defaulting.
type updateIndexerBody struct {
	Name     string `json:"name"     binding:"required,max=128"`
	Kind     string `json:"kind"     binding:"required"`
	BaseURL  string `json:"base_url" binding:"required,url,max=2048"`
	APIKey   string `json:"api_key"  binding:"omitempty,max=256"`
	Protocol string `json:"protocol" binding:"required"`
	Priority int    `json:"priority" binding:"omitempty,min=0,max=100"`
	Enabled  *bool  `json:"enabled"  binding:"required"`
}

// indexerResponse never echoes the API key back.
type indexerResponse struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Kind      domain.IndexerKind `json:"kind"`
	BaseURL   string             `json:"base_url"`
	Protocol  domain.Protocol    `json:"protocol"`
	Priority  int                `json:"priority"`
	Enabled   bool               `json:"enabled"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func toIndexerResponse(idx *domain.Indexer) indexerResponse {
	return indexerResponse{
		ID:        idx.ID,
		Name:      idx.Name,
		Kind:      idx.Kind,
		BaseURL:   idx.BaseURL,
		Protocol:  idx.Protocol,
		Priority:  idx.Priority,
		Enabled:   idx.Enabled,
		CreatedAt: idx.CreatedAt,
		UpdatedAt: idx.UpdatedAt,
	}
}

type flagRuleBody struct {
	Flag   string  `json:"flag" binding:"required,max=64"`
	Points float64 `json:"points"`
}

type replaceFlagRulesBody struct {
	Rules []flagRuleBody `json:"rules"`
}

type flagRuleResponse struct {
	ID        string    `json:"id"`
	Flag      string    `json:"flag"`
	Points    float64   `json:"points"`
	CreatedAt time.Time `json:"created_at"`
}

func toFlagRuleResponses(rules []domain.FlagRule) []flagRuleResponse {
	out := make([]flagRuleResponse, len(rules))
	for i, r := range rules {
		out[i] = flagRuleResponse{ID: r.ID, Flag: r.Flag, Points: r.Points, CreatedAt: r.CreatedAt}
	}
	return out
}

// GET /settings/indexers
func (h *SettingsHandler) ListIndexers(c *gin.Context) {
	indexers, err := h.settingsUsecase.ListIndexers(c.Request.Context())
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "list indexers", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	items := make([]indexerResponse, len(indexers))
	for i, idx := range indexers {
		items[i] = toIndexerResponse(idx)
	}
	c.JSON(http.StatusOK, gin.H{"indexers": items})
}

// GET /settings/indexers/:id
func (h *SettingsHandler) GetIndexer(c *gin.Context) {
	id := c.Param("id")

	idx, err := h.settingsUsecase.GetIndexer(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrIndexerNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": errIndexerNotFound})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "get indexer", "indexer_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	c.JSON(http.StatusOK, toIndexerResponse(idx))
}

// POST /settings/indexers
func (h *SettingsHandler) CreateIndexer(c *gin.Context) {
	var body createIndexerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	idx, err := h.settingsUsecase.CreateIndexer(c.Request.Context(), usecase.CreateIndexerInput{
		Name:     body.Name,
		Kind:     domain.IndexerKind(body.Kind),
		BaseURL:  body.BaseURL,
		APIKey:   body.APIKey,
		Protocol: domain.Protocol(body.Protocol),
		Priority: body.Priority,
		Enabled:  body.Enabled,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrDuplicateIndexer):
			c.JSON(http.StatusConflict, gin.H{"error": errDuplicateIndexer})
		default:
			h.logger.ErrorContext(c.Request.Context(), "create indexer", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	c.JSON(http.StatusCreated, toIndexerResponse(idx))
}

// PUT /settings/indexers/:id
func (h *SettingsHandler) UpdateIndexer(c *gin.Context) {
	id := c.Param("id")

	var body updateIndexerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	idx, err := h.settingsUsecase.UpdateIndexer(c.Request.Context(), id, usecase.UpdateIndexerInput{
		Name:     body.Name,
		Kind:     domain.IndexerKind(body.Kind),
		BaseURL:  body.BaseURL,
		APIKey:   body.APIKey,
		Protocol: domain.Protocol(body.Protocol),
		Priority: body.Priority,
		Enabled:  *body.Enabled,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrIndexerNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": errIndexerNotFound})
		case errors.Is(err, domain.ErrDuplicateIndexer):
			c.JSON(http.StatusConflict, gin.H{"error": errDuplicateIndexer})
		default:
			h.logger.ErrorContext(c.Request.Context(), "update indexer", "indexer_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	c.JSON(http.StatusOK, toIndexerResponse(idx))
}

// DELETE /settings/indexers/:id
func (h *SettingsHandler) DeleteIndexer(c *gin.Context) {
	id := c.Param("id")

	if err := h.settingsUsecase.DeleteIndexer(c.Request.Context(), id); err != nil {
		if errors.Is(err, domain.ErrIndexerNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": errIndexerNotFound})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "delete indexer", "indexer_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	c.Status(http.StatusNoContent)
}

// GET /settings/flags
func (h *SettingsHandler) ListFlagRules(c *gin.Context) {
	rules, err := h.settingsUsecase.ListFlagRules(c.Request.Context())
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "list flag rules", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	c.JSON(http.StatusOK, gin.H{"rules": toFlagRuleResponses(rules)})
}

// PUT /settings/flags
// Replaces the whole rule set; an empty list clears it.
func (h *SettingsHandler) ReplaceFlagRules(c *gin.Context) {
	var body replaceFlagRulesBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inputs := make([]usecase.FlagRuleInput, len(body.Rules))
	for i, r := range body.Rules {
		inputs[i] = usecase.FlagRuleInput{Flag: r.Flag, Points: r.Points}
	}

	rules, err := h.settingsUsecase.ReplaceFlagRules(c.Request.Context(), inputs)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "replace flag rules", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	c.JSON(http.StatusOK, gin.H{"rules": toFlagRuleResponses(rules)})
}
