package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/readmeabook/readmeabook/internal/domain"
)

// authUsecaser is the subset of AuthUsecase the handler needs.
// Defined here (point of use) so tests can inject a fake.
type authUsecaser interface {
	SignInWithPlex(ctx context.Context, plexToken string) (string, *domain.User, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
}

type AuthHandler struct {
	authUsecase authUsecaser
	logger      *slog.Logger
}

func NewAuthHandler(authUsecase authUsecaser, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		authUsecase: authUsecase,
		logger:      logger.With("component", "auth_handler"),
	}
}

type plexSignInRequest struct {
	Token string `json:"token" binding:"required"`
}

type userResponse struct {
	ID           string    `json:"id"`
	PlexUsername string    `json:"plex_username"`
	PlexEmail    string    `json:"plex_email,omitempty"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
}

func toUserResponse(u *domain.User) userResponse {
	return userResponse{
		ID:           u.ID,
		PlexUsername: u.PlexUsername,
		PlexEmail:    u.PlexEmail,
		IsAdmin:      u.IsAdmin,
		CreatedAt:    u.CreatedAt,
	}
}

type signInResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

// POST /auth/plex
// Exchanges a Plex account token for an API JWT, creating the local user on
// first sign-in.
func (h *AuthHandler) SignInWithPlex(c *gin.Context) {
	var req plexSignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, user, err := h.authUsecase.SignInWithPlex(c.Request.Context(), req.Token)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": errPlexTokenInvalid})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "plex sign-in", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	c.JSON(http.StatusOK, signInResponse{Token: token, User: toUserResponse(user)})
}

// GET /me
func (h *AuthHandler) Me(c *gin.Context) {
	userID := c.GetString("userID")

	user, err := h.authUsecase.GetUser(c.Request.Context(), userID)
	if err != nil {
		// A valid token for a deleted user reads as not signed in.
		if errors.Is(err, domain.ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "get current user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	c.JSON(http.StatusOK, toUserResponse(user))
}
