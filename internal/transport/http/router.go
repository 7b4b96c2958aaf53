// Package httptransport wires the public API: router, middleware, handlers.
package httptransport

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/readmeabook/readmeabook/internal/transport/http/handler"
	"github.com/readmeabook/readmeabook/internal/transport/http/middleware"
)

func NewRouter(
	logger *slog.Logger,
	authHandler *handler.AuthHandler,
	requestHandler *handler.RequestHandler,
	settingsHandler *handler.SettingsHandler,
	jobHandler *handler.JobHandler,
	jwtKey []byte,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	authMW := middleware.Auth(jwtKey)
	adminMW := middleware.RequireAdmin()

	v1 := r.Group("/api/v1")

	// Sign-in is the only public route.
	v1.POST("/auth/plex", authHandler.SignInWithPlex)

	v1.GET("/me", authMW, authHandler.Me)

	// Any signed-in user can file requests and work with their own; the
	// approval verbs are for admins.
	requests := v1.Group("/requests", authMW)
	requests.POST("", requestHandler.Create)
	requests.GET("", requestHandler.List)
	requests.GET("/:id", requestHandler.Get)
	requests.POST("/:id/retry", requestHandler.Retry)
	requests.POST("/:id/approve", adminMW, requestHandler.Approve)
	requests.POST("/:id/deny", adminMW, requestHandler.Deny)

	// Admin-only configuration.
	settings := v1.Group("/settings", authMW, adminMW)
	settings.GET("/indexers", settingsHandler.ListIndexers)
	settings.POST("/indexers", settingsHandler.CreateIndexer)
	settings.GET("/indexers/:id", settingsHandler.GetIndexer)
	settings.PUT("/indexers/:id", settingsHandler.UpdateIndexer)
	settings.DELETE("/indexers/:id", settingsHandler.DeleteIndexer)
	settings.GET("/flags", settingsHandler.ListFlagRules)
	settings.PUT("/flags", settingsHandler.ReplaceFlagRules)

	// Admin-only queue inspection.
	jobs := v1.Group("/jobs", authMW, adminMW)
	jobs.GET("", jobHandler.List)
	jobs.GET("/stats", jobHandler.Stats)
	jobs.GET("/:id", jobHandler.Get)

	return r
}
