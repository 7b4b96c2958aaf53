package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/readmeabook/readmeabook/config"
	"github.com/readmeabook/readmeabook/internal/health"
	"github.com/readmeabook/readmeabook/internal/infrastructure/postgres"
	ctxlog "github.com/readmeabook/readmeabook/internal/log"
	"github.com/readmeabook/readmeabook/internal/metrics"
	"github.com/readmeabook/readmeabook/internal/notify"
	"github.com/readmeabook/readmeabook/internal/plex"
	"github.com/readmeabook/readmeabook/internal/queue"
	httptransport "github.com/readmeabook/readmeabook/internal/transport/http"
	"github.com/readmeabook/readmeabook/internal/transport/http/handler"
	"github.com/readmeabook/readmeabook/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, "readmeabook-api")
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		stop()
		log.Fatalf("db schema: %v", err)
	}

	userRepo := postgres.NewUserRepository(pool)
	bookRepo := postgres.NewAudiobookRepository(pool)
	requestRepo := postgres.NewRequestRepository(pool)
	indexerRepo := postgres.NewIndexerRepository(pool)
	jobRepo := postgres.NewJobRepository(pool)

	enqueuer := queue.NewEnqueuer(jobRepo, logger, cfg.JobMaxAttempts)

	sender := notify.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger)
	notifier := notify.NewService(userRepo, bookRepo, sender, logger)

	// The same Plex client verifies sign-in tokens against plex.tv.
	plexClient := plex.NewClient(plex.Config{
		ClientID:  cfg.PlexClientID,
		ServerURL: cfg.PlexServerURL,
		SectionID: cfg.PlexSectionID,
		Token:     cfg.PlexToken,
	}, &http.Client{Timeout: 15 * time.Second})

	authUsecase := usecase.NewAuthUsecase(userRepo, plexClient, []byte(cfg.JWTSecret))
	requestUsecase := usecase.NewRequestUsecase(requestRepo, bookRepo, userRepo, enqueuer, notifier, logger,
		usecase.RequestConfig{
			RequireApproval:   cfg.RequireApproval,
			MaxSearchAttempts: cfg.MaxSearchAttempts,
		})
	settingsUsecase := usecase.NewSettingsUsecase(indexerRepo)
	jobUsecase := usecase.NewJobUsecase(jobRepo)

	authHandler := handler.NewAuthHandler(authUsecase, logger)
	requestHandler := handler.NewRequestHandler(requestUsecase, logger)
	settingsHandler := handler.NewSettingsHandler(settingsUsecase, logger)
	jobHandler := handler.NewJobHandler(jobUsecase, logger)

	metrics.Register()
	checker := health.NewChecker(pool, logger, prometheus.DefaultRegisterer)

	srv := http.Server{
		Addr: ":" + cfg.Port,
		Handler: httptransport.NewRouter(logger, authHandler, requestHandler,
			settingsHandler, jobHandler, []byte(cfg.JWTSecret)),
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
