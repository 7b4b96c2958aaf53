package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/readmeabook/readmeabook/config"
	"github.com/readmeabook/readmeabook/internal/audible"
	"github.com/readmeabook/readmeabook/internal/domain"
	"github.com/readmeabook/readmeabook/internal/download"
	"github.com/readmeabook/readmeabook/internal/health"
	"github.com/readmeabook/readmeabook/internal/indexer"
	"github.com/readmeabook/readmeabook/internal/infrastructure/postgres"
	ctxlog "github.com/readmeabook/readmeabook/internal/log"
	"github.com/readmeabook/readmeabook/internal/metrics"
	"github.com/readmeabook/readmeabook/internal/notify"
	"github.com/readmeabook/readmeabook/internal/pacing"
	"github.com/readmeabook/readmeabook/internal/plex"
	"github.com/readmeabook/readmeabook/internal/queue"
	"github.com/readmeabook/readmeabook/internal/repository"
	"github.com/readmeabook/readmeabook/internal/search"
	"github.com/readmeabook/readmeabook/internal/usecase"
)

// metadataRefreshBatch caps how many refresh jobs one nightly run stages.
const metadataRefreshBatch = 100

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, "readmeabook-worker")
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		stop()
		log.Fatalf("db schema: %v", err)
	}

	logger.Info("db connected")

	metrics.Register()
	checker := health.NewChecker(pool, logger, prometheus.DefaultRegisterer)

	userRepo := postgres.NewUserRepository(pool)
	bookRepo := postgres.NewAudiobookRepository(pool)
	requestRepo := postgres.NewRequestRepository(pool)
	indexerRepo := postgres.NewIndexerRepository(pool)
	jobRepo := postgres.NewJobRepository(pool)

	enqueuer := queue.NewEnqueuer(jobRepo, logger, cfg.JobMaxAttempts)

	sender := notify.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger)
	notifier := notify.NewService(userRepo, bookRepo, sender, logger)

	// Indexer clients: Prowlarr-style APIs plus the paced scrape session.
	pacer := pacing.PacerConfig{
		BaseDelayMin:     time.Duration(cfg.PaceBaseDelayMinMS) * time.Millisecond,
		BaseDelayMax:     time.Duration(cfg.PaceBaseDelayMaxMS) * time.Millisecond,
		CooldownMin:      time.Duration(cfg.PaceCooldownMinMS) * time.Millisecond,
		CooldownMax:      time.Duration(cfg.PaceCooldownMaxMS) * time.Millisecond,
		BreakerThreshold: cfg.PaceBreakerThreshold,
	}
	prowlarr := indexer.NewProwlarrClient(&http.Client{Timeout: 30 * time.Second})
	fetcher := indexer.NewHTMLPageFetcher(&http.Client{Timeout: 30 * time.Second})
	scrape := indexer.NewScrapeClient(fetcher, logger, indexer.ScrapeConfig{
		MaxPages: cfg.ScrapeMaxPages,
		Pacer:    pacer,
	})
	searcher := indexer.NewClient(prowlarr, scrape)

	qb := download.NewQBittorrentClient(download.QBittorrentConfig{
		BaseURL:  cfg.QBittorrentURL,
		Username: cfg.QBittorrentUser,
		Password: cfg.QBittorrentPassword,
		Category: cfg.QBittorrentCategory,
	}, &http.Client{Timeout: 30 * time.Second})

	audibleClient := audible.NewHTTPClient(cfg.AudibleAPIURL, &http.Client{Timeout: 15 * time.Second})

	plexClient := plex.NewClient(plex.Config{
		ClientID:  cfg.PlexClientID,
		ServerURL: cfg.PlexServerURL,
		SectionID: cfg.PlexSectionID,
		Token:     cfg.PlexToken,
	}, &http.Client{Timeout: 30 * time.Second})

	worker := queue.NewWorker(jobRepo, logger,
		time.Duration(cfg.PollIntervalSec)*time.Second,
		time.Duration(cfg.JobRetryBaseMS)*time.Millisecond,
		cfg.WorkerCount,
	)
	worker.Register(search.NewProcessor(requestRepo, indexerRepo, searcher, enqueuer, notifier, logger,
		search.Config{
			MinMatchRatio:     cfg.MinMatchRatio,
			MaxSearchAttempts: cfg.MaxSearchAttempts,
		}))
	worker.Register(download.NewProcessor(requestRepo, qb, enqueuer, notifier, logger))
	worker.Register(audible.NewProcessor(bookRepo, audibleClient, logger))
	worker.Register(plex.NewProcessor(requestRepo, plexClient, notifier, logger))
	go worker.Start(ctx)

	// heartbeat fires every 10s — 30s timeout means 3 missed beats before a job is stale
	reaper := queue.NewReaper(jobRepo, logger, 30*time.Second, 30*time.Second)
	go reaper.Start(ctx)

	// The sweep shares the request usecase with the API so parked requests
	// go through exactly the same dispatch path as a manual retry.
	requestUsecase := usecase.NewRequestUsecase(requestRepo, bookRepo, userRepo, enqueuer, notifier, logger,
		usecase.RequestConfig{
			RequireApproval:   cfg.RequireApproval,
			MaxSearchAttempts: cfg.MaxSearchAttempts,
		})

	maintenance := queue.NewMaintenance(logger)
	mustAdd := func(name, spec string, timeout time.Duration, run func(context.Context) error) {
		if err := maintenance.Add(name, spec, timeout, run); err != nil {
			log.Fatalf("maintenance: %v", err)
		}
	}

	mustAdd("research_sweep", cfg.ResearchSweepSchedule, 5*time.Minute, func(ctx context.Context) error {
		dispatched, err := requestUsecase.SweepAwaitingSearch(ctx)
		if dispatched > 0 {
			logger.InfoContext(ctx, "re-search sweep dispatched", "requests", dispatched)
		}
		return err
	})

	mustAdd("metadata_refresh", cfg.MetadataRefreshSchedule, 10*time.Minute, func(ctx context.Context) error {
		return refreshMissingMetadata(ctx, bookRepo, enqueuer)
	})

	mustAdd("library_scan", cfg.LibraryScanSchedule, 5*time.Minute, func(ctx context.Context) error {
		_, err := enqueuer.Enqueue(ctx, domain.PlexLibraryScanPayload{Reason: "nightly"})
		return err
	})

	go maintenance.Start(ctx)

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("worker shut down")
}

// refreshMissingMetadata stages an audible_refresh job for every book still
// missing its runtime.
func refreshMissingMetadata(ctx context.Context, books repository.AudiobookRepository, enqueuer *queue.Enqueuer) error {
	missing, err := books.ListMissingMetadata(ctx, metadataRefreshBatch)
	if err != nil {
		return err
	}
	for _, book := range missing {
		if _, err := enqueuer.Enqueue(ctx, domain.AudibleRefreshPayload{
			AudiobookID: book.ID,
			ASIN:        book.ASIN,
		}); err != nil {
			return fmt.Errorf("stage refresh for %s: %w", book.ASIN, err)
		}
	}
	return nil
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
