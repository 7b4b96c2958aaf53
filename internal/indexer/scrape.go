package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/readmeabook/readmeabook/internal/domain"
	"github.com/readmeabook/readmeabook/internal/metrics"
	"github.com/readmeabook/readmeabook/internal/pacing"
)

const defaultMaxPages = 5

// PageFetcher fetches and parses one result page of a scraped source.
// Implementations do their own per-page retries and report how hard the
// page was to get; the ScrapeClient turns those reports into pacing.
type PageFetcher interface {
	FetchPage(ctx context.Context, idx *domain.Indexer, query string, page int) ([]domain.CandidateRelease, pacing.PageResult, error)
}

type ScrapeConfig struct {
	// MaxPages caps how deep one session pages into results.
	MaxPages int
	Pacer    pacing.PacerConfig
}

// ScrapeClient runs scrape sessions: it pages through results, waiting
// between pages for however long the adaptive pacer demands. Breaker state
// is session-scoped, so every Search starts from a fresh pacer.
type ScrapeClient struct {
	fetcher PageFetcher
	logger  *slog.Logger
	cfg     ScrapeConfig

	// sleep is swapped out in tests to record delays instead of waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewScrapeClient(fetcher PageFetcher, logger *slog.Logger, cfg ScrapeConfig) *ScrapeClient {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	return &ScrapeClient{
		fetcher: fetcher,
		logger:  logger.With("component", "scrape"),
		cfg:     cfg,
		sleep:   sleepContext,
	}
}

func (c *ScrapeClient) Search(ctx context.Context, idx *domain.Indexer, query string) ([]domain.CandidateRelease, error) {
	pacer := pacing.NewAdaptivePacer(c.cfg.Pacer)
	logger := c.logger.With("indexer", idx.Name, "query", query)

	var all []domain.CandidateRelease
	for page := 1; page <= c.cfg.MaxPages; page++ {
		candidates, result, err := c.fetcher.FetchPage(ctx, idx, query, page)
		if err != nil {
			metrics.ScrapePagesTotal.WithLabelValues("error").Inc()
			if len(all) == 0 {
				return nil, fmt.Errorf("fetch page %d: %w", page, err)
			}
			// Candidates, not pages, are the goal; keep what earlier
			// pages produced.
			logger.Warn("page fetch failed, keeping earlier pages", "page", page, "error", err)
			return all, nil
		}
		metrics.ScrapePagesTotal.WithLabelValues(pageOutcome(result)).Inc()
		all = append(all, candidates...)
		if len(candidates) == 0 {
			// Past the last page of results.
			break
		}
		if page == c.cfg.MaxPages {
			break
		}

		wasTripped := pacer.Tripped()
		delay := pacer.ReportPageResult(result)
		if !wasTripped && pacer.Tripped() {
			metrics.ScrapeBreakerTripsTotal.Inc()
			logger.Warn("scrape breaker tripped, cooling down",
				"page", page,
				"delay", delay,
				"retry_pages", pacer.ConsecutiveRetryPages(),
			)
		}
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return all, nil
}

func pageOutcome(r pacing.PageResult) string {
	if r.RetriesUsed > 0 || r.Encountered503 {
		return "retry"
	}
	return "ok"
}

// sleepContext waits for d unless ctx ends first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
