package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/readmeabook/readmeabook/internal/domain"
	"github.com/readmeabook/readmeabook/internal/metrics"
	"github.com/readmeabook/readmeabook/internal/queue"
	"github.com/readmeabook/readmeabook/internal/ranking"
	"github.com/readmeabook/readmeabook/internal/repository"
)

// IndexerSearcher runs one query against one indexer. The concrete value
// routes on the indexer's kind (Prowlarr API or scrape session).
type IndexerSearcher interface {
	Search(ctx context.Context, indexer *domain.Indexer, query string) ([]domain.CandidateRelease, error)
}

// Enqueuer is the slice of the queue the processor needs: staging the one
// follow-on download job.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload domain.JobPayload) (*domain.Job, error)
}

// FailureNotifier tells the requester their request failed for good.
type FailureNotifier interface {
	RequestFailed(ctx context.Context, req *domain.Request, reason string)
}

type Config struct {
	// MinMatchRatio is the ranking similarity floor.
	MinMatchRatio float64
	// MaxSearchAttempts ends the search cycle with a failed request after
	// this many empty searches. Zero means wait indefinitely for the
	// re-search sweep to find something.
	MaxSearchAttempts int
}

type Processor struct {
	requests repository.RequestRepository
	indexers repository.IndexerRepository
	searcher IndexerSearcher
	enqueuer Enqueuer
	notifier FailureNotifier
	logger   *slog.Logger
	cfg      Config
}

func NewProcessor(
	requests repository.RequestRepository,
	indexers repository.IndexerRepository,
	searcher IndexerSearcher,
	enqueuer Enqueuer,
	notifier FailureNotifier,
	logger *slog.Logger,
	cfg Config,
) *Processor {
	return &Processor{
		requests: requests,
		indexers: indexers,
		searcher: searcher,
		enqueuer: enqueuer,
		notifier: notifier,
		logger:   logger.With("component", "search"),
		cfg:      cfg,
	}
}

func (p *Processor) Type() domain.JobType { return domain.JobTypeSearchIndexers }

// searchOutcome is persisted as the job result for auditability.
type searchOutcome struct {
	Outcome    string  `json:"outcome"`
	Indexers   int     `json:"indexers,omitempty"`
	Candidates int     `json:"candidates"`
	Selected   string  `json:"selected,omitempty"`
	Score      float64 `json:"score,omitempty"`
	Searches   int     `json:"searches,omitempty"`
}

func (o searchOutcome) marshal() json.RawMessage {
	raw, _ := json.Marshal(o)
	return raw
}

// Process runs one search cycle for a request. Per invocation it performs
// exactly one request status transition and enqueues at most one job.
func (p *Processor) Process(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
	var payload domain.SearchIndexersPayload
	if err := domain.DecodePayload(job, &payload); err != nil {
		// A payload that does not decode today will not decode tomorrow.
		return nil, queue.Terminal(err)
	}
	logger := p.logger.With("request_id", payload.RequestID, "job_id", job.ID)

	req, err := p.requests.GetByID(ctx, payload.RequestID)
	if err != nil {
		if errors.Is(err, domain.ErrRequestNotFound) {
			return nil, queue.Terminal(err)
		}
		return nil, err
	}
	if req.Status != domain.RequestStatusSearching {
		if req.Status == domain.RequestStatusDownloading && len(req.Selection) > 0 {
			return p.restageDownload(ctx, logger, req, payload.Audiobook)
		}
		// A previous attempt already concluded, or an admin intervened.
		// At-least-once delivery makes this a clean no-op, not an error.
		logger.Warn("request is not searching, skipping", "status", req.Status)
		return searchOutcome{Outcome: "skipped"}.marshal(), nil
	}

	enabled, err := p.indexers.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("load indexers: %w", err)
	}
	if len(enabled) == 0 {
		msg := domain.ErrNoIndexersConfigured.Error()
		if err := p.requests.TransitionStatus(ctx, req.ID, domain.RequestStatusSearching, domain.RequestStatusFailed, &msg); err != nil {
			return nil, err
		}
		metrics.SearchesTotal.WithLabelValues("no_indexers").Inc()
		logger.Error("no enabled indexers, request failed")
		p.notifier.RequestFailed(ctx, req, msg)
		return nil, queue.Terminal(domain.ErrNoIndexersConfigured)
	}

	queries := QueryVariations(payload.Audiobook.Title, payload.Audiobook.Author)
	candidates, err := p.fanOut(ctx, logger, enabled, queries)
	if err != nil {
		metrics.SearchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	candidates = dedupe(candidates)
	metrics.SearchCandidates.Observe(float64(len(candidates)))
	logger.Info("search finished", "indexers", len(enabled), "queries", len(queries), "candidates", len(candidates))

	if len(candidates) == 0 {
		return p.concludeEmpty(ctx, logger, req, len(enabled))
	}

	rules, err := p.indexers.ListFlagRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load flag rules: %w", err)
	}

	ranked := ranking.Rank(candidates, ranking.Target{
		Title:          payload.Audiobook.Title,
		Author:         payload.Audiobook.Author,
		RuntimeMinutes: payload.Audiobook.RuntimeMinutes,
	}, ranking.Policy{
		MinMatchRatio: p.cfg.MinMatchRatio,
		FlagBonuses:   rules,
	})
	if len(ranked) == 0 {
		logger.Info("all candidates below match floor", "candidates", len(candidates))
		return p.concludeEmpty(ctx, logger, req, len(enabled))
	}

	winner := ranked[0]
	selection, err := json.Marshal(winner)
	if err != nil {
		return nil, fmt.Errorf("marshal selection: %w", err)
	}
	if err := p.requests.SetSelection(ctx, req.ID, selection); err != nil {
		return nil, fmt.Errorf("persist selection: %w", err)
	}
	if err := p.requests.TransitionStatus(ctx, req.ID, domain.RequestStatusSearching, domain.RequestStatusDownloading, nil); err != nil {
		if errors.Is(err, domain.ErrStaleRequestStatus) {
			return nil, queue.Terminal(err)
		}
		return nil, err
	}
	if _, err := p.enqueuer.Enqueue(ctx, domain.DownloadPayload{
		RequestID: req.ID,
		Audiobook: payload.Audiobook,
		Candidate: winner.CandidateRelease,
	}); err != nil {
		// The selection is already persisted; the retried job finds the
		// request downloading and restages the download from it.
		return nil, fmt.Errorf("enqueue download: %w", err)
	}

	metrics.SearchesTotal.WithLabelValues("selected").Inc()
	logger.Info("candidate selected",
		"title", winner.Title,
		"indexer", winner.IndexerName,
		"final_score", winner.FinalScore,
		"candidates", len(candidates),
	)
	return searchOutcome{
		Outcome:    "selected",
		Indexers:   len(enabled),
		Candidates: len(candidates),
		Selected:   winner.Title,
		Score:      winner.FinalScore,
	}.marshal(), nil
}

// restageDownload re-enqueues the download for a request whose selection is
// persisted but whose download job may never have landed: a crash between
// the downloading transition and the enqueue leaves exactly this state.
// Duplicate download jobs are harmless; the download processor no-ops once
// the request has moved on.
func (p *Processor) restageDownload(ctx context.Context, logger *slog.Logger, req *domain.Request, book domain.AudiobookRef) (json.RawMessage, error) {
	var winner domain.ScoredRelease
	if err := json.Unmarshal(req.Selection, &winner); err != nil {
		return nil, queue.Terminal(fmt.Errorf("decode stored selection: %w", err))
	}
	if _, err := p.enqueuer.Enqueue(ctx, domain.DownloadPayload{
		RequestID: req.ID,
		Audiobook: book,
		Candidate: winner.CandidateRelease,
	}); err != nil {
		return nil, fmt.Errorf("enqueue download: %w", err)
	}
	logger.Info("download restaged from stored selection", "title", winner.Title)
	return searchOutcome{Outcome: "restaged", Selected: winner.Title}.marshal(), nil
}

// concludeEmpty handles the nothing-found outcome: park the request for the
// re-search sweep, or fail it once the configured attempt budget is spent.
// Either way the job itself succeeds.
func (p *Processor) concludeEmpty(ctx context.Context, logger *slog.Logger, req *domain.Request, indexerCount int) (json.RawMessage, error) {
	searches, err := p.requests.IncrementSearchAttempts(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	if p.cfg.MaxSearchAttempts > 0 && searches >= p.cfg.MaxSearchAttempts {
		msg := fmt.Sprintf("no candidates found after %d searches", searches)
		if err := p.requests.TransitionStatus(ctx, req.ID, domain.RequestStatusSearching, domain.RequestStatusFailed, &msg); err != nil {
			return nil, err
		}
		metrics.SearchesTotal.WithLabelValues("exhausted").Inc()
		logger.Warn("search attempts exhausted", "searches", searches)
		p.notifier.RequestFailed(ctx, req, msg)
		return searchOutcome{Outcome: "exhausted", Indexers: indexerCount, Searches: searches}.marshal(), nil
	}

	if err := p.requests.TransitionStatus(ctx, req.ID, domain.RequestStatusSearching, domain.RequestStatusAwaitingSearch, nil); err != nil {
		return nil, err
	}
	metrics.SearchesTotal.WithLabelValues("empty").Inc()
	logger.Info("no candidates found, awaiting re-search", "searches", searches)
	return searchOutcome{Outcome: "no_candidates", Indexers: indexerCount, Searches: searches}.marshal(), nil
}

type indexerResult struct {
	candidates []domain.CandidateRelease
	err        error
}

// fanOut queries all indexers in parallel, each trying every variation in
// order. Result slots are positional, so aggregate order stays (indexer
// priority, variation, result) no matter which goroutine finishes first.
// Partial failures degrade to a warning; only all indexers failing is an
// error worth a retry.
func (p *Processor) fanOut(ctx context.Context, logger *slog.Logger, indexers []*domain.Indexer, queries []string) ([]domain.CandidateRelease, error) {
	results := make([]indexerResult, len(indexers))
	var wg sync.WaitGroup
	for i, idx := range indexers {
		wg.Add(1)
		go func(slot int, idx *domain.Indexer) {
			defer wg.Done()
			results[slot] = p.queryIndexer(ctx, idx, queries)
		}(i, idx)
	}
	wg.Wait()

	var all []domain.CandidateRelease
	failures := 0
	var lastErr error
	for i, res := range results {
		if res.err != nil {
			failures++
			lastErr = res.err
			logger.Warn("indexer search failed", "indexer", indexers[i].Name, "error", res.err)
			continue
		}
		all = append(all, res.candidates...)
	}
	if failures == len(indexers) {
		return nil, fmt.Errorf("all %d indexers failed: %w", len(indexers), lastErr)
	}
	return all, nil
}

func (p *Processor) queryIndexer(ctx context.Context, idx *domain.Indexer, queries []string) indexerResult {
	var out []domain.CandidateRelease
	var lastErr error
	succeeded := false

	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return indexerResult{err: err}
		}

		start := time.Now()
		found, err := p.searcher.Search(ctx, idx, q)
		if err != nil {
			metrics.IndexerQueryDuration.WithLabelValues(idx.Name, "error").Observe(time.Since(start).Seconds())
			lastErr = err
			continue
		}
		metrics.IndexerQueryDuration.WithLabelValues(idx.Name, "ok").Observe(time.Since(start).Seconds())
		succeeded = true

		for _, c := range found {
			// The indexer row is authoritative for provenance fields.
			c.IndexerID = idx.ID
			c.IndexerName = idx.Name
			if c.Protocol == "" {
				c.Protocol = idx.Protocol
			}
			out = append(out, c)
		}
	}

	if !succeeded {
		return indexerResult{err: lastErr}
	}
	return indexerResult{candidates: out}
}

// dedupe drops repeat candidates keyed by GUID, keeping the first
// occurrence so input order decides ranking ties.
func dedupe(candidates []domain.CandidateRelease) []domain.CandidateRelease {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]domain.CandidateRelease, 0, len(candidates))
	for _, c := range candidates {
		key := c.GUID
		if key == "" {
			key = c.DownloadURL
		}
		if key == "" {
			key = c.IndexerID + "|" + c.Title
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}
