package plex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/readmeabook/readmeabook/internal/domain"
	"github.com/readmeabook/readmeabook/internal/queue"
	"github.com/readmeabook/readmeabook/internal/repository"
)

// promoteBatch bounds how many downloaded requests one scan job promotes.
// Anything left over is picked up by the next scan, nightly at the latest.
const promoteBatch = 100

// LibraryScanner triggers a media server scan.
type LibraryScanner interface {
	ScanLibrary(ctx context.Context) error
}

// AvailabilityNotifier tells requesters their book is ready.
type AvailabilityNotifier interface {
	RequestAvailable(ctx context.Context, req *domain.Request)
}

// Processor handles library scan jobs: trigger the scan, then promote
// every downloaded request to available.
type Processor struct {
	requests repository.RequestRepository
	scanner  LibraryScanner
	notifier AvailabilityNotifier
	logger   *slog.Logger
}

func NewProcessor(
	requests repository.RequestRepository,
	scanner LibraryScanner,
	notifier AvailabilityNotifier,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		requests: requests,
		scanner:  scanner,
		notifier: notifier,
		logger:   logger.With("component", "plex"),
	}
}

func (p *Processor) Type() domain.JobType { return domain.JobTypePlexLibraryScan }

type scanOutcome struct {
	Outcome  string `json:"outcome"`
	Reason   string `json:"reason,omitempty"`
	Promoted int    `json:"promoted"`
}

func (o scanOutcome) marshal() json.RawMessage {
	raw, _ := json.Marshal(o)
	return raw
}

func (p *Processor) Process(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
	var payload domain.PlexLibraryScanPayload
	if err := domain.DecodePayload(job, &payload); err != nil {
		return nil, queue.Terminal(err)
	}
	logger := p.logger.With("job_id", job.ID, "reason", payload.Reason)

	if err := p.scanner.ScanLibrary(ctx); err != nil {
		return nil, fmt.Errorf("scan library: %w", err)
	}

	downloaded, err := p.requests.ListByStatus(ctx, domain.RequestStatusDownloaded, promoteBatch)
	if err != nil {
		return nil, fmt.Errorf("list downloaded requests: %w", err)
	}

	promoted := 0
	for _, req := range downloaded {
		err := p.requests.TransitionStatus(ctx, req.ID, domain.RequestStatusDownloaded, domain.RequestStatusAvailable, nil)
		if err != nil {
			if errors.Is(err, domain.ErrStaleRequestStatus) {
				// A concurrent scan got there first.
				continue
			}
			logger.Warn("could not promote request", "request_id", req.ID, "error", err)
			continue
		}
		promoted++
		p.notifier.RequestAvailable(ctx, req)
	}

	logger.Info("library scan finished", "downloaded", len(downloaded), "promoted", promoted)
	return scanOutcome{Outcome: "scanned", Reason: payload.Reason, Promoted: promoted}.marshal(), nil
}
