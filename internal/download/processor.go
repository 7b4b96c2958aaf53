package download

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/readmeabook/readmeabook/internal/domain"
	"github.com/readmeabook/readmeabook/internal/metrics"
	"github.com/readmeabook/readmeabook/internal/queue"
	"github.com/readmeabook/readmeabook/internal/repository"
)

// Enqueuer stages the follow-on library scan.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload domain.JobPayload) (*domain.Job, error)
}

// FailureNotifier tells the requester the download is not coming.
type FailureNotifier interface {
	RequestFailed(ctx context.Context, req *domain.Request, reason string)
}

type Processor struct {
	requests repository.RequestRepository
	client   Client
	enqueuer Enqueuer
	notifier FailureNotifier
	logger   *slog.Logger
}

func NewProcessor(
	requests repository.RequestRepository,
	client Client,
	enqueuer Enqueuer,
	notifier FailureNotifier,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		requests: requests,
		client:   client,
		enqueuer: enqueuer,
		notifier: notifier,
		logger:   logger.With("component", "download"),
	}
}

func (p *Processor) Type() domain.JobType { return domain.JobTypeDownload }

type downloadOutcome struct {
	Outcome string `json:"outcome"`
	Title   string `json:"title,omitempty"`
}

func (o downloadOutcome) marshal() json.RawMessage {
	raw, _ := json.Marshal(o)
	return raw
}

// Process submits the selected release and moves the request to downloaded.
// Re-submission after a lost response is safe: qBittorrent keys torrents by
// info-hash, so the same URL lands on the same transfer.
func (p *Processor) Process(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
	var payload domain.DownloadPayload
	if err := domain.DecodePayload(job, &payload); err != nil {
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
	if req.Status != domain.RequestStatusDownloading {
		// Redelivery after the request moved on, or an admin intervened.
		metrics.DownloadSubmissionsTotal.WithLabelValues("skipped").Inc()
		logger.Warn("request is not downloading, skipping", "status", req.Status)
		return downloadOutcome{Outcome: "skipped"}.marshal(), nil
	}

	if err := p.client.AddRelease(ctx, payload.Candidate); err != nil {
		metrics.DownloadSubmissionsTotal.WithLabelValues("error").Inc()
		if job.Attempts >= job.MaxAttempts {
			// Last try. Fail the request now so it does not sit in
			// downloading forever; the job row records the same error.
			msg := fmt.Sprintf("download submission failed after %d attempts: %v", job.Attempts, err)
			if terr := p.requests.TransitionStatus(ctx, req.ID, domain.RequestStatusDownloading, domain.RequestStatusFailed, &msg); terr != nil {
				logger.Error("could not mark request failed", "error", terr)
			} else {
				p.notifier.RequestFailed(ctx, req, msg)
			}
		}
		return nil, fmt.Errorf("submit release: %w", err)
	}

	if err := p.requests.TransitionStatus(ctx, req.ID, domain.RequestStatusDownloading, domain.RequestStatusDownloaded, nil); err != nil {
		if errors.Is(err, domain.ErrStaleRequestStatus) {
			return nil, queue.Terminal(err)
		}
		return nil, err
	}
	if _, err := p.enqueuer.Enqueue(ctx, domain.PlexLibraryScanPayload{Reason: "post_download"}); err != nil {
		// The nightly scan sweeps downloaded requests regardless; losing
		// the immediate scan only delays availability.
		logger.Warn("enqueue library scan failed", "error", err)
	}

	metrics.DownloadSubmissionsTotal.WithLabelValues("submitted").Inc()
	logger.Info("release submitted",
		"title", payload.Candidate.Title,
		"indexer", payload.Candidate.IndexerName,
		"protocol", payload.Candidate.Protocol,
	)
	return downloadOutcome{Outcome: "submitted", Title: payload.Candidate.Title}.marshal(), nil
}
