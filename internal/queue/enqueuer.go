package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/readmeabook/readmeabook/internal/domain"
	"github.com/readmeabook/readmeabook/internal/repository"
)

// Enqueuer validates typed payloads and writes durable job rows. Once
// Enqueue returns nil the job survives a process crash.
type Enqueuer struct {
	jobs        repository.JobRepository
	logger      *slog.Logger
	maxAttempts int
}

func NewEnqueuer(jobs repository.JobRepository, logger *slog.Logger, maxAttempts int) *Enqueuer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Enqueuer{
		jobs:        jobs,
		logger:      logger.With("component", "enqueuer"),
		maxAttempts: maxAttempts,
	}
}

// Enqueue inserts a job due immediately.
func (e *Enqueuer) Enqueue(ctx context.Context, payload domain.JobPayload) (*domain.Job, error) {
	return e.EnqueueAt(ctx, payload, time.Now())
}

// EnqueueAt inserts a job that becomes claimable at the given time.
func (e *Enqueuer) EnqueueAt(ctx context.Context, payload domain.JobPayload, at time.Time) (*domain.Job, error) {
	raw, err := domain.MarshalPayload(payload)
	if err != nil {
		return nil, err
	}

	job, err := e.jobs.Enqueue(ctx, &domain.Job{
		Type:        payload.JobType(),
		Payload:     raw,
		MaxAttempts: e.maxAttempts,
		ScheduledAt: at,
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue %s job: %w", payload.JobType(), err)
	}

	e.logger.Info("job enqueued", "job_id", job.ID, "type", job.Type, "scheduled_at", job.ScheduledAt)
	return job, nil
}
