package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/readmeabook/readmeabook/internal/domain"
)

type ListJobsInput struct {
	Type       domain.JobType   // empty = all types
	Status     domain.JobStatus // empty = all statuses
	CursorTime *time.Time       // nil = first page
	CursorID   string           // used only when CursorTime is non-nil
	Limit      int
}

// UseCase and worker depend on the interface, not the concrete pgx
// implementation, so tests run against in-memory fakes.
type JobRepository interface {
	Enqueue(ctx context.Context, job *domain.Job) (*domain.Job, error)
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context, input ListJobsInput) ([]*domain.Job, error)

	// Claim atomically marks up to limit due jobs of the given types as
	// running and counts the attempt. A job claimed here is invisible to
	// every other Claim call until it is completed, failed, or requeued.
	Claim(ctx context.Context, workerID string, types []domain.JobType, limit int) ([]*domain.Job, error)
	UpdateHeartbeat(ctx context.Context, jobID string) error
	Complete(ctx context.Context, jobID string, result json.RawMessage) error
	Fail(ctx context.Context, jobID, lastError string) error
	Reschedule(ctx context.Context, jobID, lastError string, retryAt time.Time) error

	// Reaper methods. Recover jobs whose worker stopped heartbeating:
	// requeue those with attempts left, fail the rest.
	RescheduleStale(ctx context.Context, staleCutoff time.Time, limit int) (int, error)
	FailStale(ctx context.Context, staleCutoff time.Time, limit int) (int, error)

	CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error)
}
