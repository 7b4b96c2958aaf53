package usecase

import (
	"context"
	"fmt"

	"github.com/readmeabook/readmeabook/internal/domain"
	"github.com/readmeabook/readmeabook/internal/repository"
)

// JobUsecase exposes the queue read-only for admin inspection. All writes
// go through the enqueuer and the worker.
type JobUsecase struct {
	jobs repository.JobRepository
}

func NewJobUsecase(jobs repository.JobRepository) *JobUsecase {
	return &JobUsecase{jobs: jobs}
}

func (u *JobUsecase) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	job, err := u.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

type ListJobsInput struct {
	Type   string
	Status string
	Cursor string
	Limit  int
}

type ListJobsResult struct {
	Jobs       []*domain.Job
	NextCursor *string
}

func (u *JobUsecase) ListJobs(ctx context.Context, input ListJobsInput) (ListJobsResult, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	repoInput := repository.ListJobsInput{Limit: limit + 1}
	if input.Type != "" {
		jobType := domain.JobType(input.Type)
		if !domain.IsKnownJobType(jobType) {
			return ListJobsResult{}, fmt.Errorf("%w: unknown job type %q", domain.ErrValidation, input.Type)
		}
		repoInput.Type = jobType
	}
	if input.Status != "" {
		status := domain.JobStatus(input.Status)
		if !domain.IsKnownJobStatus(status) {
			return ListJobsResult{}, fmt.Errorf("%w: unknown job status %q", domain.ErrValidation, input.Status)
		}
		repoInput.Status = status
	}
	if input.Cursor != "" {
		cursorTime, cursorID, err := decodeCursor(input.Cursor)
		if err != nil {
			return ListJobsResult{}, fmt.Errorf("%w: bad cursor", domain.ErrValidation)
		}
		repoInput.CursorTime = cursorTime
		repoInput.CursorID = cursorID
	}

	jobs, err := u.jobs.List(ctx, repoInput)
	if err != nil {
		return ListJobsResult{}, fmt.Errorf("list jobs: %w", err)
	}

	var nextCursor *string
	if len(jobs) == limit+1 {
		last := jobs[limit]
		s := encodeCursor(last.CreatedAt, last.ID)
		nextCursor = &s
		jobs = jobs[:limit]
	}

	return ListJobsResult{Jobs: jobs, NextCursor: nextCursor}, nil
}

// QueueDepths reports how many jobs sit in each status, for the admin
// dashboard's queue widget.
func (u *JobUsecase) QueueDepths(ctx context.Context) (map[domain.JobStatus]int, error) {
	counts, err := u.jobs.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count jobs by status: %w", err)
	}
	return counts, nil
}
