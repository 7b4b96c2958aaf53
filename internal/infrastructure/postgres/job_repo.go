package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/readmeabook/readmeabook/internal/domain"
	"github.com/readmeabook/readmeabook/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `id, type, payload, status, attempts, max_attempts,
	scheduled_at, claimed_by, heartbeat_at, started_at, completed_at,
	result, error_message, created_at, updated_at`

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) Enqueue(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	query := `
		INSERT INTO jobs (type, payload, status, max_attempts, scheduled_at)
		VALUES ($1, $2, 'queued', $3, $4)
		RETURNING ` + jobColumns

	row := r.pool.QueryRow(ctx, query,
		job.Type,
		job.Payload,
		job.MaxAttempts,
		job.ScheduledAt,
	)
	return scanJob(row)
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (r *JobRepository) Claim(ctx context.Context, workerID string, types []domain.JobType, limit int) ([]*domain.Job, error) {
	if len(types) == 0 || limit <= 0 {
		return nil, nil
	}
	typeNames := make([]string, len(types))
	for i, t := range types {
		typeNames[i] = string(t)
	}

	// FOR UPDATE SKIP LOCKED prevents double-execution across workers.
	// The attempt is counted here, in the same statement that flips the
	// status, so a claim and its increment can never be observed apart.
	query := `
		UPDATE jobs
		SET    status       = 'running',
		       attempts     = attempts + 1,
		       claimed_by   = $1,
		       heartbeat_at = NOW(),
		       started_at   = NOW(),
		       updated_at   = NOW()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE  status       = 'queued'
			  AND  type         = ANY($2)
			  AND  scheduled_at <= NOW()
			ORDER BY scheduled_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	rows, err := r.pool.Query(ctx, query, workerID, typeNames, limit)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *JobRepository) UpdateHeartbeat(ctx context.Context, jobID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE jobs SET heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'running'`, jobID)
	return err
}

func (r *JobRepository) Complete(ctx context.Context, jobID string, result json.RawMessage) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE jobs
		SET    status       = 'succeeded',
		       result       = $2,
		       completed_at = NOW(),
		       updated_at   = NOW()
		WHERE id = $1 AND status = 'running'`, jobID, result)
	return err
}

func (r *JobRepository) Fail(ctx context.Context, jobID, lastError string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE jobs
		SET    status        = 'failed',
		       error_message = $2,
		       completed_at  = NOW(),
		       updated_at    = NOW()
		WHERE id = $1 AND status = 'running'`, jobID, lastError)
	return err
}

func (r *JobRepository) Reschedule(ctx context.Context, jobID, lastError string, retryAt time.Time) error {
	// Attempts are counted at claim time, so a requeue changes nothing
	// but the schedule and the claim bookkeeping.
	_, err := r.pool.Exec(ctx,
		`UPDATE jobs
		SET    status        = 'queued',
		       error_message = $2,
		       scheduled_at  = $3,
		       claimed_by    = NULL,
		       heartbeat_at  = NULL,
		       updated_at    = NOW()
		WHERE id = $1 AND status = 'running'`, jobID, lastError, retryAt)
	return err
}

func (r *JobRepository) RescheduleStale(ctx context.Context, staleCutoff time.Time, limit int) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET    status        = 'queued',
		       error_message = 'worker timeout',
		       claimed_by    = NULL,
		       heartbeat_at  = NULL,
		       updated_at    = NOW()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE  status       = 'running'
			  AND  heartbeat_at < $1
			  AND  attempts     < max_attempts
			ORDER BY heartbeat_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`, staleCutoff, limit)
	return int(tag.RowsAffected()), err
}

func (r *JobRepository) FailStale(ctx context.Context, staleCutoff time.Time, limit int) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET    status        = 'failed',
		       error_message = 'worker timeout: max attempts exceeded',
		       completed_at  = NOW(),
		       updated_at    = NOW()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE  status       = 'running'
			  AND  heartbeat_at < $1
			  AND  attempts     >= max_attempts
			ORDER BY heartbeat_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`, staleCutoff, limit)
	return int(tag.RowsAffected()), err
}

func (r *JobRepository) List(ctx context.Context, input repository.ListJobsInput) ([]*domain.Job, error) {
	var args []any
	var where []string

	if input.Type != "" {
		args = append(args, input.Type)
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if input.Status != "" {
		args = append(args, input.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if input.CursorTime != nil {
		args = append(args, *input.CursorTime, input.CursorID)
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	clause := "TRUE"
	if len(where) > 0 {
		clause = strings.Join(where, " AND ")
	}
	args = append(args, input.Limit)

	query := fmt.Sprintf(`
		SELECT `+jobColumns+`
		FROM jobs
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d`, clause, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *JobRepository) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.JobStatus]int)
	for rows.Next() {
		var status domain.JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// pgx.Row and pgx.Rows both implement this.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	err := row.Scan(
		&j.ID, &j.Type, &j.Payload, &j.Status, &j.Attempts, &j.MaxAttempts,
		&j.ScheduledAt, &j.ClaimedBy, &j.HeartbeatAt, &j.StartedAt, &j.CompletedAt,
		&j.Result, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}
