package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/readmeabook/readmeabook/internal/domain"
	"github.com/readmeabook/readmeabook/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const requestColumns = `id, user_id, audiobook_id, status, error_message,
	search_attempts, selection, created_at, updated_at, completed_at`

type RequestRepository struct {
	pool *pgxpool.Pool
}

func NewRequestRepository(pool *pgxpool.Pool) *RequestRepository {
	return &RequestRepository{pool: pool}
}

func (r *RequestRepository) Create(ctx context.Context, req *domain.Request) (*domain.Request, error) {
	query := `
		INSERT INTO requests (user_id, audiobook_id, status)
		VALUES ($1, $2, $3)
		RETURNING ` + requestColumns

	row := r.pool.QueryRow(ctx, query, req.UserID, req.AudiobookID, req.Status)
	created, err := scanRequest(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrDuplicateRequest
		}
		return nil, err
	}
	return created, nil
}

func (r *RequestRepository) GetByID(ctx context.Context, id string) (*domain.Request, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE id = $1`, id)
	return scanRequest(row)
}

func (r *RequestRepository) List(ctx context.Context, input repository.ListRequestsInput) ([]*domain.Request, error) {
	var args []any
	var where []string

	if input.UserID != "" {
		args = append(args, input.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
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
		SELECT `+requestColumns+`
		FROM requests
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d`, clause, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var reqs []*domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

func (r *RequestRepository) ListByStatus(ctx context.Context, status domain.RequestStatus, limit int) ([]*domain.Request, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+requestColumns+`
		FROM requests
		WHERE status = $1
		ORDER BY updated_at ASC
		LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list requests by status: %w", err)
	}
	defer rows.Close()

	var reqs []*domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// TransitionStatus performs the guarded status move. The WHERE clause pins
// the expected from status, so of two concurrent writers exactly one wins;
// the loser gets ErrStaleRequestStatus and must re-read.
func (r *RequestRepository) TransitionStatus(ctx context.Context, id string, from, to domain.RequestStatus, errorMessage *string) error {
	if !domain.CanTransitionRequest(from, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidRequestTransition, from, to)
	}

	// completed_at marks the end of the pipeline; a retry back into the
	// pipeline clears it again.
	tag, err := r.pool.Exec(ctx, `
		UPDATE requests
		SET    status        = $3,
		       error_message = $4,
		       completed_at  = CASE WHEN $3 IN ('available', 'failed', 'denied') THEN NOW() ELSE NULL END,
		       updated_at    = NOW()
		WHERE id = $1 AND status = $2`, id, from, to, errorMessage)
	if err != nil {
		return fmt.Errorf("transition request: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return domain.ErrStaleRequestStatus
}

func (r *RequestRepository) SetSelection(ctx context.Context, id string, selection json.RawMessage) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE requests SET selection = $2, updated_at = NOW()
		WHERE id = $1`, id, selection)
	if err != nil {
		return fmt.Errorf("set request selection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRequestNotFound
	}
	return nil
}

func (r *RequestRepository) IncrementSearchAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := r.pool.QueryRow(ctx, `
		UPDATE requests SET search_attempts = search_attempts + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING search_attempts`, id).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrRequestNotFound
		}
		return 0, fmt.Errorf("increment search attempts: %w", err)
	}
	return attempts, nil
}

func (r *RequestRepository) ResetSearchAttempts(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE requests SET search_attempts = 0, updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("reset search attempts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRequestNotFound
	}
	return nil
}

func scanRequest(row rowScanner) (*domain.Request, error) {
	var req domain.Request
	err := row.Scan(
		&req.ID, &req.UserID, &req.AudiobookID, &req.Status, &req.ErrorMessage,
		&req.SearchAttempts, &req.Selection, &req.CreatedAt, &req.UpdatedAt,
		&req.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRequestNotFound
		}
		return nil, fmt.Errorf("scan request: %w", err)
	}
	return &req, nil
}
