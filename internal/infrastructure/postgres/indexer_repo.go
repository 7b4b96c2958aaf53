package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/readmeabook/readmeabook/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const indexerColumns = `id, name, kind, base_url, api_key, protocol,
	priority, enabled, created_at, updated_at`

type IndexerRepository struct {
	pool *pgxpool.Pool
}

func NewIndexerRepository(pool *pgxpool.Pool) *IndexerRepository {
	return &IndexerRepository{pool: pool}
}

func (r *IndexerRepository) Create(ctx context.Context, idx *domain.Indexer) (*domain.Indexer, error) {
	query := `
		INSERT INTO indexers (name, kind, base_url, api_key, protocol, priority, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + indexerColumns

	row := r.pool.QueryRow(ctx, query,
		idx.Name, idx.Kind, idx.BaseURL, idx.APIKey,
		idx.Protocol, idx.Priority, idx.Enabled,
	)
	created, err := scanIndexer(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrDuplicateIndexer
		}
		return nil, err
	}
	return created, nil
}

func (r *IndexerRepository) GetByID(ctx context.Context, id string) (*domain.Indexer, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+indexerColumns+` FROM indexers WHERE id = $1`, id)
	return scanIndexer(row)
}

func (r *IndexerRepository) List(ctx context.Context) ([]*domain.Indexer, error) {
	return r.list(ctx, `SELECT `+indexerColumns+` FROM indexers ORDER BY priority ASC, name ASC`)
}

func (r *IndexerRepository) ListEnabled(ctx context.Context) ([]*domain.Indexer, error) {
	return r.list(ctx, `SELECT `+indexerColumns+` FROM indexers WHERE enabled ORDER BY priority ASC, name ASC`)
}

func (r *IndexerRepository) list(ctx context.Context, query string) ([]*domain.Indexer, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list indexers: %w", err)
	}
	defer rows.Close()

	var indexers []*domain.Indexer
	for rows.Next() {
		idx, err := scanIndexer(rows)
		if err != nil {
			return nil, err
		}
		indexers = append(indexers, idx)
	}
	return indexers, rows.Err()
}

func (r *IndexerRepository) Update(ctx context.Context, idx *domain.Indexer) (*domain.Indexer, error) {
	query := `
		UPDATE indexers
		SET    name       = $2,
		       kind       = $3,
		       base_url   = $4,
		       api_key    = $5,
		       protocol   = $6,
		       priority   = $7,
		       enabled    = $8,
		       updated_at = NOW()
		WHERE id = $1
		RETURNING ` + indexerColumns

	row := r.pool.QueryRow(ctx, query,
		idx.ID, idx.Name, idx.Kind, idx.BaseURL, idx.APIKey,
		idx.Protocol, idx.Priority, idx.Enabled,
	)
	updated, err := scanIndexer(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrDuplicateIndexer
		}
		return nil, err
	}
	return updated, nil
}

func (r *IndexerRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM indexers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete indexer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrIndexerNotFound
	}
	return nil
}

func (r *IndexerRepository) ListFlagRules(ctx context.Context) ([]domain.FlagRule, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, flag, points, created_at FROM flag_rules ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list flag rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.FlagRule
	for rows.Next() {
		var rule domain.FlagRule
		if err := rows.Scan(&rule.ID, &rule.Flag, &rule.Points, &rule.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan flag rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *IndexerRepository) CreateFlagRule(ctx context.Context, rule *domain.FlagRule) (*domain.FlagRule, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO flag_rules (flag, points)
		VALUES ($1, $2)
		RETURNING id, flag, points, created_at`, rule.Flag, rule.Points)

	var created domain.FlagRule
	if err := row.Scan(&created.ID, &created.Flag, &created.Points, &created.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrDuplicateFlagRule
		}
		return nil, fmt.Errorf("create flag rule: %w", err)
	}
	return &created, nil
}

func (r *IndexerRepository) DeleteFlagRule(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM flag_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete flag rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrFlagRuleNotFound
	}
	return nil
}

func scanIndexer(row rowScanner) (*domain.Indexer, error) {
	var idx domain.Indexer
	err := row.Scan(
		&idx.ID, &idx.Name, &idx.Kind, &idx.BaseURL, &idx.APIKey,
		&idx.Protocol, &idx.Priority, &idx.Enabled, &idx.CreatedAt, &idx.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrIndexerNotFound
		}
		return nil, fmt.Errorf("scan indexer: %w", err)
	}
	return &idx, nil
}
