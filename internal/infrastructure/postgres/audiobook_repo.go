package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/readmeabook/readmeabook/internal/domain"
	"github.com/readmeabook/readmeabook/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const audiobookColumns = `id, asin, title, author, narrator, runtime_minutes,
	cover_url, created_at, updated_at`

type AudiobookRepository struct {
	pool *pgxpool.Pool
}

func NewAudiobookRepository(pool *pgxpool.Pool) *AudiobookRepository {
	return &AudiobookRepository{pool: pool}
}

func (r *AudiobookRepository) Upsert(ctx context.Context, book *domain.Audiobook) (*domain.Audiobook, error) {
	// DO UPDATE instead of DO NOTHING so RETURNING always yields the row.
	// The no-op SET keeps existing metadata; a real refresh goes through
	// UpdateMetadata.
	query := `
		INSERT INTO audiobooks (asin, title, author, narrator, runtime_minutes, cover_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (asin) DO UPDATE SET updated_at = NOW()
		RETURNING ` + audiobookColumns

	row := r.pool.QueryRow(ctx, query,
		book.ASIN, book.Title, book.Author, book.Narrator,
		book.RuntimeMinutes, book.CoverURL,
	)
	return scanAudiobook(row)
}

func (r *AudiobookRepository) GetByID(ctx context.Context, id string) (*domain.Audiobook, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+audiobookColumns+` FROM audiobooks WHERE id = $1`, id)
	return scanAudiobook(row)
}

func (r *AudiobookRepository) GetByASIN(ctx context.Context, asin string) (*domain.Audiobook, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+audiobookColumns+` FROM audiobooks WHERE asin = $1`, asin)
	return scanAudiobook(row)
}

func (r *AudiobookRepository) ListByIDs(ctx context.Context, ids []string) ([]*domain.Audiobook, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+audiobookColumns+` FROM audiobooks WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("list audiobooks by id: %w", err)
	}
	defer rows.Close()

	var books []*domain.Audiobook
	for rows.Next() {
		b, err := scanAudiobook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

func (r *AudiobookRepository) ListMissingMetadata(ctx context.Context, limit int) ([]*domain.Audiobook, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+audiobookColumns+` FROM audiobooks
		 WHERE runtime_minutes = 0 ORDER BY updated_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audiobooks missing metadata: %w", err)
	}
	defer rows.Close()

	var books []*domain.Audiobook
	for rows.Next() {
		b, err := scanAudiobook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

func (r *AudiobookRepository) UpdateMetadata(ctx context.Context, id string, meta repository.AudiobookMetadata) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE audiobooks
		SET    title           = $2,
		       author          = $3,
		       narrator        = $4,
		       runtime_minutes = $5,
		       cover_url       = $6,
		       updated_at      = NOW()
		WHERE id = $1`,
		id, meta.Title, meta.Author, meta.Narrator, meta.RuntimeMinutes, meta.CoverURL)
	if err != nil {
		return fmt.Errorf("update audiobook metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAudiobookNotFound
	}
	return nil
}

func scanAudiobook(row rowScanner) (*domain.Audiobook, error) {
	var b domain.Audiobook
	err := row.Scan(
		&b.ID, &b.ASIN, &b.Title, &b.Author, &b.Narrator,
		&b.RuntimeMinutes, &b.CoverURL, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAudiobookNotFound
		}
		return nil, fmt.Errorf("scan audiobook: %w", err)
	}
	return &b, nil
}
