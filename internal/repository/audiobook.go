package repository

import (
	"context"

	"github.com/readmeabook/readmeabook/internal/domain"
)

// AudiobookMetadata is the refreshable slice of an audiobook row, written
// back after an Audible catalog lookup.
type AudiobookMetadata struct {
	Title          string
	Author         string
	Narrator       string
	RuntimeMinutes int
	CoverURL       string
}

type AudiobookRepository interface {
	// Upsert inserts by ASIN or returns the existing row unchanged.
	Upsert(ctx context.Context, book *domain.Audiobook) (*domain.Audiobook, error)
	GetByID(ctx context.Context, id string) (*domain.Audiobook, error)
	GetByASIN(ctx context.Context, asin string) (*domain.Audiobook, error)
	// ListByIDs fetches a batch in one query; missing ids are simply absent
	// from the result.
	ListByIDs(ctx context.Context, ids []string) ([]*domain.Audiobook, error)
	// ListMissingMetadata returns books with no runtime yet, oldest first;
	// the nightly refresh sweep works through them.
	ListMissingMetadata(ctx context.Context, limit int) ([]*domain.Audiobook, error)
	UpdateMetadata(ctx context.Context, id string, meta AudiobookMetadata) error
}
