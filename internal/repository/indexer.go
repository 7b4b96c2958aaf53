package repository

import (
	"context"

	"github.com/readmeabook/readmeabook/internal/domain"
)

type IndexerRepository interface {
	Create(ctx context.Context, idx *domain.Indexer) (*domain.Indexer, error)
	GetByID(ctx context.Context, id string) (*domain.Indexer, error)
	List(ctx context.Context) ([]*domain.Indexer, error)
	// ListEnabled returns enabled indexers ordered by priority then name;
	// the search processor fans out over exactly this order.
	ListEnabled(ctx context.Context) ([]*domain.Indexer, error)
	Update(ctx context.Context, idx *domain.Indexer) (*domain.Indexer, error)
	Delete(ctx context.Context, id string) error

	// Flag rules are the admin-tunable ranking bonuses, ordered by creation.
	ListFlagRules(ctx context.Context) ([]domain.FlagRule, error)
	CreateFlagRule(ctx context.Context, rule *domain.FlagRule) (*domain.FlagRule, error)
	DeleteFlagRule(ctx context.Context, id string) error
}
