package usecase

import (
	"context"
	"fmt"

	"github.com/readmeabook/readmeabook/internal/domain"
	"github.com/readmeabook/readmeabook/internal/repository"
)

// SettingsUsecase manages the admin-tunable acquisition settings: the
// indexer roster and the ranking flag rules.
type SettingsUsecase struct {
	indexers repository.IndexerRepository
}

func NewSettingsUsecase(indexers repository.IndexerRepository) *SettingsUsecase {
	return &SettingsUsecase{indexers: indexers}
}

type CreateIndexerInput struct {
	Name     string
	Kind     domain.IndexerKind
	BaseURL  string
	APIKey   string
	Protocol domain.Protocol
	Priority int
	Enabled  *bool // nil = enabled
}

type UpdateIndexerInput struct {
	Name     string
	Kind     domain.IndexerKind
	BaseURL  string
	APIKey   string
	Protocol domain.Protocol
	Priority int
	Enabled  bool
}

func (u *SettingsUsecase) ListIndexers(ctx context.Context) ([]*domain.Indexer, error) {
	indexers, err := u.indexers.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list indexers: %w", err)
	}
	return indexers, nil
}

func (u *SettingsUsecase) GetIndexer(ctx context.Context, id string) (*domain.Indexer, error) {
	idx, err := u.indexers.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get indexer: %w", err)
	}
	return idx, nil
}

func (u *SettingsUsecase) CreateIndexer(ctx context.Context, input CreateIndexerInput) (*domain.Indexer, error) {
	if err := validateIndexer(input.Kind, input.Protocol); err != nil {
		return nil, err
	}
	enabled := true
	if input.Enabled != nil {
		enabled = *input.Enabled
	}

	created, err := u.indexers.Create(ctx, &domain.Indexer{
		Name:     input.Name,
		Kind:     input.Kind,
		BaseURL:  input.BaseURL,
		APIKey:   input.APIKey,
		Protocol: input.Protocol,
		Priority: input.Priority,
		Enabled:  enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("create indexer: %w", err)
	}
	return created, nil
}

// UpdateIndexer replaces the whole indexer row; handlers send the full
// representation.
func (u *SettingsUsecase) UpdateIndexer(ctx context.Context, id string, input UpdateIndexerInput) (*domain.Indexer, error) {
	if err := validateIndexer(input.Kind, input.Protocol); err != nil {
		return nil, err
	}

	updated, err := u.indexers.Update(ctx, &domain.Indexer{
		ID:       id,
		Name:     input.Name,
		Kind:     input.Kind,
		BaseURL:  input.BaseURL,
		APIKey:   input.APIKey,
		Protocol: input.Protocol,
		Priority: input.Priority,
		Enabled:  input.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("update indexer: %w", err)
	}
	return updated, nil
}

func (u *SettingsUsecase) DeleteIndexer(ctx context.Context, id string) error {
	if err := u.indexers.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete indexer: %w", err)
	}
	return nil
}

func (u *SettingsUsecase) ListFlagRules(ctx context.Context) ([]domain.FlagRule, error) {
	rules, err := u.indexers.ListFlagRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list flag rules: %w", err)
	}
	return rules, nil
}

type FlagRuleInput struct {
	Flag   string
	Points float64
}

// ReplaceFlagRules swaps the whole rule set, PUT-style. Validation happens
// up front so a bad rule never tears down half the old set.
func (u *SettingsUsecase) ReplaceFlagRules(ctx context.Context, inputs []FlagRuleInput) ([]domain.FlagRule, error) {
	seen := make(map[string]struct{}, len(inputs))
	for _, in := range inputs {
		if in.Flag == "" {
			return nil, fmt.Errorf("%w: flag name is required", domain.ErrValidation)
		}
		if _, dup := seen[in.Flag]; dup {
			return nil, fmt.Errorf("%w: flag %q appears twice", domain.ErrValidation, in.Flag)
		}
		seen[in.Flag] = struct{}{}
	}

	existing, err := u.indexers.ListFlagRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list flag rules: %w", err)
	}
	for _, rule := range existing {
		if err := u.indexers.DeleteFlagRule(ctx, rule.ID); err != nil {
			return nil, fmt.Errorf("delete flag rule %s: %w", rule.Flag, err)
		}
	}

	rules := make([]domain.FlagRule, 0, len(inputs))
	for _, in := range inputs {
		created, err := u.indexers.CreateFlagRule(ctx, &domain.FlagRule{
			Flag:   in.Flag,
			Points: in.Points,
		})
		if err != nil {
			return nil, fmt.Errorf("create flag rule %s: %w", in.Flag, err)
		}
		rules = append(rules, *created)
	}
	return rules, nil
}

func validateIndexer(kind domain.IndexerKind, protocol domain.Protocol) error {
	switch kind {
	case domain.IndexerKindTorznab, domain.IndexerKindScrape:
	default:
		return fmt.Errorf("%w: unknown indexer kind %q", domain.ErrValidation, kind)
	}
	switch protocol {
	case domain.ProtocolTorrent, domain.ProtocolUsenet:
	default:
		return fmt.Errorf("%w: unknown protocol %q", domain.ErrValidation, protocol)
	}
	return nil
}
