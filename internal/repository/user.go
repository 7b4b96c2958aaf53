package repository

import (
	"context"

	"github.com/readmeabook/readmeabook/internal/domain"
)

type UserRepository interface {
	// FindOrCreateByPlex upserts on the plex.tv account id and refreshes
	// username and email on every sign-in.
	FindOrCreateByPlex(ctx context.Context, plexID int64, username, email string) (*domain.User, error)
	FindByID(ctx context.Context, id string) (*domain.User, error)
	// ListAdmins feeds approval notifications.
	ListAdmins(ctx context.Context) ([]*domain.User, error)
	CountAdmins(ctx context.Context) (int, error)
	SetAdmin(ctx context.Context, id string, isAdmin bool) error
}
