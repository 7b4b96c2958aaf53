// Package usecase holds the application services behind the HTTP handlers:
// sign-in, the request lifecycle, and indexer settings. Everything here is
// transport-agnostic; handlers translate errors to status codes.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/readmeabook/readmeabook/internal/domain"
	"github.com/readmeabook/readmeabook/internal/plex"
	"github.com/readmeabook/readmeabook/internal/repository"
)

const defaultJWTTTL = 7 * 24 * time.Hour

// TokenVerifier checks a Plex token against plex.tv and returns the account
// it belongs to.
type TokenVerifier interface {
	Lookup(ctx context.Context, token string) (*plex.Account, error)
}

type AuthUsecase struct {
	users    repository.UserRepository
	verifier TokenVerifier
	jwtKey   []byte
	jwtTTL   time.Duration
}

func NewAuthUsecase(users repository.UserRepository, verifier TokenVerifier, jwtKey []byte) *AuthUsecase {
	return &AuthUsecase{
		users:    users,
		verifier: verifier,
		jwtKey:   jwtKey,
		jwtTTL:   defaultJWTTTL,
	}
}

// SignInWithPlex verifies the submitted Plex token, upserts the account as a
// local user, and returns a signed session JWT. The first account ever to
// sign in becomes the admin; everyone after that starts as a plain user.
func (u *AuthUsecase) SignInWithPlex(ctx context.Context, plexToken string) (string, *domain.User, error) {
	account, err := u.verifier.Lookup(ctx, plexToken)
	if err != nil {
		if errors.Is(err, plex.ErrUnauthorized) {
			return "", nil, domain.ErrUnauthorized
		}
		return "", nil, fmt.Errorf("verify plex token: %w", err)
	}

	user, err := u.users.FindOrCreateByPlex(ctx, account.ID, account.Username, account.Email)
	if err != nil {
		return "", nil, fmt.Errorf("find or create user: %w", err)
	}

	if !user.IsAdmin {
		admins, err := u.users.CountAdmins(ctx)
		if err != nil {
			return "", nil, fmt.Errorf("count admins: %w", err)
		}
		if admins == 0 {
			if err := u.users.SetAdmin(ctx, user.ID, true); err != nil {
				return "", nil, fmt.Errorf("promote first user: %w", err)
			}
			user.IsAdmin = true
		}
	}

	// The admin claim lets the middleware gate admin routes without a
	// user lookup per request. Demotions take effect on the next sign-in.
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":      user.ID,
		"username": user.PlexUsername,
		"admin":    user.IsAdmin,
		"iat":      now.Unix(),
		"exp":      now.Add(u.jwtTTL).Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(u.jwtKey)
	if err != nil {
		return "", nil, fmt.Errorf("sign jwt: %w", err)
	}
	return signed, user, nil
}

// GetUser serves the /me endpoint.
func (u *AuthUsecase) GetUser(ctx context.Context, id string) (*domain.User, error) {
	user, err := u.users.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}
