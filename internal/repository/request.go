package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/readmeabook/readmeabook/internal/domain"
)

type ListRequestsInput struct {
	UserID     string               // empty = all users (admin view)
	Status     domain.RequestStatus // empty = all statuses
	CursorTime *time.Time           // cursor on (created_at DESC, id DESC)
	CursorID   string
	Limit      int
}

type RequestRepository interface {
	Create(ctx context.Context, req *domain.Request) (*domain.Request, error)
	GetByID(ctx context.Context, id string) (*domain.Request, error)
	List(ctx context.Context, input ListRequestsInput) ([]*domain.Request, error)

	// ListByStatus feeds the maintenance sweeps; oldest first.
	ListByStatus(ctx context.Context, status domain.RequestStatus, limit int) ([]*domain.Request, error)

	// TransitionStatus is a compare-and-set on the status column. It fails
	// with ErrInvalidRequestTransition when the lifecycle graph forbids
	// from→to, and with ErrStaleRequestStatus when the row is no longer in
	// from, so concurrent writers cannot clobber each other.
	TransitionStatus(ctx context.Context, id string, from, to domain.RequestStatus, errorMessage *string) error

	// SetSelection persists the winning candidate's score breakdown.
	SetSelection(ctx context.Context, id string, selection json.RawMessage) error

	// IncrementSearchAttempts returns the count after incrementing.
	IncrementSearchAttempts(ctx context.Context, id string) (int, error)

	// ResetSearchAttempts gives a manually retried request a fresh attempt
	// budget.
	ResetSearchAttempts(ctx context.Context, id string) error
}
