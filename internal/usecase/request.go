package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/readmeabook/readmeabook/internal/domain"
	"github.com/readmeabook/readmeabook/internal/repository"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100

	// sweepBatch bounds one re-search sweep run; leftovers wait for the
	// next schedule.
	sweepBatch = 50
)

// Actor identifies who is calling. Handlers build it from the JWT claims.
type Actor struct {
	UserID  string
	IsAdmin bool
}

func (a Actor) canSee(req *domain.Request) bool {
	return a.IsAdmin || req.UserID == a.UserID
}

// Enqueuer is the slice of the queue the lifecycle needs: staging search
// and metadata refresh jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload domain.JobPayload) (*domain.Job, error)
}

// Notifier covers the lifecycle events fired from request mutations;
// processors fire the rest.
type Notifier interface {
	RequestPendingApproval(ctx context.Context, req *domain.Request)
	RequestFailed(ctx context.Context, req *domain.Request, reason string)
}

type RequestConfig struct {
	// RequireApproval holds non-admin requests in awaiting_approval until
	// an admin decides. Admin requests always skip the gate.
	RequireApproval bool
	// MaxSearchAttempts mirrors the search processor's budget; the sweep
	// uses it to fail parked requests that are already over it.
	MaxSearchAttempts int
}

type RequestUsecase struct {
	requests   repository.RequestRepository
	audiobooks repository.AudiobookRepository
	users      repository.UserRepository
	enqueuer   Enqueuer
	notifier   Notifier
	logger     *slog.Logger
	cfg        RequestConfig
}

func NewRequestUsecase(
	requests repository.RequestRepository,
	audiobooks repository.AudiobookRepository,
	users repository.UserRepository,
	enqueuer Enqueuer,
	notifier Notifier,
	logger *slog.Logger,
	cfg RequestConfig,
) *RequestUsecase {
	return &RequestUsecase{
		requests:   requests,
		audiobooks: audiobooks,
		users:      users,
		enqueuer:   enqueuer,
		notifier:   notifier,
		logger:     logger.With("component", "requests"),
		cfg:        cfg,
	}
}

type CreateRequestInput struct {
	UserID         string
	ASIN           string
	Title          string
	Author         string
	Narrator       string
	RuntimeMinutes int
	CoverURL       string
}

// RequestDetail pairs a request with its audiobook for API responses.
type RequestDetail struct {
	Request   *domain.Request
	Audiobook *domain.Audiobook
}

// Create upserts the audiobook, inserts the request, and either stages the
// first search right away or parks the request for admin approval. A second
// live request for the same book by the same user is rejected as a
// duplicate.
func (u *RequestUsecase) Create(ctx context.Context, input CreateRequestInput) (*RequestDetail, error) {
	user, err := u.users.FindByID(ctx, input.UserID)
	if err != nil {
		return nil, fmt.Errorf("load requester: %w", err)
	}

	book, err := u.audiobooks.Upsert(ctx, &domain.Audiobook{
		ASIN:           input.ASIN,
		Title:          input.Title,
		Author:         input.Author,
		Narrator:       input.Narrator,
		RuntimeMinutes: input.RuntimeMinutes,
		CoverURL:       input.CoverURL,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert audiobook: %w", err)
	}

	status := domain.RequestStatusAwaitingApproval
	if user.IsAdmin || !u.cfg.RequireApproval {
		status = domain.RequestStatusSearching
	}

	req, err := u.requests.Create(ctx, &domain.Request{
		UserID:      user.ID,
		AudiobookID: book.ID,
		Status:      status,
	})
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	// Runtime drives the size scoring, so fetch it when the catalog data
	// the request brought has none. Best effort; the nightly refresh
	// sweeps books that still miss it.
	if book.RuntimeMinutes == 0 {
		if _, err := u.enqueuer.Enqueue(ctx, domain.AudibleRefreshPayload{
			AudiobookID: book.ID,
			ASIN:        book.ASIN,
		}); err != nil {
			u.logger.Warn("could not stage metadata refresh", "audiobook_id", book.ID, "error", err)
		}
	}

	if status == domain.RequestStatusSearching {
		if err := u.stageSearch(ctx, req, book); err != nil {
			return nil, err
		}
	} else {
		u.notifier.RequestPendingApproval(ctx, req)
	}

	return &RequestDetail{Request: req, Audiobook: book}, nil
}

// Get returns one request. Non-admins only see their own; anything else
// reads as not found so request ids stay unguessable.
func (u *RequestUsecase) Get(ctx context.Context, id string, actor Actor) (*RequestDetail, error) {
	req, err := u.requests.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	if !actor.canSee(req) {
		return nil, domain.ErrRequestNotFound
	}
	return u.detail(ctx, req)
}

type ListRequestsInput struct {
	Status string
	UserID string
	Cursor string
	Limit  int
}

type ListRequestsResult struct {
	Requests   []*RequestDetail
	NextCursor *string
}

// List pages requests newest first. Non-admins are always scoped to their
// own requests regardless of the filter they asked for.
func (u *RequestUsecase) List(ctx context.Context, input ListRequestsInput, actor Actor) (ListRequestsResult, error) {
	if !actor.IsAdmin {
		input.UserID = actor.UserID
	}

	limit := input.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	repoInput := repository.ListRequestsInput{
		UserID: input.UserID,
		Limit:  limit + 1,
	}
	if input.Status != "" {
		status := domain.RequestStatus(input.Status)
		if !domain.IsKnownRequestStatus(status) {
			return ListRequestsResult{}, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, input.Status)
		}
		repoInput.Status = status
	}
	if input.Cursor != "" {
		cursorTime, cursorID, err := decodeCursor(input.Cursor)
		if err != nil {
			return ListRequestsResult{}, fmt.Errorf("%w: bad cursor", domain.ErrValidation)
		}
		repoInput.CursorTime = cursorTime
		repoInput.CursorID = cursorID
	}

	reqs, err := u.requests.List(ctx, repoInput)
	if err != nil {
		return ListRequestsResult{}, fmt.Errorf("list requests: %w", err)
	}

	// Fetch one extra row to learn whether another page exists.
	var nextCursor *string
	if len(reqs) == limit+1 {
		last := reqs[limit]
		s := encodeCursor(last.CreatedAt, last.ID)
		nextCursor = &s
		reqs = reqs[:limit]
	}

	details, err := u.details(ctx, reqs)
	if err != nil {
		return ListRequestsResult{}, err
	}
	return ListRequestsResult{Requests: details, NextCursor: nextCursor}, nil
}

// Approve releases an awaiting_approval request into the search cycle.
func (u *RequestUsecase) Approve(ctx context.Context, id string, actor Actor) (*RequestDetail, error) {
	if !actor.IsAdmin {
		return nil, domain.ErrForbidden
	}
	req, err := u.requests.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	book, err := u.audiobooks.GetByID(ctx, req.AudiobookID)
	if err != nil {
		return nil, fmt.Errorf("load audiobook: %w", err)
	}

	if err := u.requests.TransitionStatus(ctx, req.ID, domain.RequestStatusAwaitingApproval, domain.RequestStatusSearching, nil); err != nil {
		return nil, fmt.Errorf("approve request: %w", err)
	}
	req.Status = domain.RequestStatusSearching

	if err := u.stageSearch(ctx, req, book); err != nil {
		return nil, err
	}
	return &RequestDetail{Request: req, Audiobook: book}, nil
}

// Deny finishes an awaiting_approval request without searching.
func (u *RequestUsecase) Deny(ctx context.Context, id string, actor Actor) (*RequestDetail, error) {
	if !actor.IsAdmin {
		return nil, domain.ErrForbidden
	}
	req, err := u.requests.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	if err := u.requests.TransitionStatus(ctx, req.ID, domain.RequestStatusAwaitingApproval, domain.RequestStatusDenied, nil); err != nil {
		return nil, fmt.Errorf("deny request: %w", err)
	}
	req.Status = domain.RequestStatusDenied
	return u.detail(ctx, req)
}

// Retry puts a failed or parked request back into the search cycle with a
// fresh attempt budget and a cleared error. Only failed and awaiting_search
// qualify; in particular it must not sidestep the approval gate.
func (u *RequestUsecase) Retry(ctx context.Context, id string, actor Actor) (*RequestDetail, error) {
	req, err := u.requests.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	if !actor.canSee(req) {
		return nil, domain.ErrRequestNotFound
	}
	switch req.Status {
	case domain.RequestStatusFailed, domain.RequestStatusAwaitingSearch:
	default:
		return nil, fmt.Errorf("%w: retry from %s", domain.ErrInvalidRequestTransition, req.Status)
	}

	book, err := u.audiobooks.GetByID(ctx, req.AudiobookID)
	if err != nil {
		return nil, fmt.Errorf("load audiobook: %w", err)
	}

	if err := u.requests.ResetSearchAttempts(ctx, req.ID); err != nil {
		return nil, fmt.Errorf("reset search attempts: %w", err)
	}
	if err := u.requests.TransitionStatus(ctx, req.ID, req.Status, domain.RequestStatusSearching, nil); err != nil {
		return nil, fmt.Errorf("retry request: %w", err)
	}
	req.Status = domain.RequestStatusSearching
	req.ErrorMessage = nil
	req.SearchAttempts = 0

	if err := u.stageSearch(ctx, req, book); err != nil {
		return nil, err
	}
	return &RequestDetail{Request: req, Audiobook: book}, nil
}

// SweepAwaitingSearch re-dispatches parked requests into the search cycle.
// Requests already over the attempt budget (possible after the budget was
// lowered) are failed instead of searched again. Returns the number of
// searches staged; per-request trouble is logged and skipped so one bad row
// never stalls the sweep.
func (u *RequestUsecase) SweepAwaitingSearch(ctx context.Context) (int, error) {
	reqs, err := u.requests.ListByStatus(ctx, domain.RequestStatusAwaitingSearch, sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list awaiting requests: %w", err)
	}

	dispatched := 0
	for _, req := range reqs {
		if u.cfg.MaxSearchAttempts > 0 && req.SearchAttempts >= u.cfg.MaxSearchAttempts {
			msg := fmt.Sprintf("no candidates found after %d searches", req.SearchAttempts)
			if err := u.requests.TransitionStatus(ctx, req.ID, domain.RequestStatusAwaitingSearch, domain.RequestStatusFailed, &msg); err != nil {
				u.logger.Warn("sweep could not fail request", "request_id", req.ID, "error", err)
				continue
			}
			u.notifier.RequestFailed(ctx, req, msg)
			continue
		}

		book, err := u.audiobooks.GetByID(ctx, req.AudiobookID)
		if err != nil {
			u.logger.Warn("sweep could not load audiobook", "request_id", req.ID, "error", err)
			continue
		}
		if err := u.requests.TransitionStatus(ctx, req.ID, domain.RequestStatusAwaitingSearch, domain.RequestStatusSearching, nil); err != nil {
			// A concurrent sweep or a manual retry got there first.
			if !errors.Is(err, domain.ErrStaleRequestStatus) {
				u.logger.Warn("sweep could not transition request", "request_id", req.ID, "error", err)
			}
			continue
		}
		if err := u.stageSearch(ctx, req, book); err != nil {
			u.logger.Warn("sweep could not stage search", "request_id", req.ID, "error", err)
			continue
		}
		dispatched++
	}
	return dispatched, nil
}

// stageSearch enqueues the search job for a request already in searching.
// If the enqueue fails the request is parked in failed so the retry button
// still works; a request stuck in searching with no job would never heal.
func (u *RequestUsecase) stageSearch(ctx context.Context, req *domain.Request, book *domain.Audiobook) error {
	if _, err := u.enqueuer.Enqueue(ctx, domain.SearchIndexersPayload{
		RequestID: req.ID,
		Audiobook: book.Ref(),
	}); err != nil {
		msg := "could not stage the search job"
		if terr := u.requests.TransitionStatus(ctx, req.ID, domain.RequestStatusSearching, domain.RequestStatusFailed, &msg); terr != nil {
			u.logger.Error("request stuck in searching", "request_id", req.ID, "error", terr)
		}
		return fmt.Errorf("enqueue search: %w", err)
	}
	return nil
}

func (u *RequestUsecase) detail(ctx context.Context, req *domain.Request) (*RequestDetail, error) {
	book, err := u.audiobooks.GetByID(ctx, req.AudiobookID)
	if err != nil {
		return nil, fmt.Errorf("load audiobook: %w", err)
	}
	return &RequestDetail{Request: req, Audiobook: book}, nil
}

// details joins a page of requests with their audiobooks in one batch
// fetch. A request whose book vanished is returned without one rather than
// sinking the whole page.
func (u *RequestUsecase) details(ctx context.Context, reqs []*domain.Request) ([]*RequestDetail, error) {
	ids := make([]string, 0, len(reqs))
	seen := make(map[string]struct{}, len(reqs))
	for _, req := range reqs {
		if _, dup := seen[req.AudiobookID]; dup {
			continue
		}
		seen[req.AudiobookID] = struct{}{}
		ids = append(ids, req.AudiobookID)
	}

	books, err := u.audiobooks.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load audiobooks: %w", err)
	}
	byID := make(map[string]*domain.Audiobook, len(books))
	for _, b := range books {
		byID[b.ID] = b
	}

	out := make([]*RequestDetail, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, &RequestDetail{Request: req, Audiobook: byID[req.AudiobookID]})
	}
	return out, nil
}
