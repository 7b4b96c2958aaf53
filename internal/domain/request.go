package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type RequestStatus string

const (
	RequestStatusPending          RequestStatus = "pending"
	RequestStatusAwaitingApproval RequestStatus = "awaiting_approval"
	RequestStatusDenied           RequestStatus = "denied"
	RequestStatusSearching        RequestStatus = "searching"
	RequestStatusAwaitingSearch   RequestStatus = "awaiting_search"
	RequestStatusDownloading      RequestStatus = "downloading"
	RequestStatusDownloaded       RequestStatus = "downloaded"
	RequestStatusAvailable        RequestStatus = "available"
	RequestStatusFailed           RequestStatus = "failed"
)

// requestTransitions is the full lifecycle graph. Forward edges follow the
// acquisition pipeline; the only backward edges are the manual/scheduled
// retry paths into "searching".
var requestTransitions = map[RequestStatus]map[RequestStatus]bool{
	RequestStatusPending: {
		RequestStatusSearching:        true,
		RequestStatusAwaitingApproval: true,
	},
	RequestStatusAwaitingApproval: {
		RequestStatusSearching: true, // approved
		RequestStatusDenied:    true,
	},
	RequestStatusSearching: {
		RequestStatusAwaitingSearch: true, // nothing found yet
		RequestStatusDownloading:    true, // candidate selected
		RequestStatusFailed:         true,
	},
	RequestStatusAwaitingSearch: {
		RequestStatusSearching: true, // manual retry or scheduled re-search
		RequestStatusFailed:    true, // re-search attempts exhausted
	},
	RequestStatusDownloading: {
		RequestStatusDownloaded: true,
		RequestStatusFailed:     true,
	},
	RequestStatusDownloaded: {
		RequestStatusAvailable: true, // library scan picked it up
	},
	RequestStatusFailed: {
		RequestStatusSearching: true, // manual retry
	},
	RequestStatusDenied:    {},
	RequestStatusAvailable: {},
}

func IsKnownRequestStatus(s RequestStatus) bool {
	_, ok := requestTransitions[s]
	return ok
}

// CanTransitionRequest reports whether the lifecycle graph allows from → to.
func CanTransitionRequest(from, to RequestStatus) bool {
	next, ok := requestTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

type Request struct {
	ID          string
	UserID      string
	AudiobookID string

	Status       RequestStatus
	ErrorMessage *string

	// SearchAttempts counts completed searches that found nothing; the
	// scheduled re-search sweep uses it to decide when to give up.
	SearchAttempts int

	// Selection is the winning candidate release, stored as JSON once the
	// search processor picks one.
	Selection json.RawMessage

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Transition mutates the request status after checking the lifecycle graph.
func (r *Request) Transition(to RequestStatus) error {
	if !CanTransitionRequest(r.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidRequestTransition, r.Status, to)
	}
	r.Status = to
	return nil
}

// Active reports whether the request still has acquisition work in flight.
// At most one non-terminal job may exist per active request.
func (r *Request) Active() bool {
	switch r.Status {
	case RequestStatusSearching, RequestStatusDownloading:
		return true
	}
	return false
}

// SelectedCandidate decodes the stored selection, or nil when none is set.
func (r *Request) SelectedCandidate() (*CandidateRelease, error) {
	if len(r.Selection) == 0 {
		return nil, nil
	}
	var c CandidateRelease
	if err := json.Unmarshal(r.Selection, &c); err != nil {
		return nil, fmt.Errorf("decode selection: %w", err)
	}
	return &c, nil
}
