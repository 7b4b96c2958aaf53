package domain

import "errors"

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrRequestNotFound   = errors.New("request not found")
	ErrAudiobookNotFound = errors.New("audiobook not found")
	ErrIndexerNotFound   = errors.New("indexer not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrFlagRuleNotFound  = errors.New("flag rule not found")

	ErrDuplicateRequest  = errors.New("an active request for this audiobook already exists")
	ErrDuplicateIndexer  = errors.New("indexer with this name already exists")
	ErrDuplicateFlagRule = errors.New("flag rule for this flag already exists")

	ErrInvalidRequestTransition = errors.New("invalid request status transition")
	// ErrStaleRequestStatus is returned when a guarded status update finds the
	// row already moved on — another actor won the transition.
	ErrStaleRequestStatus = errors.New("request status changed concurrently")

	ErrNoIndexersConfigured = errors.New("no indexers are configured or enabled")

	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// ErrValidation marks input the schema accepts but the domain does not;
	// handlers turn it into a 400.
	ErrValidation = errors.New("invalid input")
)
