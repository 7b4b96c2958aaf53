// Package queue implements the durable job queue: enqueue with payload
// validation, a polling worker that dispatches claimed jobs to per-type
// processors, a reaper for crashed-worker recovery, and the cron-driven
// maintenance scheduler. Delivery is at-least-once; processors must
// tolerate re-execution.
package queue

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/readmeabook/readmeabook/internal/domain"
)

// Processor handles every job of one type. The returned raw message is
// persisted as the job's result on success. An error triggers the retry
// schedule unless it is marked Terminal.
type Processor interface {
	Type() domain.JobType
	Process(ctx context.Context, job *domain.Job) (json.RawMessage, error)
}

type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal marks an error as not worth retrying: the job fails permanently
// no matter how many attempts remain. Processors use it for conditions a
// retry cannot fix, like a request with no indexers configured.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether err or anything it wraps was marked Terminal.
func IsTerminal(err error) bool {
	var t *terminalError
	return errors.As(err, &t)
}
