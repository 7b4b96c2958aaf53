// Package download submits selected releases to the torrent client and
// walks requests through the downloading half of the lifecycle.
package download

import (
	"context"

	"github.com/readmeabook/readmeabook/internal/domain"
)

// Client hands a release to the download backend. Submission is
// fire-and-forget: the backend owns the transfer once it accepts the URL.
type Client interface {
	AddRelease(ctx context.Context, candidate domain.CandidateRelease) error
}
