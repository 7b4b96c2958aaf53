package domain

import "time"

// Audiobook is the requested title's canonical metadata, keyed by its
// Audible ASIN when one is known.
type Audiobook struct {
	ID             string
	ASIN           string
	Title          string
	Author         string
	Narrator       string
	RuntimeMinutes int
	CoverURL       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Ref trims the audiobook down to what jobs carry around.
func (a *Audiobook) Ref() AudiobookRef {
	return AudiobookRef{
		ID:             a.ID,
		Title:          a.Title,
		Author:         a.Author,
		RuntimeMinutes: a.RuntimeMinutes,
	}
}
