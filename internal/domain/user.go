package domain

import "time"

// User is a Plex account that has signed in at least once. PlexID is the
// numeric account id from plex.tv and is the stable identity; username and
// email are refreshed on every sign-in.
type User struct {
	ID           string
	PlexID       int64
	PlexUsername string
	PlexEmail    string
	IsAdmin      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
