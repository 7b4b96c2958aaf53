package domain

import "time"

type Protocol string

const (
	ProtocolTorrent Protocol = "torrent"
	ProtocolUsenet  Protocol = "usenet"
)

// AudioFormat is the audio container parsed from a release, best-effort.
// Order of preference: a single chaptered m4b beats m4a, which beats an
// mp3 archive, which beats flac (huge for spoken word).
type AudioFormat string

const (
	FormatM4B     AudioFormat = "m4b"
	FormatM4A     AudioFormat = "m4a"
	FormatMP3     AudioFormat = "mp3"
	FormatFLAC    AudioFormat = "flac"
	FormatUnknown AudioFormat = ""
)

// CandidateRelease is one indexer search result for a requested audiobook.
// Candidates are ephemeral: produced per search, discarded except for the
// winner persisted on the request.
type CandidateRelease struct {
	Title       string      `json:"title"`
	IndexerID   string      `json:"indexerId"`
	IndexerName string      `json:"indexerName"`
	GUID        string      `json:"guid"`
	DownloadURL string      `json:"downloadUrl"`
	InfoURL     string      `json:"infoUrl,omitempty"`
	SizeBytes   int64       `json:"sizeBytes"`
	Seeders     int         `json:"seeders"`
	PublishDate time.Time   `json:"publishDate"`
	Protocol    Protocol    `json:"protocol"`
	Format      AudioFormat `json:"format,omitempty"`
	Flags       []string    `json:"flags,omitempty"`
}

// BonusModifier records one matched flag rule, kept for auditability.
type BonusModifier struct {
	Flag   string  `json:"flag"`
	Points float64 `json:"points"`
}

// ScoredRelease is a candidate plus its full score breakdown. Immutable
// once computed; rank is purely positional after sorting.
type ScoredRelease struct {
	CandidateRelease

	MatchScore     float64         `json:"matchScore"`
	FormatScore    float64         `json:"formatScore"`
	SizeScore      float64         `json:"sizeScore"`
	SeederScore    float64         `json:"seederScore"`
	BonusPoints    float64         `json:"bonusPoints"`
	BonusModifiers []BonusModifier `json:"bonusModifiers,omitempty"`
	FinalScore     float64         `json:"finalScore"`
}

// FlagRule awards (or subtracts) points when a release carries a named flag.
type FlagRule struct {
	ID        string
	Flag      string
	Points    float64
	CreatedAt time.Time
}
