package domain

import "time"

// IndexerKind selects the client implementation used to query an indexer.
type IndexerKind string

const (
	// IndexerKindTorznab is an API-backed indexer reached through Prowlarr.
	IndexerKindTorznab IndexerKind = "torznab"
	// IndexerKindScrape is a plain web page scraped without an API; queries
	// against it are paced by the adaptive pacer.
	IndexerKindScrape IndexerKind = "scrape"
)

type Indexer struct {
	ID       string
	Name     string
	Kind     IndexerKind
	BaseURL  string
	APIKey   string
	Protocol Protocol
	// Priority orders indexers for querying and for rank tie-breaks;
	// lower value = higher priority.
	Priority  int
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
