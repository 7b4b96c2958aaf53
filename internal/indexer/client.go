// Package indexer provides the concrete search clients behind the search
// processor: a Prowlarr JSON API client for API-backed indexers and a paced
// scraping client for sources that only expose a web page.
package indexer

import (
	"context"
	"fmt"

	"github.com/readmeabook/readmeabook/internal/domain"
)

// Client routes a search to the implementation matching the indexer's kind.
type Client struct {
	prowlarr *ProwlarrClient
	scrape   *ScrapeClient
}

func NewClient(prowlarr *ProwlarrClient, scrape *ScrapeClient) *Client {
	return &Client{prowlarr: prowlarr, scrape: scrape}
}

func (c *Client) Search(ctx context.Context, idx *domain.Indexer, query string) ([]domain.CandidateRelease, error) {
	switch idx.Kind {
	case domain.IndexerKindTorznab:
		return c.prowlarr.Search(ctx, idx, query)
	case domain.IndexerKindScrape:
		return c.scrape.Search(ctx, idx, query)
	default:
		return nil, fmt.Errorf("indexer %s has unknown kind %q", idx.Name, idx.Kind)
	}
}
