package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/readmeabook/readmeabook/internal/domain"
)

const (
	prowlarrSearchPath = "/api/v1/search"
	// audiobookCategory is the newznab category for audiobooks; without it
	// Prowlarr happily returns music releases for author names.
	audiobookCategory = "3030"

	prowlarrTimeout  = 30 * time.Second
	maxResponseBytes = 8 << 20
)

// ProwlarrClient queries a Prowlarr instance's aggregated search endpoint.
// The indexer row supplies the base URL and API key, so one client serves
// any number of configured instances.
type ProwlarrClient struct {
	client *http.Client
}

func NewProwlarrClient(client *http.Client) *ProwlarrClient {
	if client == nil {
		client = &http.Client{Timeout: prowlarrTimeout}
	}
	return &ProwlarrClient{client: client}
}

type prowlarrRelease struct {
	Title        string   `json:"title"`
	GUID         string   `json:"guid"`
	DownloadURL  string   `json:"downloadUrl"`
	MagnetURL    string   `json:"magnetUrl"`
	InfoURL      string   `json:"infoUrl"`
	Size         int64    `json:"size"`
	Seeders      int      `json:"seeders"`
	Protocol     string   `json:"protocol"`
	PublishDate  string   `json:"publishDate"`
	IndexerFlags []string `json:"indexerFlags"`
}

func (c *ProwlarrClient) Search(ctx context.Context, idx *domain.Indexer, query string) ([]domain.CandidateRelease, error) {
	uri, err := url.Parse(strings.TrimRight(idx.BaseURL, "/") + prowlarrSearchPath)
	if err != nil {
		return nil, fmt.Errorf("invalid base url for %s: %w", idx.Name, err)
	}
	params := uri.Query()
	params.Set("query", strings.TrimSpace(query))
	params.Set("type", "search")
	params.Set("categories", audiobookCategory)
	uri.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Api-Key", idx.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", idx.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("%s returned HTTP %d: %s", idx.Name, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var releases []prowlarrRelease
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&releases); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", idx.Name, err)
	}

	out := make([]domain.CandidateRelease, 0, len(releases))
	for _, r := range releases {
		if candidate, ok := r.toCandidate(); ok {
			out = append(out, candidate)
		}
	}
	return out, nil
}

// toCandidate drops releases that cannot be downloaded or identified.
func (r prowlarrRelease) toCandidate() (domain.CandidateRelease, bool) {
	title := strings.TrimSpace(r.Title)
	if title == "" {
		return domain.CandidateRelease{}, false
	}
	downloadURL := strings.TrimSpace(r.DownloadURL)
	if downloadURL == "" {
		downloadURL = strings.TrimSpace(r.MagnetURL)
	}
	guid := strings.TrimSpace(r.GUID)
	if downloadURL == "" && guid == "" {
		return domain.CandidateRelease{}, false
	}

	var protocol domain.Protocol
	switch strings.ToLower(strings.TrimSpace(r.Protocol)) {
	case "torrent":
		protocol = domain.ProtocolTorrent
	case "usenet":
		protocol = domain.ProtocolUsenet
	}

	candidate := domain.CandidateRelease{
		Title:       title,
		GUID:        guid,
		DownloadURL: downloadURL,
		InfoURL:     strings.TrimSpace(r.InfoURL),
		SizeBytes:   r.Size,
		Seeders:     r.Seeders,
		Protocol:    protocol,
		Flags:       r.IndexerFlags,
	}
	if ts := parseReleaseTime(r.PublishDate); ts != nil {
		candidate.PublishDate = *ts
	}
	return candidate, true
}

// parseReleaseTime accepts the timestamp variants torznab proxies emit.
func parseReleaseTime(raw string) *time.Time {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil
	}
	for _, format := range []string{time.RFC3339, time.RFC1123Z, time.RFC1123} {
		if parsed, err := time.Parse(format, value); err == nil {
			utc := parsed.UTC()
			return &utc
		}
	}
	return nil
}
