package indexer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/readmeabook/readmeabook/internal/domain"
)

const prowlarrFixture = `[
	{
		"title": "Project Hail Mary - Andy Weir [M4B]",
		"guid": "https://tracker.example/t/1",
		"downloadUrl": "https://prowlarr.example/dl/1",
		"infoUrl": "https://tracker.example/t/1",
		"size": 524288000,
		"seeders": 42,
		"protocol": "torrent",
		"publishDate": "2026-05-01T12:00:00Z",
		"indexerFlags": ["freeleech"]
	},
	{
		"title": "Project Hail Mary (MP3)",
		"guid": "",
		"downloadUrl": "",
		"magnetUrl": "magnet:?xt=urn:btih:abc",
		"size": 734003200,
		"seeders": 7,
		"protocol": "torrent"
	},
	{
		"title": "",
		"guid": "https://tracker.example/t/3"
	},
	{
		"title": "Orphan release without any link",
		"size": 100
	}
]`

func prowlarrIndexer(baseURL string) *domain.Indexer {
	return &domain.Indexer{
		ID:       "idx-prowlarr",
		Name:     "prowlarr-main",
		Kind:     domain.IndexerKindTorznab,
		BaseURL:  baseURL,
		APIKey:   "test-key",
		Protocol: domain.ProtocolTorrent,
		Enabled:  true,
	}
}

func TestProwlarrSearch_MapsReleases(t *testing.T) {
	var gotPath, gotQuery, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("query")
		gotKey = r.Header.Get("X-Api-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(prowlarrFixture))
	}))
	defer srv.Close()

	c := NewProwlarrClient(srv.Client())
	got, err := c.Search(context.Background(), prowlarrIndexer(srv.URL), "project hail mary")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/api/v1/search" {
		t.Fatalf("path = %q, want /api/v1/search", gotPath)
	}
	if gotQuery != "project hail mary" {
		t.Fatalf("query param = %q, want the search phrase", gotQuery)
	}
	if gotKey != "test-key" {
		t.Fatalf("api key header = %q, want test-key", gotKey)
	}

	// Releases without a title or without any link are dropped.
	if len(got) != 2 {
		t.Fatalf("candidates = %d, want 2", len(got))
	}

	first := got[0]
	if first.Title != "Project Hail Mary - Andy Weir [M4B]" {
		t.Fatalf("title = %q", first.Title)
	}
	if first.GUID != "https://tracker.example/t/1" || first.DownloadURL != "https://prowlarr.example/dl/1" {
		t.Fatalf("identity not mapped: %+v", first)
	}
	if first.SizeBytes != 524288000 || first.Seeders != 42 {
		t.Fatalf("size/seeders not mapped: %+v", first)
	}
	if first.Protocol != domain.ProtocolTorrent {
		t.Fatalf("protocol = %q, want torrent", first.Protocol)
	}
	if len(first.Flags) != 1 || first.Flags[0] != "freeleech" {
		t.Fatalf("flags = %v, want [freeleech]", first.Flags)
	}
	want := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	if !first.PublishDate.Equal(want) {
		t.Fatalf("publish date = %v, want %v", first.PublishDate, want)
	}

	// Magnet link stands in when there is no direct download URL.
	if got[1].DownloadURL != "magnet:?xt=urn:btih:abc" {
		t.Fatalf("magnet fallback missing: %+v", got[1])
	}
}

func TestProwlarrSearch_HTTPErrorSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "api key required", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewProwlarrClient(srv.Client())
	_, err := c.Search(context.Background(), prowlarrIndexer(srv.URL), "q")
	if err == nil {
		t.Fatal("want error on HTTP 401")
	}
	if !strings.Contains(err.Error(), "HTTP 401") || !strings.Contains(err.Error(), "api key required") {
		t.Fatalf("error = %v, want status and body", err)
	}
}

func TestProwlarrSearch_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	c := NewProwlarrClient(srv.Client())
	if _, err := c.Search(context.Background(), prowlarrIndexer(srv.URL), "q"); err == nil {
		t.Fatal("want error on a non-JSON response")
	}
}
