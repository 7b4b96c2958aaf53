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

const listingFixture = `<html><body>
<article class="post">
	<h2 class="postTitle"><a href="/abss/project-hail-mary/">Project <b>Hail Mary</b> &#8211; Andy Weir</a></h2>
	<div class="postContent">
		<p>Format: M4B / Bitrate: 64 Kbps</p>
		<p>Size: 1.5 GBs</p>
		<p>Seeders: <b>37</b></p>
	</div>
</article>
<article class="post">
	<h2><a href="/abss/dune/">Dune</a></h2>
</article>
<article class="post">
	<h2 class="postTitle"><a href="/abss/project-hail-mary/">Project Hail Mary (repost)</a></h2>
</article>
<article class="ad-slot">
	<p>sponsored</p>
</article>
</body></html>`

func newTestPageFetcher(client *http.Client) (*HTMLPageFetcher, *[]time.Duration) {
	f := NewHTMLPageFetcher(client)
	slept := &[]time.Duration{}
	f.sleep = func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return f, slept
}

func TestFetchPage_ParsesListing(t *testing.T) {
	var gotPath, gotSearch string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotSearch = r.URL.Query().Get("s")
		_, _ = w.Write([]byte(listingFixture))
	}))
	defer srv.Close()

	f, _ := newTestPageFetcher(srv.Client())
	idx := scrapeIndexer()
	idx.BaseURL = srv.URL

	got, result, err := f.FetchPage(context.Background(), idx, "project hail mary", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/" || gotSearch != "project hail mary" {
		t.Fatalf("requested %q with s=%q", gotPath, gotSearch)
	}
	if result.RetriesUsed != 0 || result.Encountered503 {
		t.Fatalf("clean fetch reported %+v", result)
	}

	// Two real posts; the repost shares a link and the ad block has none.
	if len(got) != 2 {
		t.Fatalf("candidates = %d, want 2", len(got))
	}

	first := got[0]
	if first.Title != "Project Hail Mary – Andy Weir" {
		t.Fatalf("title = %q, want entities decoded and tags stripped", first.Title)
	}
	wantURL := srv.URL + "/abss/project-hail-mary/"
	if first.GUID != wantURL || first.DownloadURL != wantURL {
		t.Fatalf("post URL not resolved: %+v", first)
	}
	if first.SizeBytes != 1610612736 {
		t.Fatalf("size = %d, want 1.5 GB in bytes", first.SizeBytes)
	}
	if first.Seeders != 37 {
		t.Fatalf("seeders = %d, want 37", first.Seeders)
	}
	if first.Format != domain.FormatM4B {
		t.Fatalf("format = %q, want m4b", first.Format)
	}

	if got[1].Title != "Dune" || got[1].SizeBytes != 0 {
		t.Fatalf("sparse post parsed wrong: %+v", got[1])
	}
}

func TestFetchPage_DeepPagePath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(listingFixture))
	}))
	defer srv.Close()

	f, _ := newTestPageFetcher(srv.Client())
	idx := scrapeIndexer()
	idx.BaseURL = srv.URL

	if _, _, err := f.FetchPage(context.Background(), idx, "q", 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/page/3" {
		t.Fatalf("path = %q, want /page/3", gotPath)
	}
}

func TestFetchPage_RetriesAfter503(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		if requests == 1 {
			http.Error(w, "slow down", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(listingFixture))
	}))
	defer srv.Close()

	f, slept := newTestPageFetcher(srv.Client())
	idx := scrapeIndexer()
	idx.BaseURL = srv.URL

	got, result, err := f.FetchPage(context.Background(), idx, "q", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("retry succeeded but no candidates came back")
	}
	if result.RetriesUsed != 1 || !result.Encountered503 {
		t.Fatalf("result = %+v, want one retry and the 503 recorded", result)
	}
	if len(*slept) != 1 {
		t.Fatalf("slept %d times, want 1 backoff between attempts", len(*slept))
	}
	within(t, (*slept)[0], 500*time.Millisecond, 1500*time.Millisecond+time.Millisecond)
}

func TestFetchPage_GivesUpAfterRetryBudget(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		http.Error(w, "slow down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f, _ := newTestPageFetcher(srv.Client())
	idx := scrapeIndexer()
	idx.BaseURL = srv.URL

	_, result, err := f.FetchPage(context.Background(), idx, "q", 1)
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("error = %v, want the 503 surfaced", err)
	}
	if requests != pageAttempts {
		t.Fatalf("made %d requests, want %d", requests, pageAttempts)
	}
	if result.RetriesUsed != pageAttempts-1 || !result.Encountered503 {
		t.Fatalf("result = %+v, want full retry accounting", result)
	}
}

func TestFetchPage_FailsFastOnBlock(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		http.Error(w, "blocked", http.StatusForbidden)
	}))
	defer srv.Close()

	f, _ := newTestPageFetcher(srv.Client())
	idx := scrapeIndexer()
	idx.BaseURL = srv.URL

	_, result, err := f.FetchPage(context.Background(), idx, "q", 1)
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("error = %v, want HTTP 403", err)
	}
	if requests != 1 {
		t.Fatalf("made %d requests, want no retries on a hard block", requests)
	}
	if result.RetriesUsed != 0 {
		t.Fatalf("result = %+v, want no retries recorded", result)
	}
}

func TestSearchPageURL(t *testing.T) {
	tests := []struct {
		name  string
		base  string
		query string
		page  int
		want  string
	}{
		{"first page", "https://audiobay.example", "project hail mary", 1, "https://audiobay.example?s=project+hail+mary"},
		{"deep page", "https://audiobay.example/", "dune", 3, "https://audiobay.example/page/3?s=dune"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := searchPageURL(tt.base, tt.query, tt.page)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("searchPageURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseHumanSize(t *testing.T) {
	tests := []struct {
		raw  string
		want int64
	}{
		{"1.5 GB", 1610612736},
		{"1,5 GBs", 1610612736},
		{"700 MiB", 734003200},
		{"900 KB", 921600},
		{"2 TB", 2199023255552},
		{"12345", 12345},
		{"garbage", 0},
	}
	for _, tt := range tests {
		if got := parseHumanSize(tt.raw); got != tt.want {
			t.Errorf("parseHumanSize(%q) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}
