package indexer

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/readmeabook/readmeabook/internal/domain"
	"github.com/readmeabook/readmeabook/internal/pacing"
)

const (
	fetcherUserAgent = "readmeabook/1.0"
	maxPageBytes     = 4 << 20
	pageAttempts     = 3
	pageRetryBase    = 1 * time.Second
	pageTimeout      = 45 * time.Second
)

var (
	articlePattern = regexp.MustCompile(`(?is)<article[^>]*>(.*?)</article>`)
	linkPattern    = regexp.MustCompile(`(?is)<h2[^>]*>\s*<a[^>]+href="([^"]+)"[^>]*>(.*?)</a>`)
	sizePattern    = regexp.MustCompile(`(?i)size:\s*(?:<[^>]+>\s*)*([0-9]+(?:[.,][0-9]+)?\s*[KMGT]?i?Bs?)`)
	seedersPattern = regexp.MustCompile(`(?i)seed(?:er)?s?:\s*(?:<[^>]+>\s*)*([0-9]+)`)
	formatPattern  = regexp.MustCompile(`(?i)format:\s*(?:<[^>]+>\s*)*([A-Za-z0-9]+)`)
	tagPattern     = regexp.MustCompile(`<[^>]+>`)
)

// HTMLPageFetcher fetches one result page over HTTP and extracts candidates
// from the post listing. A 503 or transport error is retried with jittered
// backoff; anything else fails the page immediately. The PageResult records
// every retry so the session pacer can react.
type HTMLPageFetcher struct {
	client    *http.Client
	retryBase time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

func NewHTMLPageFetcher(client *http.Client) *HTMLPageFetcher {
	if client == nil {
		client = &http.Client{Timeout: pageTimeout}
	}
	return &HTMLPageFetcher{
		client:    client,
		retryBase: pageRetryBase,
		sleep:     sleepContext,
	}
}

func (f *HTMLPageFetcher) FetchPage(ctx context.Context, idx *domain.Indexer, query string, page int) ([]domain.CandidateRelease, pacing.PageResult, error) {
	var result pacing.PageResult

	pageURL, err := searchPageURL(idx.BaseURL, query, page)
	if err != nil {
		return nil, result, err
	}

	var lastErr error
	for attempt := 0; attempt < pageAttempts; attempt++ {
		if attempt > 0 {
			result.RetriesUsed++
			if err := f.sleep(ctx, pacing.JitteredBackoff(attempt-1, f.retryBase)); err != nil {
				return nil, result, err
			}
		}

		payload, status, err := f.fetchOnce(ctx, pageURL)
		if err != nil {
			lastErr = err
			continue
		}
		if status == http.StatusServiceUnavailable {
			result.Encountered503 = true
			lastErr = fmt.Errorf("page returned HTTP 503")
			continue
		}
		if status != http.StatusOK {
			return nil, result, fmt.Errorf("page returned HTTP %d", status)
		}
		return parseResultPage(payload, idx.BaseURL), result, nil
	}
	return nil, result, lastErr
}

func (f *HTMLPageFetcher) fetchOnce(ctx context.Context, pageURL string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", fetcherUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("fetch page: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", 0, fmt.Errorf("read page: %w", err)
	}
	return string(payload), resp.StatusCode, nil
}

// searchPageURL builds /?s=query for page 1 and /page/N/?s=query beyond it.
func searchPageURL(base, query string, page int) (string, error) {
	uri, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	if page > 1 {
		uri = uri.JoinPath("page", strconv.Itoa(page))
	}
	params := uri.Query()
	params.Set("s", strings.TrimSpace(query))
	uri.RawQuery = params.Encode()
	return uri.String(), nil
}

func parseResultPage(payload, base string) []domain.CandidateRelease {
	baseURL, err := url.Parse(base)
	if err != nil {
		baseURL = nil
	}

	blocks := articlePattern.FindAllStringSubmatch(payload, -1)
	candidates := make([]domain.CandidateRelease, 0, len(blocks))
	seen := make(map[string]struct{}, len(blocks))
	for _, block := range blocks {
		candidate, ok := parsePost(block[1], baseURL)
		if !ok {
			continue
		}
		if _, dup := seen[candidate.GUID]; dup {
			continue
		}
		seen[candidate.GUID] = struct{}{}
		candidates = append(candidates, candidate)
	}
	return candidates
}

func parsePost(block string, base *url.URL) (domain.CandidateRelease, bool) {
	link := linkPattern.FindStringSubmatch(block)
	if len(link) < 3 {
		return domain.CandidateRelease{}, false
	}
	title := cleanHTMLText(link[2])
	href := strings.TrimSpace(html.UnescapeString(link[1]))
	if title == "" || href == "" {
		return domain.CandidateRelease{}, false
	}
	pageURL := href
	if base != nil {
		if ref, err := url.Parse(href); err == nil {
			pageURL = base.ResolveReference(ref).String()
		}
	}

	candidate := domain.CandidateRelease{
		Title: title,
		// The post page is the only stable identity a scraped source has.
		GUID:        pageURL,
		DownloadURL: pageURL,
		InfoURL:     pageURL,
	}
	if m := sizePattern.FindStringSubmatch(block); len(m) >= 2 {
		candidate.SizeBytes = parseHumanSize(m[1])
	}
	if m := seedersPattern.FindStringSubmatch(block); len(m) >= 2 {
		if n, err := strconv.Atoi(m[1]); err == nil {
			candidate.Seeders = n
		}
	}
	if m := formatPattern.FindStringSubmatch(block); len(m) >= 2 {
		candidate.Format = audioFormat(m[1])
	}
	return candidate, true
}

func cleanHTMLText(raw string) string {
	value := html.UnescapeString(strings.TrimSpace(raw))
	value = tagPattern.ReplaceAllString(value, " ")
	return strings.Join(strings.Fields(value), " ")
}

func audioFormat(raw string) domain.AudioFormat {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "m4b":
		return domain.FormatM4B
	case "m4a":
		return domain.FormatM4A
	case "mp3":
		return domain.FormatMP3
	case "flac":
		return domain.FormatFLAC
	}
	return domain.FormatUnknown
}

// parseHumanSize turns "512.43 MBs" style size text into bytes.
func parseHumanSize(raw string) int64 {
	value := strings.ToUpper(strings.Join(strings.Fields(raw), ""))
	value = strings.TrimSuffix(value, "S")
	value = strings.ReplaceAll(value, "IB", "B")

	unit := ""
	number := value
	for _, suffix := range []string{"TB", "GB", "MB", "KB", "B"} {
		if strings.HasSuffix(number, suffix) {
			unit = suffix
			number = strings.TrimSuffix(number, suffix)
			break
		}
	}
	parsed, err := strconv.ParseFloat(strings.ReplaceAll(number, ",", "."), 64)
	if err != nil || parsed < 0 {
		return 0
	}

	multiplier := float64(1)
	switch unit {
	case "KB":
		multiplier = 1 << 10
	case "MB":
		multiplier = 1 << 20
	case "GB":
		multiplier = 1 << 30
	case "TB":
		multiplier = 1 << 40
	}
	return int64(parsed * multiplier)
}
