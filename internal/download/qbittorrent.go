package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/readmeabook/readmeabook/internal/domain"
)

const (
	qbLoginPath = "/api/v2/auth/login"
	qbAddPath   = "/api/v2/torrents/add"

	qbTimeout      = 30 * time.Second
	qbMaxBodyBytes = 4 << 10
)

// QBittorrentConfig locates the qBittorrent WebUI.
type QBittorrentConfig struct {
	BaseURL  string
	Username string
	Password string
	// Category tags added torrents so library importers can pick them up.
	Category string
}

// QBittorrentClient drives the qBittorrent WebUI API. It logs in before
// every submission: the SID cookie lands in the client's jar, and audiobook
// volume is far too low for the extra round trip to matter.
type QBittorrentClient struct {
	client *http.Client
	cfg    QBittorrentConfig
}

var _ Client = (*QBittorrentClient)(nil)

func NewQBittorrentClient(cfg QBittorrentConfig, client *http.Client) *QBittorrentClient {
	if client == nil {
		client = &http.Client{Timeout: qbTimeout}
	}
	if client.Jar == nil {
		// qBittorrent authenticates every call after login via the SID cookie.
		jar, _ := cookiejar.New(nil)
		client.Jar = jar
	}
	return &QBittorrentClient{client: client, cfg: cfg}
}

func (c *QBittorrentClient) AddRelease(ctx context.Context, candidate domain.CandidateRelease) error {
	if candidate.DownloadURL == "" {
		return fmt.Errorf("candidate %q has no download url", candidate.Title)
	}
	if candidate.Protocol == domain.ProtocolUsenet {
		return fmt.Errorf("qbittorrent cannot fetch usenet release %q", candidate.Title)
	}
	if err := c.login(ctx); err != nil {
		return err
	}

	form := url.Values{}
	form.Set("urls", candidate.DownloadURL)
	if c.cfg.Category != "" {
		form.Set("category", c.cfg.Category)
	}
	body, err := c.postForm(ctx, qbAddPath, form)
	if err != nil {
		return fmt.Errorf("qbittorrent add: %w", err)
	}
	if strings.TrimSpace(body) == "Fails." {
		return fmt.Errorf("qbittorrent rejected %q", candidate.DownloadURL)
	}
	return nil
}

func (c *QBittorrentClient) login(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", c.cfg.Username)
	form.Set("password", c.cfg.Password)
	body, err := c.postForm(ctx, qbLoginPath, form)
	if err != nil {
		return fmt.Errorf("qbittorrent login: %w", err)
	}
	// The WebUI answers 200 to bad credentials too; only the body tells.
	if !strings.HasPrefix(body, "Ok") {
		return fmt.Errorf("qbittorrent login rejected: %s", strings.TrimSpace(body))
	}
	return nil
}

func (c *QBittorrentClient) postForm(ctx context.Context, path string, form url.Values) (string, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, qbMaxBodyBytes))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s returned HTTP %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return string(raw), nil
}
