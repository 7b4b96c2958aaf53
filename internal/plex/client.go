// Package plex integrates with plex.tv for sign-in and with the media
// server for library scans.
package plex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTVBaseURL = "https://plex.tv"
	userPath         = "/api/v2/user"

	plexTimeout  = 15 * time.Second
	maxBodyBytes = 1 << 20
)

var ErrUnauthorized = errors.New("plex token rejected")

// Account is the plex.tv identity behind a sign-in token.
type Account struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type Config struct {
	// ClientID identifies this app to plex.tv; any stable string works.
	ClientID string
	// TVBaseURL overrides the public plex.tv API host, mainly for tests.
	TVBaseURL string

	// ServerURL, SectionID and Token locate the audiobook library on the
	// media server. Token must belong to the server owner.
	ServerURL string
	SectionID string
	Token     string
}

type Client struct {
	client *http.Client
	cfg    Config
}

func NewClient(cfg Config, client *http.Client) *Client {
	if cfg.TVBaseURL == "" {
		cfg.TVBaseURL = defaultTVBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: plexTimeout}
	}
	return &Client{client: client, cfg: cfg}
}

// Lookup resolves a sign-in token to the plex.tv account that owns it.
func (c *Client) Lookup(ctx context.Context, token string) (*Account, error) {
	endpoint := strings.TrimRight(c.cfg.TVBaseURL, "/") + userPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build plex request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Plex-Token", token)
	req.Header.Set("X-Plex-Client-Identifier", c.cfg.ClientID)
	req.Header.Set("X-Plex-Product", "readmeabook")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query plex.tv: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("plex.tv returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var account Account
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&account); err != nil {
		return nil, fmt.Errorf("decode plex account: %w", err)
	}
	if account.ID == 0 {
		return nil, fmt.Errorf("plex account response has no id")
	}
	return &account, nil
}

// ScanLibrary asks the media server to re-scan the audiobook section.
// The scan itself runs asynchronously on the server.
func (c *Client) ScanLibrary(ctx context.Context) error {
	if c.cfg.ServerURL == "" || c.cfg.SectionID == "" {
		return fmt.Errorf("plex server is not configured")
	}
	endpoint := fmt.Sprintf("%s/library/sections/%s/refresh",
		strings.TrimRight(c.cfg.ServerURL, "/"), c.cfg.SectionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build scan request: %w", err)
	}
	req.Header.Set("X-Plex-Token", c.cfg.Token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("trigger library scan: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("library scan returned HTTP %d", resp.StatusCode)
	}
	return nil
}
