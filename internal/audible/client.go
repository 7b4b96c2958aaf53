// Package audible looks up audiobook metadata in the Audible catalog API.
// The products endpoint is public; no account or token is involved.
package audible

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.audible.com"
	productPath    = "/1.0/catalog/products/"

	// responseGroups selects the slices of the product we care about;
	// without it the API returns bare ASINs.
	responseGroups = "media,product_attrs,contributors"
	coverSize      = "500"

	audibleTimeout = 15 * time.Second
	maxBodyBytes   = 1 << 20
)

var ErrBookNotFound = errors.New("audible book not found")

// BookMetadata is the refreshable metadata for one catalog product.
type BookMetadata struct {
	ASIN           string
	Title          string
	Author         string
	Narrator       string
	RuntimeMinutes int
	CoverURL       string
}

// Client fetches one book's metadata by ASIN.
type Client interface {
	GetBook(ctx context.Context, asin string) (*BookMetadata, error)
}

// HTTPClient talks to the Audible catalog API.
type HTTPClient struct {
	client  *http.Client
	baseURL string
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient uses the public API host when baseURL is empty.
func NewHTTPClient(baseURL string, client *http.Client) *HTTPClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: audibleTimeout}
	}
	return &HTTPClient{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

type contributor struct {
	Name string `json:"name"`
}

type productResponse struct {
	Product struct {
		ASIN             string            `json:"asin"`
		Title            string            `json:"title"`
		Authors          []contributor     `json:"authors"`
		Narrators        []contributor     `json:"narrators"`
		RuntimeLengthMin int               `json:"runtime_length_min"`
		ProductImages    map[string]string `json:"product_images"`
	} `json:"product"`
}

func (c *HTTPClient) GetBook(ctx context.Context, asin string) (*BookMetadata, error) {
	endpoint, err := url.Parse(c.baseURL + productPath + url.PathEscape(asin))
	if err != nil {
		return nil, fmt.Errorf("parse audible url: %w", err)
	}
	params := endpoint.Query()
	params.Set("response_groups", responseGroups)
	params.Set("image_sizes", coverSize)
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build audible request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query audible: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("asin %s: %w", asin, ErrBookNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("audible returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded productResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode audible response: %w", err)
	}
	product := decoded.Product
	if product.ASIN == "" {
		// The API answers 200 with an empty product for retired ASINs.
		return nil, fmt.Errorf("asin %s: %w", asin, ErrBookNotFound)
	}

	return &BookMetadata{
		ASIN:           product.ASIN,
		Title:          product.Title,
		Author:         joinNames(product.Authors),
		Narrator:       joinNames(product.Narrators),
		RuntimeMinutes: product.RuntimeLengthMin,
		CoverURL:       product.ProductImages[coverSize],
	}, nil
}

func joinNames(people []contributor) string {
	names := make([]string, 0, len(people))
	for _, p := range people {
		if p.Name != "" {
			names = append(names, p.Name)
		}
	}
	return strings.Join(names, ", ")
}
