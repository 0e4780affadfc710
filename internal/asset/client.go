// Package asset lists a GCP project's resources through the Cloud
// Asset Inventory searchAllResources API.
package asset

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"saifguard/internal/logging"
)

const defaultBaseURL = "https://cloudasset.googleapis.com/v1"

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

const defaultPageSize = 500

const maxRetries = 3

// Client calls the Cloud Asset Inventory REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	pageSize   int
}

// searchResponse is one searchAllResources page. Individual results
// stay raw: the auditor consumes them as JSON, not as typed structs.
type searchResponse struct {
	Results       []json.RawMessage `json:"results"`
	NextPageToken string            `json:"nextPageToken"`
	Error         *apiError         `json:"error"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Config tunes the inventory client.
type Config struct {
	// BaseURL overrides the API endpoint. Empty means production.
	BaseURL string

	// PageSize bounds results per page. Zero means the default.
	PageSize int

	// Timeout bounds each page fetch.
	Timeout time.Duration
}

// New builds a client authenticated with application default
// credentials.
func New(ctx context.Context, cfg Config) (*Client, error) {
	ts, err := google.DefaultTokenSource(ctx, cloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("loading application default credentials: %w", err)
	}
	httpClient := oauth2.NewClient(ctx, ts)
	if cfg.Timeout > 0 {
		httpClient.Timeout = cfg.Timeout
	}
	return NewWithClient(httpClient, cfg), nil
}

// NewWithClient builds a client over an explicit HTTP client. Tests use
// this to point at a local server without credentials.
func NewWithClient(httpClient *http.Client, cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		pageSize:   pageSize,
	}
}

// ListResources returns every searchable resource in the project, as
// raw per-resource JSON. All fields are requested (readMask=*) so the
// auditor sees full resource state, not just names.
func (c *Client) ListResources(ctx context.Context, projectID string) ([]json.RawMessage, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project id is empty")
	}

	start := time.Now()
	var all []json.RawMessage
	pageToken := ""
	pages := 0

	for {
		page, err := c.searchPage(ctx, projectID, pageToken)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Results...)
		pages++

		logging.InventoryDebug("searchAllResources %s: page=%d results=%d", projectID, pages, len(page.Results))

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	logging.Inventory("searchAllResources %s: %d resources over %d pages in %v",
		projectID, len(all), pages, time.Since(start))
	return all, nil
}

// searchPage fetches one result page with retry on rate limits.
func (c *Client) searchPage(ctx context.Context, projectID, pageToken string) (*searchResponse, error) {
	q := url.Values{}
	q.Set("readMask", "*")
	q.Set("pageSize", strconv.Itoa(c.pageSize))
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	reqURL := fmt.Sprintf("%s/projects/%s:searchAllResources?%s", c.baseURL, url.PathEscape(projectID), q.Encode())

	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			select {
			case <-time.After(time.Duration(1<<uint(i-1)) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limit exceeded (429)")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("asset inventory request failed with status %d: %s", resp.StatusCode, string(body))
		}

		var parsed searchResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		if parsed.Error != nil {
			return nil, fmt.Errorf("asset inventory error: %s", parsed.Error.Message)
		}
		return &parsed, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
