// Package bigquery streams rows into a table through the tabledata
// insertAll REST API.
package bigquery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"saifguard/internal/logging"
)

const defaultBaseURL = "https://bigquery.googleapis.com/bigquery/v2"

const bigqueryScope = "https://www.googleapis.com/auth/bigquery.insertdata"

const maxRetries = 3

// Client streams rows into BigQuery.
type Client struct {
	httpClient *http.Client
	baseURL    string
	project    string
	dataset    string
	table      string
}

// Config identifies the destination table.
type Config struct {
	// BaseURL overrides the API endpoint. Empty means production.
	BaseURL string

	Project string
	Dataset string
	Table   string

	// Timeout bounds each insert request.
	Timeout time.Duration
}

// Row is one record to insert. Keys are column names.
type Row map[string]any

type insertAllRequest struct {
	Kind string      `json:"kind"`
	Rows []insertRow `json:"rows"`
}

type insertRow struct {
	InsertID string `json:"insertId"`
	JSON     Row    `json:"json"`
}

type insertAllResponse struct {
	InsertErrors []struct {
		Index  int `json:"index"`
		Errors []struct {
			Reason  string `json:"reason"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"insertErrors"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// New builds a client authenticated with application default
// credentials.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Project == "" || cfg.Dataset == "" || cfg.Table == "" {
		return nil, fmt.Errorf("bigquery destination incomplete: project=%q dataset=%q table=%q",
			cfg.Project, cfg.Dataset, cfg.Table)
	}
	ts, err := google.DefaultTokenSource(ctx, bigqueryScope)
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
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		project:    cfg.Project,
		dataset:    cfg.Dataset,
		table:      cfg.Table,
	}
}

// Table returns the fully qualified destination.
func (c *Client) Table() string {
	return fmt.Sprintf("%s.%s.%s", c.project, c.dataset, c.table)
}

// InsertRows streams rows into the table. Each row gets a UUID insert
// ID so BigQuery can deduplicate retried batches. Per-row rejections
// come back as a single error listing every failed index.
func (c *Client) InsertRows(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	start := time.Now()
	body := insertAllRequest{
		Kind: "bigquery#tableDataInsertAllRequest",
		Rows: make([]insertRow, len(rows)),
	}
	for i, row := range rows {
		body.Rows[i] = insertRow{InsertID: uuid.NewString(), JSON: row}
	}

	resp, err := c.doInsert(ctx, body)
	if err != nil {
		return err
	}

	if len(resp.InsertErrors) > 0 {
		var b strings.Builder
		for _, ie := range resp.InsertErrors {
			for _, e := range ie.Errors {
				fmt.Fprintf(&b, "row %d: %s (%s); ", ie.Index, e.Message, e.Reason)
			}
		}
		return fmt.Errorf("bigquery rejected %d rows: %s", len(resp.InsertErrors), strings.TrimSuffix(b.String(), "; "))
	}

	logging.Report("BigQuery insert: %d rows into %s in %v", len(rows), c.Table(), time.Since(start))
	return nil
}

func (c *Client) doInsert(ctx context.Context, body insertAllRequest) (*insertAllResponse, error) {
	reqURL := fmt.Sprintf("%s/projects/%s/datasets/%s/tables/%s/insertAll",
		c.baseURL, c.project, c.dataset, c.table)

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			select {
			case <-time.After(time.Duration(1<<uint(i-1)) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("insertAll failed with status %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("insertAll failed with status %d: %s", resp.StatusCode, string(respBody))
		}

		var parsed insertAllResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		if parsed.Error != nil {
			return nil, fmt.Errorf("bigquery error: %s", parsed.Error.Message)
		}
		return &parsed, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
