package cycles

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultURL is the public cycle-data endpoint
const DefaultURL = "https://api.rdo.gg/cycles/"

// maxBodyBytes caps the response size read from the endpoint
const maxBodyBytes = 4 << 20

// StatusError reports a non-2xx response
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cycle endpoint returned %s", e.Status)
}

// Fetcher retrieves the current cycle document
type Fetcher interface {
	Fetch(ctx context.Context) (*Document, error)
}

// Client issues single GET requests against the cycle endpoint
type Client struct {
	url       string
	userAgent string
	timeout   time.Duration
	http      *http.Client
}

// ClientConfig configures a Client
type ClientConfig struct {
	URL       string
	UserAgent string
	Timeout   time.Duration
}

// NewClient creates an endpoint client. httpClient may be nil.
func NewClient(cfg ClientConfig, httpClient *http.Client) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		url:       cfg.URL,
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
		http:      httpClient,
	}
}

// Fetch performs one request and decodes the response
func (c *Client) Fetch(ctx context.Context) (*Document, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var doc Document
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode cycle document: %w", err)
	}
	return &doc, nil
}
