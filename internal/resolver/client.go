// Package resolver registers NBN landing-page locations with the persistent
// identifier resolver.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dvetransfer/internal/services"
)

// Service registers identifier locations.
type Service interface {
	Register(ctx context.Context, nbn string, locations ...string) error
}

// HTTPClient speaks the resolver REST protocol.
type HTTPClient struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

var _ Service = (*HTTPClient)(nil)

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBasicAuth sets the resolver credentials.
func WithBasicAuth(username, password string) Option {
	return func(c *HTTPClient) {
		c.username = strings.TrimSpace(username)
		c.password = password
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *HTTPClient) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// New creates a resolver client.
func New(baseURL string, opts ...Option) (*HTTPClient, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("resolver base url required")
	}
	client := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type registration struct {
	Identifier string   `json:"identifier"`
	Locations  []string `json:"locations"`
}

// Register creates the identifier. When the resolver already knows it
// (409), the locations are written with an update instead.
func (c *HTTPClient) Register(ctx context.Context, nbn string, locations ...string) error {
	nbn = strings.TrimSpace(nbn)
	if nbn == "" {
		return fmt.Errorf("register: nbn must not be empty: %w", services.ErrValidation)
	}
	if len(locations) == 0 {
		return fmt.Errorf("register %s: at least one location required: %w", nbn, services.ErrValidation)
	}
	body := registration{Identifier: nbn, Locations: locations}

	status, err := c.send(ctx, http.MethodPost, "/api/nbn", body)
	if err != nil {
		return err
	}
	if status != http.StatusConflict {
		return nil
	}
	_, err = c.send(ctx, http.MethodPut, "/api/nbn/"+url.PathEscape(nbn), body)
	return err
}

// send returns the status code for 2xx and 409 responses; other codes are errors.
func (c *HTTPClient) send(ctx context.Context, method, path string, body registration) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("encode resolver request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		return 0, fmt.Errorf("resolver %s %s (latency=%v): %w", method, path, latency, err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp.StatusCode, nil
	case resp.StatusCode == http.StatusConflict && method == http.MethodPost:
		return resp.StatusCode, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return resp.StatusCode, fmt.Errorf("resolver %s %s returned %d: check resolver credentials: %w",
			method, path, resp.StatusCode, services.ErrConfiguration)
	default:
		return resp.StatusCode, fmt.Errorf("resolver %s %s returned %d (latency=%v): %s: %w",
			method, path, resp.StatusCode, latency, strings.TrimSpace(string(snippet)), services.ErrExternal)
	}
}
