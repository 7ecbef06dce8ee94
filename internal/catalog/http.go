package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"dvetransfer/internal/services"
)

// HTTPClient talks to a remote catalog service.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var (
	_ Service = (*HTTPClient)(nil)
	_ Lister  = (*HTTPClient)(nil)
)

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

// WithToken sends a bearer token with every request.
func WithToken(token string) Option {
	return func(c *HTTPClient) {
		c.token = strings.TrimSpace(token)
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *HTTPClient) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewHTTPClient creates a catalog client for baseURL.
func NewHTTPClient(baseURL string, opts ...Option) (*HTTPClient, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("catalog base url required")
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

// GetDataset fetches a dataset. A 404 yields ErrNotFound.
func (c *HTTPClient) GetDataset(ctx context.Context, nbn string) (*Dataset, error) {
	var dataset Dataset
	if err := c.do(ctx, http.MethodGet, "/datasets/"+url.PathEscape(nbn), nil, &dataset); err != nil {
		return nil, err
	}
	return &dataset, nil
}

// ListDatasets returns the NBNs known to the catalog.
func (c *HTTPClient) ListDatasets(ctx context.Context) ([]string, error) {
	var payload struct {
		Datasets []string `json:"datasets"`
	}
	if err := c.do(ctx, http.MethodGet, "/datasets", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Datasets, nil
}

// CreateDataset posts a new dataset.
func (c *HTTPClient) CreateDataset(ctx context.Context, dataset Dataset) error {
	return c.do(ctx, http.MethodPost, "/datasets", dataset, nil)
}

// SetVersionExport stores export under its object version.
func (c *HTTPClient) SetVersionExport(ctx context.Context, nbn string, export VersionExport) error {
	path := "/datasets/" + url.PathEscape(nbn) + "/versions/" + strconv.Itoa(export.ObjectVersion)
	return c.do(ctx, http.MethodPut, path, export, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode catalog request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		return fmt.Errorf("catalog %s %s (latency=%v): %w", method, path, latency, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return responseError(method, path, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode catalog response: %w", err)
	}
	return nil
}

func responseError(method, path string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload errorResponse
	_ = json.Unmarshal(raw, &payload)
	message := strings.TrimSpace(payload.Error)
	if message == "" {
		message = strings.TrimSpace(string(raw))
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	marker := errorForCode(payload.Code)
	if marker == nil {
		switch resp.StatusCode {
		case http.StatusConflict:
			marker = services.ErrConsistency
		case http.StatusBadRequest:
			marker = services.ErrValidation
		default:
			marker = services.ErrExternal
		}
	}
	return fmt.Errorf("catalog %s %s returned %d: %s: %w", method, path, resp.StatusCode, message, marker)
}
