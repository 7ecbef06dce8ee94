package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dvetransfer/internal/services"
)

// Service is the archive contract used by the batch assembler.
type Service interface {
	// Import hands a batch directory under the shared batch root to the archive.
	Import(ctx context.Context, batchPath string) error
	// CreateLayer closes the top layer and opens an empty one.
	CreateLayer(ctx context.Context) error
	// TopLayerSize reports the bytes stored in the top layer.
	TopLayerSize(ctx context.Context) (int64, error)
}

// HTTPClient speaks the archive REST protocol.
type HTTPClient struct {
	baseURL    string
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

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *HTTPClient) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// New creates an archive client.
func New(baseURL string, opts ...Option) (*HTTPClient, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("archive base url required")
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

type importRequest struct {
	Path string `json:"path"`
}

type layerResponse struct {
	SizeInBytes int64 `json:"sizeInBytes"`
}

// Import posts the batch path to /import.
func (c *HTTPClient) Import(ctx context.Context, batchPath string) error {
	if strings.TrimSpace(batchPath) == "" {
		return errors.New("batch path must not be empty")
	}
	return c.do(ctx, http.MethodPost, "/import", importRequest{Path: batchPath}, nil)
}

// CreateLayer posts to /layers.
func (c *HTTPClient) CreateLayer(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/layers", nil, nil)
}

// TopLayerSize reads /layers/top.
func (c *HTTPClient) TopLayerSize(ctx context.Context) (int64, error) {
	var payload layerResponse
	if err := c.do(ctx, http.MethodGet, "/layers/top", nil, &payload); err != nil {
		return 0, err
	}
	if payload.SizeInBytes < 0 {
		return 0, fmt.Errorf("archive reported negative layer size %d: %w", payload.SizeInBytes, services.ErrExternal)
	}
	return payload.SizeInBytes, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode archive request: %w", err)
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

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		return fmt.Errorf("archive %s %s (latency=%v): %w", method, path, latency, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("archive %s %s returned %d (latency=%v): %s: %w",
			method, path, resp.StatusCode, latency, strings.TrimSpace(string(snippet)), services.ErrExternal)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode archive response: %w", err)
	}
	return nil
}
