package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrAPIUnavailable reports that no daemon answered on the control API.
var ErrAPIUnavailable = errors.New("control API unavailable")

// Client talks to the daemon control API.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// NewClient builds a client for bind, which is either host:port or a URL.
// An empty bind yields a nil client whose calls return ErrAPIUnavailable.
func NewClient(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, nil
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Status fetches GET /api/status.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var out DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", http.StatusOK, &out)
	return out, err
}

// Health fetches GET /api/health. A 503 still decodes the report.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	err := c.do(ctx, http.MethodGet, "/api/health", http.StatusOK, &out)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusServiceUnavailable && statusErr.body != nil {
		if decodeErr := json.Unmarshal(statusErr.body, &out); decodeErr == nil {
			return out, nil
		}
	}
	return out, err
}

// Flush asks the daemon to submit the current batch.
func (c *Client) Flush(ctx context.Context) (FlushResponse, error) {
	var out FlushResponse
	err := c.do(ctx, http.MethodPost, "/api/batch/flush", http.StatusAccepted, &out)
	return out, err
}

// StatusError is a non-success response from the API.
type StatusError struct {
	Method  string
	Path    string
	Code    int
	Message string
	body    []byte
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api %s %s returned status %d: %s", e.Method, e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("api %s %s returned status %d", e.Method, e.Path, e.Code)
}

func (c *Client) do(ctx context.Context, method, path string, want int, out any) error {
	if c == nil {
		return ErrAPIUnavailable
	}
	endpoint := c.base.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read api response: %w", err)
	}

	if resp.StatusCode != want {
		statusErr := &StatusError{Method: method, Path: path, Code: resp.StatusCode, body: body}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &payload) == nil {
			statusErr.Message = payload.Error
		}
		return statusErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode api response: %w", err)
	}
	return nil
}

// IsAPIUnavailable reports whether err means no daemon is listening.
func IsAPIUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.Is(err, ErrAPIUnavailable) || errors.As(err, &opErr)
}
