// Package fetch wraps externally-effectful lookups (HTTP fetches) with the
// throttling and caching contract change-data producers rely on: a fixed
// delay after every call, at most one in-flight load per key, and bounded
// caching of successful results only.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrInterrupted is returned when cancellation arrives during the
	// post-call throttle delay. The result obtained before the delay is
	// treated as failed: a cached entry always represents a value obtained
	// under the full throttling contract. ErrInterrupted is deliberately
	// distinct from an empty response body, so callers never conflate
	// "interrupted" with "legitimately empty".
	ErrInterrupted = errors.New("throttle delay interrupted")
)

// StatusError reports a non-success HTTP response.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected response: %s", e.Status)
}

// Header is one custom header sent with every request. Order is preserved.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Client issues throttled GET requests. After every call completes —
// success or failure — the client sleeps for the full configured delay,
// independent of how long the call took. Always sleeping the full delay,
// rather than the delay minus elapsed time, naturally slows callers down
// further when the remote server is struggling and responding slowly.
type Client struct {
	http    *http.Client
	delay   time.Duration
	headers []Header
}

// NewClient builds a client with the given post-call delay and ordered
// custom headers. Headers with an empty name or value are dropped.
func NewClient(delay time.Duration, headers []Header) *Client {
	kept := make([]Header, 0, len(headers))
	for _, h := range headers {
		if h.Name != "" && h.Value != "" {
			kept = append(kept, h)
		}
	}
	return &Client{
		http:    &http.Client{},
		delay:   delay,
		headers: kept,
	}
}

// Get fetches a URL and returns the response body as a string. The
// throttle delay is applied after the call regardless of its outcome; a
// cancellation arriving mid-delay returns ErrInterrupted.
func (c *Client) Get(ctx context.Context, url string) (string, error) {
	body, fetchErr := c.fetch(ctx, url)
	if err := c.sleep(ctx); err != nil {
		return "", err
	}
	return body, fetchErr
}

func (c *Client) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	for _, h := range c.headers {
		req.Header.Add(h.Name, h.Value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	return string(data), nil
}

func (c *Client) sleep(ctx context.Context) error {
	if c.delay <= 0 {
		return nil
	}
	timer := time.NewTimer(c.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ErrInterrupted
	}
}
