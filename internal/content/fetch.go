package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultFetchTimeout = 15 * time.Second
	defaultMaxAsset     = 20 << 20
	maxErrorBodySize    = 512
)

// ErrFetch indicates a remote asset could not be retrieved.
var ErrFetch = errors.New("asset fetch failed")

// ErrTooLarge indicates a remote asset exceeded the configured size cap.
var ErrTooLarge = errors.New("asset exceeds size limit")

// HTTPFetcher downloads remote image assets.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTPFetcher builds a fetcher with the given per-request timeout and body cap.
// Zero values fall back to 15s and 20MiB.
func NewHTTPFetcher(timeout time.Duration, maxBytes int64, client *http.Client) *HTTPFetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxAsset
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	} else if client.Timeout == 0 {
		client.Timeout = timeout
	}
	return &HTTPFetcher{client: client, maxBytes: maxBytes}
}

// Fetch issues a GET for url and returns the body. Non-2xx responses are errors.
// The returned reader fails with ErrTooLarge once more than the cap has been read.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrFetch, err)
	}
	req.Header.Set("User-Agent", "sitedeploy/1.0")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		summary := strings.TrimSpace(string(buf))
		if summary == "" {
			summary = resp.Status
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrFetch, url, summary)
	}
	if resp.ContentLength > f.maxBytes {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s (%d bytes)", ErrTooLarge, url, resp.ContentLength)
	}
	return &cappedBody{body: resp.Body, remaining: f.maxBytes}, nil
}

type cappedBody struct {
	body      io.ReadCloser
	remaining int64
}

func (c *cappedBody) Read(p []byte) (int, error) {
	if c.remaining < 0 {
		return 0, ErrTooLarge
	}
	// Read one byte past the cap so an oversized body is detected.
	if int64(len(p)) > c.remaining+1 {
		p = p[:c.remaining+1]
	}
	n, err := c.body.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		return n, ErrTooLarge
	}
	return n, err
}

func (c *cappedBody) Close() error {
	return c.body.Close()
}
