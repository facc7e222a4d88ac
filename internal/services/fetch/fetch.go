// Package fetch downloads remote media over HTTP. One attempt per URL, no
// retries; timeouts come from the configured HTTP client or the caller's
// context.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 4

// maxBodyBytes bounds a single download. Ad creatives are small; anything
// past this is not worth caching.
const maxBodyBytes = 256 << 20

// Fetcher downloads media bytes.
type Fetcher struct {
	httpClient *http.Client
}

// New returns a fetcher using httpClient, or a 30s-timeout default when nil.
func New(httpClient *http.Client) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fetcher{httpClient: httpClient}
}

// Result is the outcome of downloading one URL.
type Result struct {
	URL         string
	Data        []byte
	ContentType string
	Err         error
}

// Fetch downloads one URL and returns its bytes and content type.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, "", fmt.Errorf("url is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}

	res, err := f.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, "", fmt.Errorf("fetch %s: status %d", url, res.StatusCode)
	}
	if res.ContentLength > maxBodyBytes {
		return nil, "", fmt.Errorf("fetch %s: body is %d bytes, limit is %d", url, res.ContentLength, maxBodyBytes)
	}

	// One extra byte distinguishes an oversized body from one that fits
	// exactly; a truncated download must never be cached as valid media.
	data, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", url, err)
	}
	if int64(len(data)) > maxBodyBytes {
		return nil, "", fmt.Errorf("fetch %s: body exceeds %d bytes", url, maxBodyBytes)
	}
	return data, normalizeContentType(res.Header.Get("Content-Type")), nil
}

// FetchAll downloads every URL concurrently, at most limit at a time (a
// non-positive limit uses a small default). Results come back in input order;
// a failed download sets Result.Err and never fails the whole batch.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string, limit int) []Result {
	if limit <= 0 {
		limit = defaultConcurrency
	}

	results := make([]Result, len(urls))
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(limit)
	for i, url := range urls {
		group.Go(func() error {
			data, contentType, err := f.Fetch(ctx, url)
			results[i] = Result{URL: url, Data: data, ContentType: contentType, Err: err}
			return nil
		})
	}
	_ = group.Wait()
	return results
}

// IsImage reports whether contentType names an image format.
func IsImage(contentType string) bool {
	return strings.HasPrefix(normalizeContentType(contentType), "image/")
}

// IsVideo reports whether contentType names a video format.
func IsVideo(contentType string) bool {
	return strings.HasPrefix(normalizeContentType(contentType), "video/")
}

func normalizeContentType(contentType string) string {
	contentType, _, _ = strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(contentType))
}
