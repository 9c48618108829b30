// Package calendar synchronizes external iCalendar feeds into a property's
// canonical availability and publishes the property's own busy/free feed.
package calendar

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clusterpj/cluster-estate-sub001/internal/metrics"
)

const (
	// DefaultFetchTimeout bounds a single feed request.
	DefaultFetchTimeout = 15 * time.Second

	// MaxFeedBytes caps how much of a feed body is read.
	MaxFeedBytes = 10 << 20

	userAgent = "cluster-estate-calendar-sync/1.0"
)

// Fetcher retrieves raw feed text over HTTP.
type Fetcher struct {
	httpClient *http.Client
	maxBytes   int64
}

// NewFetcher creates a fetcher. A non-positive timeout uses DefaultFetchTimeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   MaxFeedBytes,
	}
}

// NormalizeAddress validates a feed address and returns the URL to request.
// webcal:// addresses are rewritten to https://.
func NormalizeAddress(address string) (string, error) {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return "", &InvalidSourceError{Address: address, Reason: "address is empty"}
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", &InvalidSourceError{Address: address, Reason: "malformed URL"}
	}

	switch strings.ToLower(u.Scheme) {
	case "webcal", "webcals":
		u.Scheme = "https"
	case "http", "https":
		u.Scheme = strings.ToLower(u.Scheme)
	case "":
		return "", &InvalidSourceError{Address: address, Reason: "URL is not absolute"}
	default:
		return "", &InvalidSourceError{Address: address, Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}

	if u.Host == "" {
		return "", &InvalidSourceError{Address: address, Reason: "URL has no host"}
	}

	return u.String(), nil
}

// Fetch downloads the feed at address. Failures are classified as
// *InvalidSourceError, *TransientError or *PermanentError.
func (f *Fetcher) Fetch(ctx context.Context, address string) ([]byte, error) {
	target, err := NormalizeAddress(address)
	if err != nil {
		metrics.IncFetch("invalid")
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		metrics.IncFetch("invalid")
		return nil, &InvalidSourceError{Address: address, Reason: err.Error()}
	}
	req.Header.Set("Accept", "text/calendar, text/plain;q=0.9, */*;q=0.5")
	req.Header.Set("User-Agent", userAgent)

	started := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		metrics.IncFetch("transient")
		return nil, &TransientError{Err: fmt.Errorf("fetching %s: %w", redactURL(target), err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		ferr := &FetchError{StatusCode: resp.StatusCode}
		if isPermanentStatus(resp.StatusCode) {
			metrics.IncFetch("permanent")
			return nil, &PermanentError{Err: ferr}
		}
		metrics.IncFetch("transient")
		return nil, &TransientError{Err: ferr}
	}

	// Content-Type is ignored: many platforms serve feeds as text/plain or
	// application/octet-stream.
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		metrics.IncFetch("transient")
		return nil, &TransientError{Err: fmt.Errorf("reading %s: %w", redactURL(target), err)}
	}
	if int64(len(body)) > f.maxBytes {
		metrics.IncFetch("permanent")
		return nil, &PermanentError{Err: fmt.Errorf("feed exceeds %d bytes", f.maxBytes)}
	}

	metrics.IncFetch("ok")
	log.Printf("Fetched %s: %d bytes in %s", redactURL(target), len(body), time.Since(started).Round(time.Millisecond))

	return body, nil
}

// isPermanentStatus reports whether a non-2xx status should not be retried.
func isPermanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}

// redactURL keeps scheme and host only; feed URLs usually embed a secret token.
func redactURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	if u.Path == "" && u.RawQuery == "" {
		return u.Scheme + "://" + u.Host
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
