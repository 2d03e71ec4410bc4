package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
)

// blockingSignatures are substrings that identify an anti-bot interstitial
// served in place of real content. Matched case-insensitively against the
// response body.
var blockingSignatures = []string{
	"checking your browser",
	"just a moment",
	"enable javascript and cookies",
	"access denied",
	"captcha",
	"rate limit exceeded",
}

// FetchOptions tunes a single resilient fetch.
type FetchOptions struct {
	// Headers are added to every attempt.
	Headers map[string]string

	// Timeout bounds each individual attempt. Zero means the client
	// default.
	Timeout time.Duration

	// Retries overrides the client's retry budget when > 0. The fetch
	// makes Retries+1 attempts.
	Retries int

	// ExpectJSON treats an HTML body as a blocking signature. Upstream
	// metadata APIs speak JSON; an HTML page in their place is an
	// interstitial, not data.
	ExpectJSON bool
}

// Client wraps HTTP operations with retry, backoff and proxy rotation.
//
// Client provides:
//   - FetchResilient: retried GETs with exponential backoff + jitter
//   - Transparent proxy substitution for retryable failures
//   - Blocking-page detection (interstitials treated as failures)
//   - Ranged fetches and streaming downloads with progress tracking
//
// Example usage:
//
//	client := http.NewClient(http.ClientConfig{
//	    Proxies: []string{"https://api.allorigins.win/raw?url="},
//	})
//
//	body, err := client.FetchResilient(ctx, apiURL, &http.FetchOptions{ExpectJSON: true})
//
//	err = client.DownloadFile(ctx, streamURL, "/cache/track.mp3", func(written, total int64) {
//	    fmt.Printf("%d / %d bytes\n", written, total)
//	})
type Client struct {
	httpClient *http.Client
	userAgent  string
	proxies    []string
	proxyIdx   uint32
	retries    int
	backoff    time.Duration
	maxJitter  time.Duration
	timeout    time.Duration
}

// ClientConfig configures a Client. Zero values fall back to sane defaults.
type ClientConfig struct {
	// UserAgent is sent on every request.
	UserAgent string

	// Proxies is the fixed round-robin rotation used for retries. Each
	// entry is a prefix the target URL is appended to, URL-encoded.
	Proxies []string

	// Retries is the default retry budget (attempts = Retries+1).
	Retries int

	// Backoff is the base delay; attempt n waits Backoff * 2^n plus jitter.
	Backoff time.Duration

	// MaxJitter caps the random jitter added to each backoff delay.
	MaxJitter time.Duration

	// Timeout bounds each individual attempt.
	Timeout time.Duration
}

// NewClient creates a new resilient HTTP client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "trackcache/1.0"
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if cfg.MaxJitter <= 0 {
		cfg.MaxJitter = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		httpClient: &http.Client{},
		userAgent:  cfg.UserAgent,
		proxies:    cfg.Proxies,
		retries:    cfg.Retries,
		backoff:    cfg.Backoff,
		maxJitter:  cfg.MaxJitter,
		timeout:    cfg.Timeout,
	}
}

// FetchResilient performs a GET with timeout, retry, exponential backoff and
// jitter, and transparent proxy substitution.
//
// The first attempt goes directly to the URL; each retryable failure (429,
// 502, 503, other 5xx, timeouts) resends through the next proxy in the
// rotation with the target URL-encoded as the proxy's query parameter.
// Terminal failures (401/403, detected blocking pages) abort the loop
// immediately.
//
// After retries+1 failed attempts the last error is returned, typed as
// *NetworkError or *BlockedError.
func (c *Client) FetchResilient(ctx context.Context, rawURL string, opts *FetchOptions) ([]byte, error) {
	if opts == nil {
		opts = &FetchOptions{}
	}
	retries := c.retries
	if opts.Retries > 0 {
		retries = opts.Retries
	}
	timeout := c.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	var (
		body    []byte
		lastErr error
		attempt uint32
	)

	err := retry.Do(
		func() error {
			n := atomic.AddUint32(&attempt, 1) - 1

			target := rawURL
			if n > 0 && len(c.proxies) > 0 {
				target = c.nextProxy() + url.QueryEscape(rawURL)
			}

			data, err := c.fetchOnce(ctx, target, rawURL, timeout, opts)
			if err != nil {
				lastErr = err
				var blocked *BlockedError
				if errors.As(err, &blocked) {
					return retry.Unrecoverable(err)
				}
				return err
			}

			body = data
			return nil
		},
		retry.Attempts(uint(retries+1)),
		retry.Delay(c.backoff),
		retry.MaxJitter(c.maxJitter),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		// retry.Unrecoverable obscures the concrete type; surface the
		// classified error instead.
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, err
	}

	return body, nil
}

// fetchOnce performs a single attempt and classifies the outcome. target is
// the URL actually requested (possibly proxied); origin is the logical URL
// used in error reporting.
func (c *Client) fetchOnce(ctx context.Context, target, origin string, timeout time.Duration, opts *FetchOptions) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &NetworkError{URL: origin, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Caller cancellation is not a network condition; don't dress it
		// up as one.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &NetworkError{URL: origin, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		io.Copy(io.Discard, resp.Body)
		return nil, &BlockedError{URL: origin, Status: resp.StatusCode, Reason: "authorization rejected"}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return nil, &NetworkError{URL: origin, Status: resp.StatusCode}
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent:
		io.Copy(io.Discard, resp.Body)
		return nil, &NetworkError{URL: origin, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{URL: origin, Err: err}
	}

	if reason := detectBlocking(data, opts.ExpectJSON); reason != "" {
		return nil, &BlockedError{URL: origin, Status: resp.StatusCode, Reason: reason}
	}

	return data, nil
}

// nextProxy returns the next proxy prefix in the fixed round-robin rotation.
func (c *Client) nextProxy() string {
	idx := atomic.AddUint32(&c.proxyIdx, 1) - 1
	return c.proxies[int(idx)%len(c.proxies)]
}

// detectBlocking inspects a response body for blocking signatures. Returns
// a human-readable reason, or "" when the body looks like real content.
func detectBlocking(body []byte, expectJSON bool) string {
	// Only inspect a prefix; interstitials identify themselves early and
	// audio payloads should not be scanned wholesale.
	probe := body
	if len(probe) > 4096 {
		probe = probe[:4096]
	}
	lower := strings.ToLower(string(probe))

	for _, sig := range blockingSignatures {
		if strings.Contains(lower, sig) {
			return fmt.Sprintf("blocking signature %q", sig)
		}
	}

	if expectJSON {
		trimmed := strings.TrimSpace(lower)
		if strings.HasPrefix(trimmed, "<!doctype") || strings.HasPrefix(trimmed, "<html") {
			return "HTML response where JSON was expected"
		}
	}

	return ""
}

// FileSize returns the size of a file at the given URL via HEAD request.
//
// Returns an error if the request fails or the server doesn't report a
// Content-Length.
func (c *Client) FileSize(ctx context.Context, rawURL string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &NetworkError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("no Content-Length header for %s", rawURL)
	}

	return resp.ContentLength, nil
}

// FetchRange performs a single ranged GET and returns the raw bytes of
// [from, to] inclusive. Pass to < 0 for an open-ended range.
//
// Servers that ignore Range and reply 200 with the full body are handled by
// slicing the requested window out of the response.
func (c *Client) FetchRange(ctx context.Context, rawURL string, from, to int64) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	if to >= 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", from, to))
	} else {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", from))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		return io.ReadAll(resp.Body)
	case http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &NetworkError{URL: rawURL, Err: err}
		}
		if from >= int64(len(data)) {
			return nil, fmt.Errorf("%w: start %d beyond body size %d", ErrRangeNotSatisfiable, from, len(data))
		}
		end := int64(len(data))
		if to >= 0 && to+1 < end {
			end = to + 1
		}
		return data[from:end], nil
	case http.StatusRequestedRangeNotSatisfiable:
		return nil, fmt.Errorf("%w: %s offset %d", ErrRangeNotSatisfiable, rawURL, from)
	default:
		return nil, &NetworkError{URL: rawURL, Status: resp.StatusCode}
	}
}

// ProgressWriter wraps a writer to track download progress.
//
// Use this to monitor large downloads by providing an OnUpdate callback
// that receives the current bytes written and total expected bytes.
type ProgressWriter struct {
	// Writer is the underlying writer to write data to.
	Writer io.Writer

	// Total is the expected total bytes (from Content-Length header).
	Total int64

	// Written is the current number of bytes written.
	Written int64

	// OnUpdate is called after each Write with current progress.
	OnUpdate func(written, total int64)
}

// Write implements io.Writer, tracking progress and calling OnUpdate.
func (pw *ProgressWriter) Write(p []byte) (int, error) {
	n, err := pw.Writer.Write(p)
	pw.Written += int64(n)
	if pw.OnUpdate != nil {
		pw.OnUpdate(pw.Written, pw.Total)
	}
	return n, err
}

// DownloadFile downloads a URL to the specified path, streaming directly to
// disk with an optional progress callback.
//
// No retry is applied here; callers own the retry policy for full-file
// transfers.
func (c *Client) DownloadFile(ctx context.Context, rawURL, destPath string, onProgress func(written, total int64)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &NetworkError{URL: rawURL, Status: resp.StatusCode}
	}

	file, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer file.Close()

	var writer io.Writer = file
	if onProgress != nil {
		writer = &ProgressWriter{
			Writer:   file,
			Total:    resp.ContentLength,
			OnUpdate: onProgress,
		}
	}

	_, err = io.Copy(writer, resp.Body)
	return err
}

// DownloadRangeToFile streams bytes [from, end) of a URL into destPath and
// returns the number of bytes written.
//
// Used by the resume engine: the tail is written to a temporary file and
// merged onto the cache file only after the transfer succeeds.
func (c *Client) DownloadRangeToFile(ctx context.Context, rawURL string, from int64, destPath string, onProgress func(written, total int64)) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", from))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &NetworkError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return 0, &NetworkError{URL: rawURL, Status: resp.StatusCode}
	}

	var body io.Reader = resp.Body
	if resp.StatusCode == http.StatusOK && from > 0 {
		// Server ignored the Range header; skip the prefix manually.
		if _, err := io.CopyN(io.Discard, resp.Body, from); err != nil {
			return 0, &NetworkError{URL: rawURL, Err: err}
		}
	}

	file, err := os.Create(destPath)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	var writer io.Writer = file
	if onProgress != nil {
		writer = &ProgressWriter{
			Writer:   file,
			Total:    resp.ContentLength,
			OnUpdate: onProgress,
		}
	}

	return io.Copy(writer, body)
}
