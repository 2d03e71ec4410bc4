// Package http provides the resilient HTTP layer used by every upstream
// fetch in the engine.
//
// The Client in this package handles:
//   - Retries with exponential backoff and random jitter
//   - Round-robin proxy substitution on retryable failures
//   - Blocking-page detection (anti-bot interstitials are failures, not data)
//   - Ranged fetches for chunked and resumed downloads
//
// # Failure classification
//
// 429, 502, 503 and other 5xx responses, plus transport timeouts, are
// retryable (*NetworkError). 401/403 and detected blocking pages are
// terminal (*BlockedError) and abort the retry loop immediately.
//
// # Basic usage
//
//	client := http.NewClient(http.ClientConfig{Proxies: proxies})
//
//	body, err := client.FetchResilient(ctx, apiURL, &http.FetchOptions{
//	    ExpectJSON: true,
//	})
//
//	chunk, err := client.FetchRange(ctx, streamURL, 0, 262143)
package http
