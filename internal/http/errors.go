package http

import (
	"errors"
	"fmt"
)

// ErrRangeNotSatisfiable is returned by ranged fetches when the requested
// offset lies at or beyond the end of the resource. Chunked downloaders use
// it as the end-of-stream signal.
var ErrRangeNotSatisfiable = errors.New("requested range not satisfiable")

// NetworkError is a transient fetch failure: timeouts, 429s and 5xx
// responses. The resilient fetch loop retries these with backoff, rotating
// to the next proxy each time.
type NetworkError struct {
	URL    string
	Status int
	Err    error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("network error fetching %s: HTTP %d", e.URL, e.Status)
	}
	return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying transport error, if any.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// BlockedError is a terminal fetch failure: the upstream rejected us with
// 401/403 or served a blocking interstitial instead of content. Retrying
// the same request would only burn the retry budget, so the fetch loop
// aborts immediately.
type BlockedError struct {
	URL    string
	Status int
	Reason string
}

// Error implements the error interface.
func (e *BlockedError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("blocked fetching %s: HTTP %d (%s)", e.URL, e.Status, e.Reason)
	}
	return fmt.Sprintf("blocked fetching %s: %s", e.URL, e.Reason)
}
