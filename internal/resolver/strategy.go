package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/veliu/trackcache/internal/model"
)

// Strategy is an independent resolver that turns a track identity into a raw
// media URL via one upstream backend.
//
// Strategies must be side-effect-free on failure: a failed Resolve leaves no
// partial global state behind, so the caller is free to try the next one.
type Strategy interface {
	// Name identifies the strategy in logs and aggregated errors.
	Name() string

	// Resolve attempts to obtain a raw media URL for the track. Failures
	// are reported as *StrategyError.
	Resolve(ctx context.Context, key model.TrackKey) (string, error)

	// RequiresCaching reports whether URLs from this backend must be
	// handed to the cache manager before playback. Video-hosting backends
	// serve short-lived, throttled URLs the player cannot rely on.
	RequiresCaching() bool
}

// StrategyError reports a single backend's failure to resolve a track. It is
// non-fatal: resolution falls through to the next eligible strategy, and the
// message only reaches the caller if every strategy fails.
type StrategyError struct {
	// Strategy names the failing resolver.
	Strategy string

	// Key is the track that could not be resolved.
	Key model.TrackKey

	// Cause is the underlying failure.
	Cause error
}

// Error implements the error interface.
func (e *StrategyError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Strategy, e.Key, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *StrategyError) Unwrap() error {
	return e.Cause
}

// AllStrategiesFailed is surfaced to the caller when every eligible strategy
// failed. It lists each strategy's reason for diagnosability.
type AllStrategiesFailed struct {
	// Key is the track that could not be resolved.
	Key model.TrackKey

	// Reasons holds one human-readable failure per attempted strategy.
	Reasons []string
}

// Error implements the error interface.
func (e *AllStrategiesFailed) Error() string {
	return fmt.Sprintf("all strategies failed for %s: %s", e.Key, strings.Join(e.Reasons, "; "))
}
