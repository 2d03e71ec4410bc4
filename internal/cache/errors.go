package cache

import "fmt"

// ValidationError reports a cache file that exists on disk but failed
// validation (too small, unreadable). The file is deleted when this error is
// produced, so the caller can safely re-download.
type ValidationError struct {
	Path   string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid cache file %s: %s", e.Path, e.Reason)
}

// WriteError is a terminal storage failure (permissions, read-only mount,
// disk full). It latches the track's writeFailed state: no further download
// or resume attempts are made, and playback falls back to the remote URL.
type WriteError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *WriteError) Error() string {
	return fmt.Sprintf("cache write failed for %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying storage error.
func (e *WriteError) Unwrap() error {
	return e.Err
}
