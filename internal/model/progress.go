package model

import "time"

// MaxRetryAttempts bounds how many times a failed chunk download or resume
// is retried before the track is left at its last valid partial state.
const MaxRetryAttempts = 3

// CacheProgress is the mutable download state for a single track.
//
// There is exactly one CacheProgress per TrackKey and at most one writer
// mutating it at a time: the download loop and the resume loop for a given
// track never run concurrently. Readers go through cache.Manager, which
// serves a memoized CacheInfo snapshot instead of the live record.
type CacheProgress struct {
	// Percentage is the current completion estimate, 0..100. Once set it
	// never regresses by more than a small epsilon except on explicit
	// reset or an authoritative total-size re-estimate.
	Percentage float64

	// IsDownloading is true while a download or resume loop owns the track.
	IsDownloading bool

	// DownloadStartTime is when the current download began.
	DownloadStartTime time.Time

	// LastUpdate is the time of the most recent state mutation. Records
	// idle for longer than the staleness window while not downloading are
	// cleared.
	LastUpdate time.Time

	// RetryCount counts transient failures for the current download,
	// 0..MaxRetryAttempts.
	RetryCount int

	// LastFileSize is the on-disk size observed at the last update, bytes.
	LastFileSize int64

	// DownloadedSize is the number of bytes confirmed written so far.
	DownloadedSize int64

	// DownloadSpeed is the observed transfer rate in bytes per second.
	DownloadSpeed float64

	// EstimatedTotalSize is the current best guess at the full file size.
	// Invariant: always >= DownloadedSize.
	EstimatedTotalSize int64

	// IsFullyCached is set true only after a confirmed-complete download
	// passed validation.
	IsFullyCached bool

	// OriginalStreamURL is the upstream URL the cache was filled from. It
	// is retained across resets so a stalled or evicted download can be
	// resumed later; this is the only field exempt from cleanup-time
	// clearing.
	OriginalStreamURL string

	// WriteFailed latches a terminal storage error (permissions, read-only
	// disk). Once set, no further download or resume attempts are made for
	// the track.
	WriteFailed bool
}

// Reset clears the record back to idle, preserving OriginalStreamURL so the
// track stays resumable.
func (p *CacheProgress) Reset() {
	url := p.OriginalStreamURL
	*p = CacheProgress{OriginalStreamURL: url, LastUpdate: time.Now()}
}

// CacheInfo is a derived, read-only summary of a track's cache state.
//
// It is computed from the live CacheProgress when one exists, otherwise from
// a filesystem probe, and memoized for a short TTL by the cache manager.
type CacheInfo struct {
	// Percentage is the completion estimate, 0..100.
	Percentage float64

	// FileSize is the current on-disk size in bytes.
	FileSize int64

	// TotalFileSize is the estimated or confirmed total size in bytes.
	// Zero when unknown.
	TotalFileSize int64

	// IsFullyCached is true when the on-disk file is complete and valid.
	IsFullyCached bool

	// IsDownloading is true while a downloader owns the track.
	IsDownloading bool

	// DownloadSpeed is bytes per second, zero when idle.
	DownloadSpeed float64

	// RetryCount is the transient-failure count of the active download.
	RetryCount int
}

// StrategyResult records one successful strategy outcome during race
// resolution. Results are ephemeral: the lowest-latency one wins and the
// rest are discarded.
type StrategyResult struct {
	// URL is the raw media URL the strategy resolved.
	URL string

	// Latency is how long the strategy took to succeed.
	Latency time.Duration

	// StrategyName names the strategy for diagnostics.
	StrategyName string
}
