// Package cache implements the progressive local cache for resolved audio
// streams.
//
// A track starts playing from its cache file as soon as the initial chunk
// lands; the rest of the stream downloads in the background on a detached
// context, in a single ranged transfer when the server cooperates and in
// fixed-size chunks when it does not. All writes are binary-safe appends.
//
// # Progress estimation
//
// Servers frequently omit Content-Length, so completion percentages are
// estimated from the downloaded byte count with a bucketed heuristic that
// grows more confident as the file grows. The reported figure is clamped
// below 100 until completion is confirmed and never jumps backwards by more
// than a couple of points.
//
// # Stall recovery
//
// Every cached track gets one monitor goroutine (duplicates are suppressed)
// polling on a fixed cadence. A download whose percentage flatlines, or a
// meaningful partial with no active downloader, is resumed exactly once from
// the current on-disk offset using the retained upstream URL.
package cache
