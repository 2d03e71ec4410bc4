package model

import (
	"fmt"
	"regexp"
	"strings"
)

// Source identifies the upstream backend namespace a track id belongs to.
//
// The same opaque id can mean different things on different backends, so a
// track is only fully identified by the (id, source) pair. Sources with a
// single authoritative resolver are handled exclusively by that resolver;
// everything else goes through the generic fallback chain.
type Source string

const (
	// SourceYouTube identifies tracks whose id is a video id on a
	// video-hosting backend. Resolution is exclusive to the YouTube
	// strategy and the resulting stream is always cached before playback.
	SourceYouTube Source = "youtube"

	// SourceAudius identifies tracks from the Audius music aggregator.
	// Resolution is exclusive to the Audius strategy.
	SourceAudius Source = "audius"

	// SourceJamendo identifies tracks from the Jamendo catalog.
	SourceJamendo Source = "jamendo"

	// SourceArchive identifies tracks hosted on archive.org items.
	SourceArchive Source = "archive"

	// SourceUnknown marks tracks with no declared backend. All strategies
	// are eligible in priority order.
	SourceUnknown Source = ""
)

// TrackKey is the identity of a track across the whole engine.
//
// Every cache file, progress record and monitor is keyed by it. The string
// rendering is stable and filesystem-safe, so it doubles as the cache
// filename stem.
//
// Example:
//
//	key := model.TrackKey{ID: "dQw4w9WgXcQ", Source: model.SourceYouTube}
//	key.String() // "youtube:dQw4w9WgXcQ"
//	key.FileStem() // "youtube_dQw4w9WgXcQ"
type TrackKey struct {
	// ID is the opaque track identifier within the source's namespace.
	ID string

	// Source disambiguates id namespaces across backends.
	Source Source
}

// String renders the key as a single map/cache key.
func (k TrackKey) String() string {
	if k.Source == SourceUnknown {
		return k.ID
	}
	return fmt.Sprintf("%s:%s", k.Source, k.ID)
}

// FileStem returns a filesystem-safe rendering of the key, used as the
// cache filename without extension.
func (k TrackKey) FileStem() string {
	return sanitizeComponent(string(k.Source) + "_" + k.ID)
}

// Valid reports whether the key carries a usable id.
func (k TrackKey) Valid() bool {
	return strings.TrimSpace(k.ID) != ""
}

// TrackMeta carries optional display metadata for a track.
//
// It is not required for resolution; when present it is stamped onto the
// fully cached file as ID3 tags so offline copies stay identifiable.
type TrackMeta struct {
	// Title is the track title, if known.
	Title string

	// Artist is the performing artist, if known.
	Artist string

	// ArtworkURL points at cover art to embed, if any.
	ArtworkURL string
}

// HasArtwork returns true when cover art is available for embedding.
func (m TrackMeta) HasArtwork() bool {
	return m.ArtworkURL != ""
}

// sanitizeComponent replaces characters that are invalid in file names.
//
// Mirrors the rules applied to downloaded album files: invalid path
// characters and control characters become underscores, trailing dots and
// whitespace are stripped.
func sanitizeComponent(name string) string {
	invalidChars := regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	name = invalidChars.ReplaceAllString(name, "_")

	name = regexp.MustCompile(`\.+$`).ReplaceAllString(name, "")
	name = regexp.MustCompile(`\s+`).ReplaceAllString(name, " ")

	return strings.TrimRight(name, " ")
}
