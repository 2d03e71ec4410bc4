package audio

import (
	"fmt"
	"path/filepath"
	"strings"
)

// PlaylistFormat represents supported playlist file formats.
type PlaylistFormat int

const (
	// FormatM3U creates .m3u files (most compatible).
	// Can be extended with EXTINF lines carrying artist/title info.
	FormatM3U PlaylistFormat = iota

	// FormatPLS creates .pls files (Winamp/SHOUTcast format).
	FormatPLS
)

// PlaylistEntry is one fully cached track in an exported playlist.
type PlaylistEntry struct {
	// Path is the cache file location. Playlist output references only the
	// base name, assuming the playlist sits in the cache directory.
	Path string

	// Title and Artist are optional display metadata.
	Title  string
	Artist string
}

// PlaylistWriter exports the offline library as a playlist file.
//
// Only fully cached tracks belong in the export: a partial file would play
// and then cut off mid-track, which reads as corruption to the listener.
// Filtering to complete tracks is the caller's job; the writer just formats.
//
// Example:
//
//	w := audio.NewPlaylistWriter(audio.FormatM3U, true)
//	content := w.Render(entries)
//	os.WriteFile(filepath.Join(cacheDir, "offline.m3u"), []byte(content), 0644)
type PlaylistWriter struct {
	format   PlaylistFormat
	extended bool // M3U only: include #EXTINF lines
}

// NewPlaylistWriter creates a PlaylistWriter. extended is honoured only for
// the M3U format.
func NewPlaylistWriter(format PlaylistFormat, extended bool) *PlaylistWriter {
	return &PlaylistWriter{format: format, extended: extended}
}

// Extension returns the file extension for the writer's format, without the
// dot.
func (w *PlaylistWriter) Extension() string {
	if w.format == FormatPLS {
		return "pls"
	}
	return "m3u"
}

// Render produces the playlist file content for the given entries.
func (w *PlaylistWriter) Render(entries []PlaylistEntry) string {
	if w.format == FormatPLS {
		return w.renderPLS(entries)
	}
	return w.renderM3U(entries)
}

// renderM3U generates plain or extended M3U output:
//
//	#EXTM3U
//	#EXTINF:-1,Artist - Title
//	youtube_abc.mp3
//
// Durations are unknown for progressively cached streams, so EXTINF always
// carries -1.
func (w *PlaylistWriter) renderM3U(entries []PlaylistEntry) string {
	var sb strings.Builder

	if w.extended {
		sb.WriteString("#EXTM3U\n")
	}
	for _, e := range entries {
		if w.extended {
			sb.WriteString(fmt.Sprintf("#EXTINF:-1,%s\n", displayName(e)))
		}
		sb.WriteString(filepath.Base(e.Path) + "\n")
	}

	return sb.String()
}

// renderPLS generates INI-style PLS output:
//
//	[playlist]
//	File1=youtube_abc.mp3
//	Title1=Artist - Title
//	NumberOfEntries=1
//	Version=2
func (w *PlaylistWriter) renderPLS(entries []PlaylistEntry) string {
	var sb strings.Builder

	sb.WriteString("[playlist]\n")
	for i, e := range entries {
		idx := i + 1
		sb.WriteString(fmt.Sprintf("File%d=%s\n", idx, filepath.Base(e.Path)))
		sb.WriteString(fmt.Sprintf("Title%d=%s\n", idx, displayName(e)))
	}
	sb.WriteString(fmt.Sprintf("NumberOfEntries=%d\n", len(entries)))
	sb.WriteString("Version=2\n")

	return sb.String()
}

// displayName renders "Artist - Title" with whichever parts are known,
// falling back to the file name.
func displayName(e PlaylistEntry) string {
	switch {
	case e.Artist != "" && e.Title != "":
		return e.Artist + " - " + e.Title
	case e.Title != "":
		return e.Title
	default:
		return strings.TrimSuffix(filepath.Base(e.Path), filepath.Ext(e.Path))
	}
}
