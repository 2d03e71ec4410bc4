// Package audio post-processes fully cached tracks: ID3 tag stamping and
// offline-library playlist export.
//
// # ID3 Tagging
//
// Cache files are keyed by track id, so the Tagger gives them back their
// human-readable identity once the download completes:
//
//	tagger := audio.NewTagger(audio.DefaultTagConfig())
//	err := tagger.Tag(path, meta, artworkBytes)
//
// # Playlist Export
//
// The PlaylistWriter renders the set of fully cached tracks as an M3U or
// PLS file the user can drop into any player:
//
//	w := audio.NewPlaylistWriter(audio.FormatM3U, true)
//	content := w.Render(entries)
package audio
