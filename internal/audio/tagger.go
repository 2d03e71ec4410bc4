package audio

import (
	"os"

	"github.com/bogem/id3v2"

	"github.com/veliu/trackcache/internal/model"
)

// TagConfig controls what the Tagger writes onto completed cache files.
type TagConfig struct {
	// ModifyTags is the master switch. If false, no text frames are written.
	ModifyTags bool

	// EmbedArtwork controls whether cover art is embedded when available.
	EmbedArtwork bool
}

// DefaultTagConfig returns the default tag configuration: text frames and
// artwork both enabled.
func DefaultTagConfig() *TagConfig {
	return &TagConfig{ModifyTags: true, EmbedArtwork: true}
}

// Tagger stamps ID3 metadata onto fully cached MP3 files.
//
// Cache files are named by track key, not by title, so without tags a media
// player shows an opaque identifier. The tagger runs once per track, after
// the download completes and validates, and only when metadata for the
// track is actually known.
//
// Example:
//
//	tagger := audio.NewTagger(audio.DefaultTagConfig())
//	err := tagger.Tag("/cache/youtube_abc.mp3", meta, jpegBytes)
type Tagger struct {
	config *TagConfig
}

// NewTagger creates a Tagger. A nil config means DefaultTagConfig.
func NewTagger(config *TagConfig) *Tagger {
	if config == nil {
		config = DefaultTagConfig()
	}
	return &Tagger{config: config}
}

// Tag writes the track's metadata onto the MP3 at path.
//
// Existing frames for the written fields are replaced; everything else in
// the file is left alone. artwork, when non-nil, must be JPEG bytes and is
// embedded as the front cover.
func (t *Tagger) Tag(path string, meta model.TrackMeta, artwork []byte) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		if os.IsNotExist(err) {
			return err
		}
		// Unparseable existing tags: start fresh rather than fail the track.
		tag = id3v2.NewEmptyTag()
	}
	defer tag.Close()

	if t.config.ModifyTags {
		if meta.Title != "" {
			tag.SetTitle(meta.Title)
		}
		if meta.Artist != "" {
			tag.SetArtist(meta.Artist)
		}
	}

	if t.config.EmbedArtwork && artwork != nil {
		t.updateArtwork(tag, artwork)
	}

	return tag.Save()
}

// updateArtwork replaces any existing attached pictures with the new front
// cover.
func (t *Tagger) updateArtwork(tag *id3v2.Tag, artwork []byte) {
	tag.DeleteFrames(tag.CommonID("Attached picture"))

	pic := id3v2.PictureFrame{
		Encoding:    id3v2.EncodingUTF8,
		MimeType:    "image/jpeg",
		PictureType: id3v2.PTFrontCover,
		Description: "Cover",
		Picture:     artwork,
	}
	tag.AddAttachedPicture(pic)
}
