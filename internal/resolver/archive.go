package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	httpx "github.com/veliu/trackcache/internal/http"
	"github.com/veliu/trackcache/internal/model"
)

// ArchiveStrategy resolves tracks stored as archive.org items. Last resort
// of the generic fallback chain.
type ArchiveStrategy struct {
	client *httpx.Client
	hosts  []string
}

// NewArchiveStrategy creates the strategy.
func NewArchiveStrategy(client *httpx.Client, hosts []string) *ArchiveStrategy {
	return &ArchiveStrategy{client: client, hosts: hosts}
}

// Name implements Strategy.
func (s *ArchiveStrategy) Name() string { return "archive" }

// RequiresCaching implements Strategy.
func (s *ArchiveStrategy) RequiresCaching() bool { return false }

// Resolve fetches the item's file metadata and returns the download URL of
// the best audio file it contains. VBR/320 MP3 derivations are preferred
// over originals because they stream without transcoding.
func (s *ArchiveStrategy) Resolve(ctx context.Context, key model.TrackKey) (string, error) {
	var lastErr error
	for _, host := range s.hosts {
		endpoint := fmt.Sprintf("%s/metadata/%s", host, key.ID)

		body, err := s.client.FetchResilient(ctx, endpoint, &httpx.FetchOptions{ExpectJSON: true})
		if err != nil {
			lastErr = err
			continue
		}

		name := bestArchiveFile(gjson.GetBytes(body, "files"))
		if name == "" {
			lastErr = fmt.Errorf("item has no audio files")
			continue
		}
		return fmt.Sprintf("%s/download/%s/%s", host, key.ID, url.PathEscape(name)), nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no archive hosts configured")
	}
	return "", &StrategyError{Strategy: s.Name(), Key: key, Cause: lastErr}
}

// audio formats in preference order; lower index wins
var archiveFormatRank = []string{"vbr mp3", "320kbps mp3", "mp3", "ogg vorbis", "flac"}

// bestArchiveFile picks the most suitable audio file from an item's files
// array.
func bestArchiveFile(files gjson.Result) string {
	bestRank := len(archiveFormatRank)
	bestName := ""

	files.ForEach(func(_, file gjson.Result) bool {
		format := strings.ToLower(file.Get("format").String())
		name := file.Get("name").String()
		if name == "" {
			return true
		}
		for rank, want := range archiveFormatRank {
			if strings.Contains(format, want) && rank < bestRank {
				bestRank = rank
				bestName = name
				break
			}
		}
		return true
	})

	return bestName
}
