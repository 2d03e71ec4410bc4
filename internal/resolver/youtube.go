package resolver

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	httpx "github.com/veliu/trackcache/internal/http"
	"github.com/veliu/trackcache/internal/model"
)

// YouTubeStrategy resolves video-hosting track ids through Piped-compatible
// mirror APIs.
//
// It is the exclusive strategy for SourceYouTube and its URLs always require
// caching: the googlevideo-style stream URLs it returns are short-lived and
// throttled, so the player is handed a local file instead.
type YouTubeStrategy struct {
	client *httpx.Client
	hosts  []string
}

// NewYouTubeStrategy creates the strategy with the configured mirror list.
// Mirrors are tried in order until one answers.
func NewYouTubeStrategy(client *httpx.Client, hosts []string) *YouTubeStrategy {
	return &YouTubeStrategy{client: client, hosts: hosts}
}

// Name implements Strategy.
func (s *YouTubeStrategy) Name() string { return "youtube" }

// RequiresCaching implements Strategy.
func (s *YouTubeStrategy) RequiresCaching() bool { return true }

// Resolve fetches the stream listing for the video id from the first
// responsive mirror and returns the highest-bitrate audio-only format.
func (s *YouTubeStrategy) Resolve(ctx context.Context, key model.TrackKey) (string, error) {
	var lastErr error
	for _, host := range s.hosts {
		endpoint := fmt.Sprintf("%s/streams/%s", host, key.ID)

		body, err := s.client.FetchResilient(ctx, endpoint, &httpx.FetchOptions{ExpectJSON: true})
		if err != nil {
			lastErr = err
			continue
		}

		url := bestAudioStream(gjson.GetBytes(body, "audioStreams"))
		if url == "" {
			lastErr = fmt.Errorf("no audio formats in mirror response")
			continue
		}
		return url, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no mirrors configured")
	}
	return "", &StrategyError{Strategy: s.Name(), Key: key, Cause: lastErr}
}

// bestAudioStream picks the highest-bitrate audio format from a Piped-style
// audioStreams array.
func bestAudioStream(streams gjson.Result) string {
	var (
		bestURL     string
		bestBitrate int64 = -1
	)
	streams.ForEach(func(_, stream gjson.Result) bool {
		url := stream.Get("url").String()
		if url == "" {
			return true
		}
		if bitrate := stream.Get("bitrate").Int(); bitrate > bestBitrate {
			bestBitrate = bitrate
			bestURL = url
		}
		return true
	})
	return bestURL
}
