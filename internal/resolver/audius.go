package resolver

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	httpx "github.com/veliu/trackcache/internal/http"
	"github.com/veliu/trackcache/internal/model"
)

const audiusAppName = "trackcache"

// AudiusStrategy resolves tracks through Audius discovery providers.
//
// It is the exclusive strategy for SourceAudius. The discovery node's stream
// endpoint serves the audio directly (following its own CDN redirects), so
// its URLs are playable without mandatory caching.
type AudiusStrategy struct {
	client *httpx.Client
	hosts  []string
}

// NewAudiusStrategy creates the strategy with the configured discovery
// provider list.
func NewAudiusStrategy(client *httpx.Client, hosts []string) *AudiusStrategy {
	return &AudiusStrategy{client: client, hosts: hosts}
}

// Name implements Strategy.
func (s *AudiusStrategy) Name() string { return "audius" }

// RequiresCaching implements Strategy.
func (s *AudiusStrategy) RequiresCaching() bool { return false }

// Resolve confirms the track exists and is streamable on a discovery
// provider, then returns that provider's stream endpoint for it.
func (s *AudiusStrategy) Resolve(ctx context.Context, key model.TrackKey) (string, error) {
	var lastErr error
	for _, host := range s.hosts {
		metaURL := fmt.Sprintf("%s/v1/tracks/%s?app_name=%s", host, key.ID, audiusAppName)

		body, err := s.client.FetchResilient(ctx, metaURL, &httpx.FetchOptions{ExpectJSON: true})
		if err != nil {
			lastErr = err
			continue
		}

		track := gjson.GetBytes(body, "data")
		if !track.Exists() {
			lastErr = fmt.Errorf("track not found on discovery provider")
			continue
		}
		if track.Get("is_streamable").Exists() && !track.Get("is_streamable").Bool() {
			return "", &StrategyError{
				Strategy: s.Name(),
				Key:      key,
				Cause:    fmt.Errorf("track is not streamable"),
			}
		}

		return fmt.Sprintf("%s/v1/tracks/%s/stream?app_name=%s", host, key.ID, audiusAppName), nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no discovery providers configured")
	}
	return "", &StrategyError{Strategy: s.Name(), Key: key, Cause: lastErr}
}
