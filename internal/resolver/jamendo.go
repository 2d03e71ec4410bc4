package resolver

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	httpx "github.com/veliu/trackcache/internal/http"
	"github.com/veliu/trackcache/internal/model"
)

// JamendoStrategy resolves tracks from the Jamendo catalog API. It sits in
// the generic fallback chain; Jamendo-tagged tracks simply get it first in
// priority order.
type JamendoStrategy struct {
	client   *httpx.Client
	hosts    []string
	clientID string
}

// NewJamendoStrategy creates the strategy.
func NewJamendoStrategy(client *httpx.Client, hosts []string, clientID string) *JamendoStrategy {
	return &JamendoStrategy{client: client, hosts: hosts, clientID: clientID}
}

// Name implements Strategy.
func (s *JamendoStrategy) Name() string { return "jamendo" }

// RequiresCaching implements Strategy.
func (s *JamendoStrategy) RequiresCaching() bool { return false }

// Resolve looks the track up in the catalog and returns its audio URL,
// preferring the mp32 (high quality VBR) encoding the API serves by default.
func (s *JamendoStrategy) Resolve(ctx context.Context, key model.TrackKey) (string, error) {
	var lastErr error
	for _, host := range s.hosts {
		endpoint := fmt.Sprintf("%s/tracks/?client_id=%s&format=json&id=%s&audioformat=mp32",
			host, s.clientID, key.ID)

		body, err := s.client.FetchResilient(ctx, endpoint, &httpx.FetchOptions{ExpectJSON: true})
		if err != nil {
			lastErr = err
			continue
		}

		audio := gjson.GetBytes(body, "results.0.audio").String()
		if audio == "" {
			lastErr = fmt.Errorf("track not in catalog")
			continue
		}
		return audio, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no catalog hosts configured")
	}
	return "", &StrategyError{Strategy: s.Name(), Key: key, Cause: lastErr}
}
