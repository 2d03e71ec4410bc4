package resolver

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/veliu/trackcache/internal/model"
)

// CacheFn turns a raw upstream URL into a playable reference, typically by
// starting a progressive cache and returning the local path. Injected by the
// engine so the resolver never depends on cache internals.
type CacheFn func(ctx context.Context, key model.TrackKey, rawURL string) (string, error)

// Config tunes a Resolver.
type Config struct {
	// RaceSize is how many strategies from the head of the eligible list
	// race concurrently before falling back to the sequential pass.
	RaceSize int

	// StrategyTimeout bounds each racing strategy individually, so one
	// slow backend cannot stall the others. Shorter than the overall
	// operation timeout by design.
	StrategyTimeout time.Duration
}

// Resolver runs the strategy set against a track identity.
//
// Resolution has three modes:
//   - Exclusive: sources with a single authoritative backend (YouTube,
//     Audius) run only that strategy, and its failure is surfaced directly.
//   - Race: the first RaceSize eligible strategies run concurrently and the
//     lowest-latency success wins.
//   - Sequential: on race failure, the full eligible list runs in priority
//     order, aggregating every failure reason.
type Resolver struct {
	strategies []Strategy
	exclusive  map[model.Source]Strategy
	preferred  map[model.Source]string
	cacheFn    CacheFn
	cfg        Config
	log        zerolog.Logger
}

// New creates a Resolver over the given strategy set, in priority order.
//
// exclusive maps a source to the only strategy allowed to resolve it. The
// asymmetry between exclusive sources and fallback-chain sources is
// deliberate: it encodes how much each backend is trusted to be the single
// best resolver for its own ids.
func New(strategies []Strategy, exclusive map[model.Source]Strategy, cacheFn CacheFn, cfg Config, log zerolog.Logger) *Resolver {
	if cfg.RaceSize <= 0 {
		cfg.RaceSize = 3
	}
	if cfg.StrategyTimeout <= 0 {
		cfg.StrategyTimeout = 3 * time.Second
	}

	preferred := map[model.Source]string{
		model.SourceJamendo: "jamendo",
		model.SourceArchive: "archive",
	}

	return &Resolver{
		strategies: strategies,
		exclusive:  exclusive,
		preferred:  preferred,
		cacheFn:    cacheFn,
		cfg:        cfg,
		log:        log,
	}
}

// Resolve obtains a playable URI for the track, applying the exclusive /
// race / sequential cascade. The error is a *StrategyError for exclusive
// sources and *AllStrategiesFailed for exhausted chains.
func (r *Resolver) Resolve(ctx context.Context, key model.TrackKey) (string, error) {
	if s, ok := r.exclusive[key.Source]; ok {
		r.log.Debug().Str("track", key.String()).Str("strategy", s.Name()).Msg("exclusive resolution")
		rawURL, err := s.Resolve(ctx, key)
		if err != nil {
			return "", err
		}
		return r.postProcess(ctx, key, s, rawURL)
	}

	if url, ok := r.Race(ctx, key); ok {
		return url, nil
	}
	return r.Sequential(ctx, key)
}

// Race runs the first RaceSize eligible strategies concurrently and returns
// the lowest-latency success, post-processed into a playable reference.
//
// Failures are dropped silently at this stage; the sequential pass retries
// everything anyway, so the error detail is not needed yet. Strategies that
// exceed their individual timeout are excluded even if they would eventually
// succeed.
func (r *Resolver) Race(ctx context.Context, key model.TrackKey) (string, bool) {
	eligible := r.eligibleFor(key)
	if len(eligible) == 0 {
		return "", false
	}
	racers := eligible
	if len(racers) > r.cfg.RaceSize {
		racers = racers[:r.cfg.RaceSize]
	}

	var (
		mu      sync.Mutex
		results []model.StrategyResult
	)

	g := new(errgroup.Group)
	for _, s := range racers {
		s := s
		g.Go(func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.StrategyTimeout)
			defer cancel()

			start := time.Now()
			url, err := s.Resolve(attemptCtx, key)
			if err != nil {
				return nil // dropped; sequential pass will retry
			}

			mu.Lock()
			results = append(results, model.StrategyResult{
				URL:          url,
				Latency:      time.Since(start),
				StrategyName: s.Name(),
			})
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	if len(results) == 0 {
		return "", false
	}

	winner := results[0]
	for _, res := range results[1:] {
		if res.Latency < winner.Latency {
			winner = res
		}
	}
	r.log.Debug().
		Str("track", key.String()).
		Str("strategy", winner.StrategyName).
		Dur("latency", winner.Latency).
		Int("successes", len(results)).
		Msg("race resolved")

	url, err := r.postProcess(ctx, key, r.byName(winner.StrategyName), winner.URL)
	if err != nil {
		return "", false
	}
	return url, true
}

// Sequential runs the full eligible strategy list in fixed priority order,
// returning the first success or an *AllStrategiesFailed aggregating every
// reason.
func (r *Resolver) Sequential(ctx context.Context, key model.TrackKey) (string, error) {
	eligible := r.eligibleFor(key)

	var reasons []string
	for _, s := range eligible {
		url, err := s.Resolve(ctx, key)
		if err != nil {
			reasons = append(reasons, err.Error())
			continue
		}
		return r.postProcess(ctx, key, s, url)
	}

	return "", &AllStrategiesFailed{Key: key, Reasons: reasons}
}

// eligibleFor returns the strategies allowed to resolve the key, in priority
// order. Exclusive sources get exactly one; non-exclusive sources with a
// matching strategy get it promoted to the front of the chain.
func (r *Resolver) eligibleFor(key model.TrackKey) []Strategy {
	if s, ok := r.exclusive[key.Source]; ok {
		return []Strategy{s}
	}

	prefName := r.preferred[key.Source]
	if prefName == "" {
		return r.strategies
	}

	ordered := make([]Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		if s.Name() == prefName {
			ordered = append([]Strategy{s}, ordered...)
		} else {
			ordered = append(ordered, s)
		}
	}
	return ordered
}

// byName finds a strategy by name. Only called with names taken from the
// strategy set itself.
func (r *Resolver) byName(name string) Strategy {
	for _, s := range r.strategies {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// postProcess routes URLs from backends that require caching through the
// cache manager, so callers always receive a playable reference rather than
// a raw short-lived upstream URL.
func (r *Resolver) postProcess(ctx context.Context, key model.TrackKey, s Strategy, rawURL string) (string, error) {
	if s == nil || !s.RequiresCaching() || r.cacheFn == nil {
		return rawURL, nil
	}
	return r.cacheFn(ctx, key, rawURL)
}
