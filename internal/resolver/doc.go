// Package resolver turns a track identity into a playable URI by running an
// ordered set of independent backend strategies.
//
// # Cascade
//
// Known single-backend sources resolve exclusively: only the dedicated
// strategy runs and its failure is surfaced as-is, so unrelated backends are
// never probed for ids they cannot know. Everything else goes through a
// race over the head of the priority list, then a sequential pass over the
// full list on race failure:
//
//	r := resolver.New(strategies, exclusive, cacheFn, cfg, logger)
//	uri, err := r.Resolve(ctx, key)
//
// # Post-processing
//
// Strategies whose backends serve short-lived URLs report RequiresCaching.
// Their winning URLs are routed through the injected CacheFn before being
// returned, so callers always receive something the player can rely on.
package resolver
