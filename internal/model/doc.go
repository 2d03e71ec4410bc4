// Package model defines the core data structures shared across the
// trackcache engine.
//
// # Track identity
//
// A track is identified by a TrackKey, the (id, source) pair that keys every
// cache file, progress record and monitor:
//
//	key := model.TrackKey{ID: "9f3b2c", Source: model.SourceAudius}
//	key.String()   // "audius:9f3b2c", the progress map key
//	key.FileStem() // "audius_9f3b2c", the cache filename stem
//
// # Cache state
//
// CacheProgress is the single-writer mutable download state for one track.
// CacheInfo is the derived, memoized summary handed to callers:
//
//	info := manager.GetCacheInfo(key)
//	fmt.Printf("%.0f%% (%d bytes)\n", info.Percentage, info.FileSize)
//
// # Resolution
//
// StrategyResult captures a single strategy success during race resolution;
// only the lowest-latency result survives.
package model
