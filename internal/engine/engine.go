package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/veliu/trackcache/internal/audio"
	"github.com/veliu/trackcache/internal/cache"
	"github.com/veliu/trackcache/internal/config"
	httpx "github.com/veliu/trackcache/internal/http"
	ioutils "github.com/veliu/trackcache/internal/io"
	"github.com/veliu/trackcache/internal/model"
	"github.com/veliu/trackcache/internal/resolver"
)

// StatusLevel indicates the severity/type of a status message.
type StatusLevel int

const (
	LevelInfo StatusLevel = iota
	LevelVerbose
	LevelWarning
	LevelError
	LevelSuccess
)

// StatusEvent is a human-readable progress update for the UI layer.
type StatusEvent struct {
	Message string
	Level   StatusLevel
}

// Engine is the public face of the resolver and cache machinery.
//
// One Engine instance owns one cache directory, one HTTP client and one set
// of strategies; everything is injected at construction, nothing is global.
//
// Example:
//
//	eng, err := engine.New(settings, logger, func(ev engine.StatusEvent) {
//	    fmt.Println(ev.Message)
//	})
//	uri, err := eng.ResolveAudioURI(ctx, key, meta, nil)
type Engine struct {
	settings *config.Settings
	client   *httpx.Client
	resolver *resolver.Resolver
	manager  *cache.Manager
	tagger   *audio.Tagger
	images   *ioutils.ImageService
	log      zerolog.Logger

	onStatus func(StatusEvent)
	sf       singleflight.Group

	mu      sync.Mutex
	meta    map[string]model.TrackMeta
	library map[string]audio.PlaylistEntry

	pfMu    sync.Mutex
	pfQueue []model.TrackKey
	pfKick  chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// New builds an Engine from settings. The cache directory candidates are
// probed immediately; construction fails if none is writable.
func New(settings *config.Settings, log zerolog.Logger, onStatus func(StatusEvent)) (*Engine, error) {
	client := httpx.NewClient(httpx.ClientConfig{
		UserAgent: settings.UserAgent,
		Proxies:   settings.Proxies,
		Retries:   settings.FetchRetries,
		Backoff:   settings.BackoffBase.Std(),
		MaxJitter: settings.BackoffMaxJitter.Std(),
		Timeout:   settings.RequestTimeout.Std(),
	})

	manager, err := cache.NewManager(settings, client, log)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		settings: settings,
		client:   client,
		manager:  manager,
		tagger: audio.NewTagger(&audio.TagConfig{
			ModifyTags:   settings.ModifyTags,
			EmbedArtwork: settings.EmbedArtwork,
		}),
		images:   ioutils.NewImageService(),
		log:      log,
		onStatus: onStatus,
		meta:     make(map[string]model.TrackMeta),
		library:  make(map[string]audio.PlaylistEntry),
		pfKick:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	youtube := resolver.NewYouTubeStrategy(client, settings.YouTubeHosts)
	audius := resolver.NewAudiusStrategy(client, settings.AudiusHosts)
	strategies := []resolver.Strategy{
		youtube,
		audius,
		resolver.NewJamendoStrategy(client, settings.JamendoHosts, settings.JamendoClientID),
		resolver.NewArchiveStrategy(client, settings.ArchiveHosts),
	}
	exclusive := map[model.Source]resolver.Strategy{
		model.SourceYouTube: youtube,
		model.SourceAudius:  audius,
	}
	e.resolver = resolver.New(strategies, exclusive, e.cacheStream, resolver.Config{
		RaceSize:        settings.RaceSize,
		StrategyTimeout: settings.StrategyTimeout.Std(),
	}, log)

	manager.OnComplete(e.handleComplete)

	go e.prefetchWorker()
	go e.janitor()

	return e, nil
}

// ResolveAudioURI resolves a playable URI for the track, starting a
// progressive cache when the winning backend needs one.
//
// Concurrent calls for the same track are deduplicated: only one resolution
// runs and every caller gets its result. onStatus, when non-nil, overrides
// the engine-level callback for this call.
func (e *Engine) ResolveAudioURI(ctx context.Context, key model.TrackKey, meta model.TrackMeta, onStatus func(StatusEvent)) (string, error) {
	if !key.Valid() {
		return "", fmt.Errorf("invalid track key %q", key.String())
	}
	status := e.statusFn(onStatus)

	e.mu.Lock()
	e.meta[key.String()] = meta
	e.mu.Unlock()

	uri, err, _ := e.sf.Do(key.String(), func() (interface{}, error) {
		if info := e.manager.GetCacheInfo(key); info.IsFullyCached {
			if path, ok := e.manager.BestCachedPath(key); ok {
				status(StatusEvent{Message: fmt.Sprintf("Serving %s from cache (%s)", key, humanize.Bytes(uint64(info.FileSize))), Level: LevelVerbose})
				return path, nil
			}
		}

		resolveCtx := ctx
		if e.settings.OverallTimeout > 0 {
			var cancel context.CancelFunc
			resolveCtx, cancel = context.WithTimeout(ctx, e.settings.OverallTimeout.Std())
			defer cancel()
		}

		status(StatusEvent{Message: fmt.Sprintf("Resolving %s", key), Level: LevelVerbose})
		start := time.Now()
		uri, err := e.resolver.Resolve(resolveCtx, key)
		if err != nil {
			status(StatusEvent{Message: fmt.Sprintf("Resolution failed for %s: %v", key, err), Level: LevelError})
			return "", err
		}
		status(StatusEvent{Message: fmt.Sprintf("Resolved %s in %s", key, time.Since(start).Round(time.Millisecond)), Level: LevelInfo})
		return uri, nil
	})
	if err != nil {
		return "", err
	}
	return uri.(string), nil
}

// cacheStream is the resolver's post-processing hook for backends whose URLs
// expire. A cache failure is not a resolution failure: the raw URL still
// plays, so it is returned as a fallback and only the caching is lost.
func (e *Engine) cacheStream(ctx context.Context, key model.TrackKey, rawURL string) (string, error) {
	path, err := e.manager.CacheRemoteStream(ctx, key, rawURL)
	if err != nil {
		e.log.Warn().Str("track", key.String()).Err(err).Msg("progressive cache unavailable, serving remote URL")
		e.status(StatusEvent{Message: fmt.Sprintf("Caching unavailable for %s, playing from remote", key), Level: LevelWarning})
		return rawURL, nil
	}
	e.status(StatusEvent{Message: fmt.Sprintf("Caching %s progressively", key), Level: LevelVerbose})
	return path, nil
}

// Prefetch queues a track for background resolution and caching. The queue
// is bounded: when full, the oldest queued track is dropped in favour of the
// new one, since the newest request reflects what the user is about to play.
func (e *Engine) Prefetch(key model.TrackKey) {
	if !key.Valid() {
		return
	}

	e.pfMu.Lock()
	for _, queued := range e.pfQueue {
		if queued == key {
			e.pfMu.Unlock()
			return
		}
	}
	if len(e.pfQueue) >= e.settings.PrefetchQueueCap {
		dropped := e.pfQueue[0]
		e.pfQueue = e.pfQueue[1:]
		e.log.Debug().Str("track", dropped.String()).Msg("prefetch queue full, dropping oldest")
	}
	e.pfQueue = append(e.pfQueue, key)
	e.pfMu.Unlock()

	select {
	case e.pfKick <- struct{}{}:
	default:
	}
}

// prefetchWorker drains the prefetch queue one track at a time.
func (e *Engine) prefetchWorker() {
	for {
		select {
		case <-e.done:
			return
		case <-e.pfKick:
		}

		for {
			e.pfMu.Lock()
			if len(e.pfQueue) == 0 {
				e.pfMu.Unlock()
				break
			}
			key := e.pfQueue[0]
			e.pfQueue = e.pfQueue[1:]
			e.pfMu.Unlock()

			jobID := uuid.NewString()
			log := e.log.With().Str("job", jobID).Str("track", key.String()).Logger()
			log.Debug().Msg("prefetch started")

			var ctx context.Context
			var cancel context.CancelFunc
			if e.settings.OverallTimeout > 0 {
				ctx, cancel = context.WithTimeout(context.Background(), e.settings.OverallTimeout.Std())
			} else {
				ctx, cancel = context.WithCancel(context.Background())
			}
			if _, err := e.ResolveAudioURI(ctx, key, model.TrackMeta{}, nil); err != nil {
				log.Debug().Err(err).Msg("prefetch failed")
			}
			cancel()
		}
	}
}

// janitor periodically sweeps stale progress records.
func (e *Engine) janitor() {
	window := e.settings.ProgressStaleAfter.Std()
	if window <= 0 {
		return
	}
	ticker := time.NewTicker(window / 2)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			e.manager.SweepStale()
		}
	}
}

// GetCacheInfo returns the cache state for a track.
func (e *Engine) GetCacheInfo(key model.TrackKey) model.CacheInfo {
	return e.manager.GetCacheInfo(key)
}

// ClearCache removes a single track's cache file and state.
func (e *Engine) ClearCache(key model.TrackKey) error {
	e.mu.Lock()
	delete(e.library, key.String())
	delete(e.meta, key.String())
	e.mu.Unlock()
	return e.manager.ClearTrack(key)
}

// ClearAllCache wipes the cache directory and all track state.
func (e *Engine) ClearAllCache() error {
	e.mu.Lock()
	e.library = make(map[string]audio.PlaylistEntry)
	e.meta = make(map[string]model.TrackMeta)
	e.mu.Unlock()
	return e.manager.ClearAll()
}

// ExportPlaylist writes the fully cached tracks of this session as a
// playlist file in the cache directory and returns its path.
func (e *Engine) ExportPlaylist(format audio.PlaylistFormat) (string, error) {
	writer := audio.NewPlaylistWriter(format, true)

	e.mu.Lock()
	entries := make([]audio.PlaylistEntry, 0, len(e.library))
	for _, entry := range e.library {
		entries = append(entries, entry)
	}
	e.mu.Unlock()

	if len(entries) == 0 {
		return "", fmt.Errorf("no fully cached tracks to export")
	}

	path := filepath.Join(e.manager.Dir(), "offline."+writer.Extension())
	if err := ioutils.WriteFileAtomic(path, []byte(writer.Render(entries))); err != nil {
		return "", err
	}
	return path, nil
}

// Shutdown stops the prefetcher, monitors and janitor, deletes all cached
// files and clears state.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.closeOnce.Do(func() { close(e.done) })
	e.manager.Close()
	return e.ClearAllCache()
}

// handleComplete runs after a track finishes caching: stamp ID3 metadata,
// remember the track for playlist export, tell the user.
func (e *Engine) handleComplete(key model.TrackKey, path string) {
	e.mu.Lock()
	meta := e.meta[key.String()]
	e.library[key.String()] = audio.PlaylistEntry{Path: path, Title: meta.Title, Artist: meta.Artist}
	e.mu.Unlock()

	size := ioutils.FileSize(path)
	e.status(StatusEvent{Message: fmt.Sprintf("Fully cached %s (%s)", key, humanize.Bytes(uint64(size))), Level: LevelSuccess})

	if !e.settings.ModifyTags && !e.settings.EmbedArtwork {
		return
	}
	if meta.Title == "" && meta.Artist == "" && !meta.HasArtwork() {
		return
	}

	var artwork []byte
	if e.settings.EmbedArtwork && meta.HasArtwork() {
		artwork = e.fetchArtwork(meta.ArtworkURL)
	}

	if err := e.tagger.Tag(path, meta, artwork); err != nil {
		e.log.Warn().Str("track", key.String()).Err(err).Msg("tagging failed")
	}
}

// fetchArtwork downloads and normalizes cover art for embedding. Failures
// are tolerated: the track is already cached, artwork is a bonus.
func (e *Engine) fetchArtwork(artworkURL string) []byte {
	ctx, cancel := context.WithTimeout(context.Background(), e.settings.RequestTimeout.Std())
	defer cancel()

	data, err := e.client.FetchResilient(ctx, artworkURL, nil)
	if err != nil {
		e.log.Debug().Str("url", artworkURL).Err(err).Msg("artwork fetch failed")
		return nil
	}

	if e.settings.ArtworkMaxSize > 0 {
		if resized, err := e.images.ResizeImage(data, e.settings.ArtworkMaxSize, e.settings.ArtworkMaxSize); err == nil {
			data = resized
		}
	}
	if e.settings.ConvertArtworkJPG {
		if converted, err := e.images.ConvertToJPEG(data); err == nil {
			data = converted
		}
	}
	return data
}

// status emits a StatusEvent through the engine-level callback.
func (e *Engine) status(event StatusEvent) {
	if e.onStatus != nil {
		e.onStatus(event)
	}
}

// statusFn picks the per-call callback when given, the engine-level one
// otherwise.
func (e *Engine) statusFn(override func(StatusEvent)) func(StatusEvent) {
	if override != nil {
		return override
	}
	return func(event StatusEvent) { e.status(event) }
}

// queuedPrefetches returns a copy of the pending prefetch queue.
func (e *Engine) queuedPrefetches() []model.TrackKey {
	e.pfMu.Lock()
	defer e.pfMu.Unlock()
	return append([]model.TrackKey(nil), e.pfQueue...)
}

// CacheDir returns the engine's resolved cache directory.
func (e *Engine) CacheDir() string { return e.manager.Dir() }
