package cache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/veliu/trackcache/internal/config"
	httpx "github.com/veliu/trackcache/internal/http"
	ioutils "github.com/veliu/trackcache/internal/io"
	"github.com/veliu/trackcache/internal/model"
)

// cachedInfo is one memoized GetCacheInfo result.
type cachedInfo struct {
	info model.CacheInfo
	at   time.Time
}

// writerLease is one download loop's claim on a track. The lease context is
// cancelled when the slot is taken over, so a presumed-dead writer that
// revives aborts instead of appending a stale tail onto the file.
type writerLease struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Manager owns the progressive cache: per-track download state, the cache
// directory, background downloaders and stall monitors.
//
// All state mutation goes through the Manager's mutex, and at most one
// download or resume loop owns a track at a time. Readers get memoized
// CacheInfo snapshots rather than the live records.
type Manager struct {
	settings *config.Settings
	client   *httpx.Client
	log      zerolog.Logger
	dir      string

	mu       sync.Mutex
	progress map[string]*model.CacheProgress
	infos    map[string]cachedInfo
	monitors map[string]struct{}
	writers  map[string]*writerLease

	// onComplete runs after a track finishes and validates, outside the lock.
	onComplete func(key model.TrackKey, path string)

	done      chan struct{}
	closeOnce sync.Once
}

// NewManager creates a Manager, probing the cache directory candidates once
// and keeping the first writable one for the process lifetime.
func NewManager(settings *config.Settings, client *httpx.Client, log zerolog.Logger) (*Manager, error) {
	dir, err := ioutils.ProbeWritableDir(settings.CacheDirCandidates)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("dir", dir).Msg("cache directory selected")

	return &Manager{
		settings: settings,
		client:   client,
		log:      log,
		dir:      dir,
		progress: make(map[string]*model.CacheProgress),
		infos:    make(map[string]cachedInfo),
		monitors: make(map[string]struct{}),
		writers:  make(map[string]*writerLease),
		done:     make(chan struct{}),
	}, nil
}

// Dir returns the resolved cache directory.
func (m *Manager) Dir() string { return m.dir }

// OnComplete registers a hook invoked with the track key and file path after
// a download completes and validates. Used for ID3 tagging.
func (m *Manager) OnComplete(fn func(key model.TrackKey, path string)) {
	m.mu.Lock()
	m.onComplete = fn
	m.mu.Unlock()
}

// TrackPath returns the cache file path for a track.
func (m *Manager) TrackPath(key model.TrackKey) string {
	return filepath.Join(m.dir, key.FileStem()+".mp3")
}

// Close stops all monitors. Cached files and progress state are left in
// place; use ClearAll for a full wipe.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

// CacheRemoteStream begins progressively caching rawURL for the track and
// returns the local file path, which is playable while the download is still
// running.
//
// The initial chunk is fetched synchronously so the returned file has
// playable bytes in it; the rest of the stream downloads in the background
// on a detached context, because caching must outlive the resolving
// request. A stall monitor is started alongside.
func (m *Manager) CacheRemoteStream(ctx context.Context, key model.TrackKey, rawURL string) (string, error) {
	path := m.TrackPath(key)

	m.mu.Lock()
	p := m.record(key)
	p.OriginalStreamURL = rawURL
	p.LastUpdate = time.Now()
	if p.WriteFailed {
		m.mu.Unlock()
		return "", &WriteError{Path: path, Err: os.ErrPermission}
	}
	if p.IsFullyCached {
		m.mu.Unlock()
		if _, ok := m.BestCachedPath(key); ok {
			return path, nil
		}
		// File vanished or failed validation; fall through and re-cache.
		m.mu.Lock()
		p = m.record(key)
		p.IsFullyCached = false
	}
	downloading := p.IsDownloading
	m.mu.Unlock()

	if downloading {
		// A writer already owns the track; serve the growing file.
		return path, nil
	}

	if ioutils.FileSize(path) == 0 {
		data, err := m.client.FetchRange(ctx, rawURL, 0, m.settings.InitialChunkSize-1)
		if err != nil {
			return "", err
		}
		if isHLSPayload(data) {
			if err := m.beginHLS(ctx, key, rawURL, path, data); err != nil {
				return "", err
			}
			m.StartMonitor(key)
			return path, nil
		}
		if err := ioutils.AppendFile(path, data); err != nil {
			m.latchWriteFailed(key)
			return "", &WriteError{Path: path, Err: err}
		}
		m.updateTransfer(key, int64(len(data)), 0)
	}

	go m.downloadFull(key, rawURL, path)
	m.StartMonitor(key)
	return path, nil
}

// GetCacheInfo returns the cache state for a track. Results are memoized
// briefly so hot polling loops do not hammer the filesystem.
//
// When no live download state exists the answer comes from a filesystem
// probe, and the candidate file is validated first: a file below the minimum
// valid size or with unreadable leading bytes is deleted as corrupt.
func (m *Manager) GetCacheInfo(key model.TrackKey) model.CacheInfo {
	k := key.String()

	m.mu.Lock()
	if c, ok := m.infos[k]; ok && time.Since(c.at) < m.settings.CacheInfoTTL.Std() {
		m.mu.Unlock()
		return c.info
	}
	if p, ok := m.progress[k]; ok {
		info := model.CacheInfo{
			Percentage:    p.Percentage,
			FileSize:      p.LastFileSize,
			TotalFileSize: p.EstimatedTotalSize,
			IsFullyCached: p.IsFullyCached,
			IsDownloading: p.IsDownloading,
			DownloadSpeed: p.DownloadSpeed,
			RetryCount:    p.RetryCount,
		}
		m.infos[k] = cachedInfo{info: info, at: time.Now()}
		m.mu.Unlock()
		return info
	}
	m.mu.Unlock()

	var info model.CacheInfo
	if path, ok := m.BestCachedPath(key); ok {
		size := ioutils.FileSize(path)
		pct, total := estimatePercentage(size, 0, 0)
		info = model.CacheInfo{Percentage: pct, FileSize: size, TotalFileSize: total}
	}

	m.mu.Lock()
	m.infos[k] = cachedInfo{info: info, at: time.Now()}
	m.mu.Unlock()
	return info
}

// BestCachedPath returns the on-disk path for the track if a valid cache
// file exists. The file is validated, not just stat'd: it must meet the
// minimum size and its leading bytes must be readable. Corrupt candidates
// are deleted so the next download starts clean.
func (m *Manager) BestCachedPath(key model.TrackKey) (string, bool) {
	path := m.TrackPath(key)
	if err := m.validateFile(path); err != nil {
		return "", false
	}
	return path, true
}

// validateFile checks a cache file candidate and deletes it when corrupt.
func (m *Manager) validateFile(path string) error {
	size := ioutils.FileSize(path)
	if size == 0 {
		return &ValidationError{Path: path, Reason: "missing"}
	}
	if size < m.settings.MinValidFileSize {
		m.log.Debug().Str("path", path).Int64("size", size).Msg("deleting undersized cache file")
		os.Remove(path)
		return &ValidationError{Path: path, Reason: "below minimum valid size"}
	}
	if _, err := ioutils.ReadFirstBytes(path, 512); err != nil {
		m.log.Warn().Str("path", path).Err(err).Msg("deleting unreadable cache file")
		os.Remove(path)
		return &ValidationError{Path: path, Reason: "leading bytes unreadable"}
	}
	return nil
}

// ClearTrack removes a track's cache file and all state for it.
func (m *Manager) ClearTrack(key model.TrackKey) error {
	path := m.TrackPath(key)
	os.Remove(path + ".part")
	os.Remove(path + ".resume")
	err := os.Remove(path)
	if os.IsNotExist(err) {
		err = nil
	}

	k := key.String()
	m.mu.Lock()
	delete(m.progress, k)
	delete(m.infos, k)
	m.mu.Unlock()
	return err
}

// ClearAll removes every cached file and resets all state.
func (m *Manager) ClearAll() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		os.Remove(filepath.Join(m.dir, e.Name()))
	}

	m.mu.Lock()
	m.progress = make(map[string]*model.CacheProgress)
	m.infos = make(map[string]cachedInfo)
	m.mu.Unlock()
	return nil
}

// SweepStale resets progress records that have sat idle past the staleness
// window while not downloading. OriginalStreamURL survives the reset so the
// track remains resumable.
func (m *Manager) SweepStale() {
	window := m.settings.ProgressStaleAfter.Std()

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, p := range m.progress {
		if p.IsDownloading || p.IsFullyCached {
			continue
		}
		if time.Since(p.LastUpdate) > window {
			m.log.Debug().Str("track", k).Msg("resetting stale progress record")
			p.Reset()
			delete(m.infos, k)
		}
	}
}

// record returns the live progress record for a key, creating it if needed.
// Callers must hold m.mu.
func (m *Manager) record(key model.TrackKey) *model.CacheProgress {
	k := key.String()
	p, ok := m.progress[k]
	if !ok {
		p = &model.CacheProgress{LastUpdate: time.Now()}
		m.progress[k] = p
	}
	return p
}

// snapshot returns a copy of the live progress record.
func (m *Manager) snapshot(key model.TrackKey) (model.CacheProgress, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.progress[key.String()]
	if !ok {
		return model.CacheProgress{}, false
	}
	return *p, true
}

// updateTransfer records download progress for a track and refreshes the
// derived percentage, total estimate and transfer speed.
func (m *Manager) updateTransfer(key model.TrackKey, downloaded, knownTotal int64) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.record(key)
	p.DownloadedSize = downloaded
	p.LastFileSize = downloaded
	p.Percentage, p.EstimatedTotalSize = estimatePercentage(downloaded, knownTotal, p.Percentage)
	if !p.DownloadStartTime.IsZero() {
		if elapsed := now.Sub(p.DownloadStartTime).Seconds(); elapsed > 0 {
			p.DownloadSpeed = float64(downloaded) / elapsed
		}
	}
	p.LastUpdate = now
	delete(m.infos, key.String())
}

// acquireWriter claims the single writer slot for a track. Returns nil if a
// writer is already active or the track has a latched write failure. All
// transfer work for the slot must run under the lease context.
func (m *Manager) acquireWriter(key model.TrackKey) *writerLease {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.record(key)
	if p.IsDownloading || p.WriteFailed || p.IsFullyCached {
		return nil
	}
	p.IsDownloading = true
	p.DownloadStartTime = time.Now()
	p.LastUpdate = time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	lease := &writerLease{ctx: ctx, cancel: cancel}
	m.writers[key.String()] = lease
	return lease
}

// takeoverWriter cancels the track's current writer, if any, and claims the
// slot for the caller. Used by resume: the old writer is presumed dead, but
// cancelling its lease guarantees it cannot touch the file if it revives.
// Callers must hold m.mu.
func (m *Manager) takeoverWriter(key model.TrackKey, base context.Context) *writerLease {
	k := key.String()
	if old, ok := m.writers[k]; ok {
		old.cancel()
	}
	p := m.record(key)
	p.IsDownloading = true
	p.DownloadStartTime = time.Now()
	p.LastUpdate = time.Now()

	ctx, cancel := context.WithCancel(base)
	lease := &writerLease{ctx: ctx, cancel: cancel}
	m.writers[k] = lease
	return lease
}

// releaseWriter gives the writer slot back. A lease that was superseded by a
// takeover leaves the shared state alone; the new owner manages it.
func (m *Manager) releaseWriter(key model.TrackKey, lease *writerLease) {
	lease.cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	k := key.String()
	if m.writers[k] != lease {
		return
	}
	delete(m.writers, k)
	p := m.record(key)
	p.IsDownloading = false
	p.DownloadSpeed = 0
	p.LastUpdate = time.Now()
	delete(m.infos, k)
}

// latchWriteFailed marks the track's storage as broken. Terminal: no further
// download or resume attempts will be made for the track.
func (m *Manager) latchWriteFailed(key model.TrackKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.record(key)
	p.WriteFailed = true
	p.IsDownloading = false
	p.LastUpdate = time.Now()
	delete(m.infos, key.String())
	m.log.Error().Str("track", key.String()).Msg("write failure latched, caching disabled for track")
}

// bumpRetry increments the transient-failure counter for a track.
func (m *Manager) bumpRetry(key model.TrackKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.record(key)
	p.RetryCount++
	p.LastUpdate = time.Now()
}

// finalize validates a finished download and marks the track fully cached.
func (m *Manager) finalize(key model.TrackKey, path string) error {
	if err := m.validateFile(path); err != nil {
		m.mu.Lock()
		m.record(key).Reset()
		delete(m.infos, key.String())
		m.mu.Unlock()
		return err
	}
	size := ioutils.FileSize(path)

	m.mu.Lock()
	p := m.record(key)
	p.IsFullyCached = true
	p.IsDownloading = false
	p.Percentage = 100
	p.DownloadedSize = size
	p.LastFileSize = size
	p.EstimatedTotalSize = size
	p.DownloadSpeed = 0
	p.LastUpdate = time.Now()
	delete(m.infos, key.String())
	hook := m.onComplete
	m.mu.Unlock()

	m.log.Info().Str("track", key.String()).Int64("size", size).Msg("track fully cached")
	if hook != nil {
		go hook(key, path)
	}
	return nil
}
