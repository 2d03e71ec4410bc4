package cache

import (
	"bytes"
	"crypto/rand"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/veliu/trackcache/internal/config"
	httpx "github.com/veliu/trackcache/internal/http"
	ioutils "github.com/veliu/trackcache/internal/io"
	"github.com/veliu/trackcache/internal/model"
)

// newTestManager builds a Manager on a temp dir with timings shrunk to test
// scale. mutate tweaks settings before construction.
func newTestManager(t *testing.T, mutate func(*config.Settings)) *Manager {
	t.Helper()

	settings := config.DefaultSettings()
	settings.CacheDirCandidates = []string{t.TempDir()}
	settings.MinValidFileSize = 4 << 10
	settings.CacheInfoTTL = 0 // no memoization unless a test asks for it
	settings.InitialChunkSize = 64 << 10
	settings.ChunkSize = 16 << 10
	settings.RetryDelay = config.Duration(10 * time.Millisecond)
	settings.ChunkTimeout = config.Duration(2 * time.Second)
	settings.MonitorInterval = config.Duration(20 * time.Millisecond)
	settings.RequestTimeout = config.Duration(2 * time.Second)
	if mutate != nil {
		mutate(settings)
	}

	client := httpx.NewClient(httpx.ClientConfig{
		Retries:   1,
		Backoff:   time.Millisecond,
		MaxJitter: time.Millisecond,
		Timeout:   settings.RequestTimeout.Std(),
	})

	m, err := NewManager(settings, client, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

// randomBytes returns n bytes of random binary payload.
func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	if _, err := rand.Read(data); err != nil {
		t.Fatal(err)
	}
	return data
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestGetCacheInfo_FilesystemProbe(t *testing.T) {
	// A 3MB partial left over from an earlier run, with no live progress
	// record, must report roughly 55% via the size heuristic.
	m := newTestManager(t, nil)
	key := model.TrackKey{ID: "abc", Source: model.SourceYouTube}

	if err := os.WriteFile(m.TrackPath(key), randomBytes(t, 3*mib), 0644); err != nil {
		t.Fatal(err)
	}

	info := m.GetCacheInfo(key)
	if info.Percentage < 54 || info.Percentage > 57 {
		t.Errorf("Percentage = %.1f, want ~55", info.Percentage)
	}
	if info.FileSize != 3*mib {
		t.Errorf("FileSize = %d, want %d", info.FileSize, 3*mib)
	}
	if info.IsFullyCached {
		t.Error("probe of a partial must not report fully cached")
	}
}

func TestGetCacheInfo_Memoized(t *testing.T) {
	m := newTestManager(t, func(s *config.Settings) {
		s.CacheInfoTTL = config.Duration(time.Minute)
	})
	key := model.TrackKey{ID: "memo", Source: model.SourceJamendo}

	first := m.GetCacheInfo(key)
	if first.FileSize != 0 {
		t.Fatalf("expected empty info, got %+v", first)
	}

	// A file appearing within the TTL is not visible until the memo expires.
	if err := os.WriteFile(m.TrackPath(key), randomBytes(t, 128<<10), 0644); err != nil {
		t.Fatal(err)
	}
	second := m.GetCacheInfo(key)
	if second.FileSize != 0 {
		t.Errorf("memoized info bypassed: FileSize = %d", second.FileSize)
	}
}

func TestGetCacheInfo_DeletesCorruptFile(t *testing.T) {
	m := newTestManager(t, nil)
	key := model.TrackKey{ID: "stub", Source: model.SourceArchive}
	path := m.TrackPath(key)

	// Below the minimum valid size: an aborted write, not a cache entry.
	if err := os.WriteFile(path, randomBytes(t, 1<<10), 0644); err != nil {
		t.Fatal(err)
	}

	info := m.GetCacheInfo(key)
	if info.FileSize != 0 || info.Percentage != 0 {
		t.Errorf("corrupt file reported as cached: %+v", info)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("corrupt cache file was not deleted")
	}
}

func TestBestCachedPath(t *testing.T) {
	m := newTestManager(t, nil)
	key := model.TrackKey{ID: "valid", Source: model.SourceAudius}

	if _, ok := m.BestCachedPath(key); ok {
		t.Error("reported a path for a track with no file")
	}

	if err := os.WriteFile(m.TrackPath(key), randomBytes(t, 64<<10), 0644); err != nil {
		t.Fatal(err)
	}
	path, ok := m.BestCachedPath(key)
	if !ok || path != m.TrackPath(key) {
		t.Errorf("BestCachedPath = %q, %v", path, ok)
	}
}

func TestClearTrack(t *testing.T) {
	m := newTestManager(t, nil)
	key := model.TrackKey{ID: "gone", Source: model.SourceJamendo}
	path := m.TrackPath(key)

	if err := os.WriteFile(path, randomBytes(t, 64<<10), 0644); err != nil {
		t.Fatal(err)
	}
	m.updateTransfer(key, 64<<10, 0)

	if err := m.ClearTrack(key); err != nil {
		t.Fatalf("ClearTrack() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("cache file survived ClearTrack")
	}
	if _, ok := m.snapshot(key); ok {
		t.Error("progress record survived ClearTrack")
	}
}

func TestClearAll(t *testing.T) {
	m := newTestManager(t, nil)
	keys := []model.TrackKey{
		{ID: "one", Source: model.SourceYouTube},
		{ID: "two", Source: model.SourceAudius},
	}
	for _, key := range keys {
		if err := os.WriteFile(m.TrackPath(key), randomBytes(t, 64<<10), 0644); err != nil {
			t.Fatal(err)
		}
		m.updateTransfer(key, 64<<10, 0)
	}

	if err := m.ClearAll(); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	for _, key := range keys {
		if _, err := os.Stat(m.TrackPath(key)); !os.IsNotExist(err) {
			t.Errorf("file for %s survived ClearAll", key)
		}
		if _, ok := m.snapshot(key); ok {
			t.Errorf("progress for %s survived ClearAll", key)
		}
	}
}

func TestSweepStale_PreservesStreamURL(t *testing.T) {
	m := newTestManager(t, func(s *config.Settings) {
		s.ProgressStaleAfter = config.Duration(time.Millisecond)
	})
	key := model.TrackKey{ID: "idle", Source: model.SourceUnknown}

	m.mu.Lock()
	p := m.record(key)
	p.Percentage = 42
	p.DownloadedSize = 2 * mib
	p.OriginalStreamURL = "https://upstream.example/idle.mp3"
	p.LastUpdate = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	m.SweepStale()

	got, ok := m.snapshot(key)
	if !ok {
		t.Fatal("record deleted instead of reset")
	}
	if got.Percentage != 0 || got.DownloadedSize != 0 {
		t.Errorf("record not reset: %+v", got)
	}
	if got.OriginalStreamURL != "https://upstream.example/idle.mp3" {
		t.Error("OriginalStreamURL lost during staleness sweep")
	}
}

func TestSweepStale_LeavesActiveDownloadsAlone(t *testing.T) {
	m := newTestManager(t, func(s *config.Settings) {
		s.ProgressStaleAfter = config.Duration(time.Millisecond)
	})
	key := model.TrackKey{ID: "busy", Source: model.SourceUnknown}

	m.mu.Lock()
	p := m.record(key)
	p.Percentage = 42
	p.IsDownloading = true
	p.LastUpdate = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	m.SweepStale()

	got, _ := m.snapshot(key)
	if got.Percentage != 42 {
		t.Error("active download record was reset")
	}
}

func TestBinaryAppendPreservesPrefix(t *testing.T) {
	// Appending a chunk to a partial cache file must leave the existing
	// bytes untouched. This is the whole point of the append-only rule.
	m := newTestManager(t, nil)
	key := model.TrackKey{ID: "bin", Source: model.SourceYouTube}
	path := m.TrackPath(key)

	first := randomBytes(t, 2*mib)
	chunk := randomBytes(t, 512<<10)
	if err := os.WriteFile(path, first, 0644); err != nil {
		t.Fatal(err)
	}
	if err := ioutils.AppendFile(path, chunk); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(first)+len(chunk) {
		t.Fatalf("size = %d, want %d", len(got), len(first)+len(chunk))
	}
	if !bytes.Equal(got[:len(first)], first) {
		t.Error("existing bytes corrupted by append")
	}
	if !bytes.Equal(got[len(first):], chunk) {
		t.Error("appended chunk corrupted")
	}
}
