package cache

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/grafov/m3u8"

	httpx "github.com/veliu/trackcache/internal/http"
	ioutils "github.com/veliu/trackcache/internal/io"
	"github.com/veliu/trackcache/internal/model"
)

// isHLSPayload reports whether data is an M3U8 playlist rather than raw
// audio. Some backends hand out HLS manifests where a direct stream URL is
// expected.
func isHLSPayload(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(data), []byte("#EXTM3U"))
}

// beginHLS starts reassembling an HLS stream into a single cache file.
//
// The first segment is fetched and appended synchronously so the returned
// cache path has playable bytes in it, matching the initial-chunk guarantee
// of direct streams; the remaining segments download in the background.
// playlist is the initial ranged read, which may have truncated the manifest,
// so a full re-fetch happens whenever truncation is possible.
func (m *Manager) beginHLS(ctx context.Context, key model.TrackKey, playlistURL, path string, playlist []byte) error {
	if int64(len(playlist)) >= m.settings.InitialChunkSize {
		full, err := m.client.FetchResilient(ctx, playlistURL, nil)
		if err != nil {
			return err
		}
		playlist = full
	}

	segments, err := m.hlsSegmentURLs(ctx, playlistURL, playlist, true)
	if err != nil {
		return err
	}

	data, err := m.fetchSegment(ctx, segments[0])
	if err != nil {
		return fmt.Errorf("segment 1/%d: %w", len(segments), err)
	}
	if err := ioutils.AppendFile(path, data); err != nil {
		m.latchWriteFailed(key)
		return &WriteError{Path: path, Err: err}
	}
	m.setHLSProgress(key, int64(len(data)), 1, len(segments))

	go m.downloadHLSRest(key, path, segments, int64(len(data)))
	return nil
}

// downloadHLSRest appends the remaining segments in playlist order.
//
// Segment count is known up front, so progress here is exact rather than
// estimated, clamped below 100 until the last segment lands.
func (m *Manager) downloadHLSRest(key model.TrackKey, path string, segments []string, written int64) {
	lease := m.acquireWriter(key)
	if lease == nil {
		return
	}
	defer m.releaseWriter(key, lease)

	total := len(segments)
	for i, segURL := range segments[1:] {
		data, err := m.fetchSegment(lease.ctx, segURL)
		if err != nil {
			m.log.Warn().Str("track", key.String()).Int("segment", i+2).Err(err).Msg("hls segment fetch failed")
			return
		}
		if err := ioutils.AppendFile(path, data); err != nil {
			m.latchWriteFailed(key)
			return
		}
		written += int64(len(data))
		m.setHLSProgress(key, written, i+2, total)
	}

	if err := m.finalize(key, path); err != nil {
		m.log.Warn().Str("track", key.String()).Err(err).Msg("reassembled hls stream failed validation")
	}
}

// fetchSegment pulls one media segment under the chunk timeout.
func (m *Manager) fetchSegment(ctx context.Context, segURL string) ([]byte, error) {
	return m.client.FetchResilient(ctx, segURL, &httpx.FetchOptions{
		Timeout: m.settings.ChunkTimeout.Std(),
	})
}

// hlsSegmentURLs resolves the ordered segment URLs of a playlist. Master
// playlists are followed one level deep to their first variant.
func (m *Manager) hlsSegmentURLs(ctx context.Context, playlistURL string, playlist []byte, followMaster bool) ([]string, error) {
	base, err := url.Parse(playlistURL)
	if err != nil {
		return nil, err
	}

	parsed, listType, err := m3u8.Decode(*bytes.NewBuffer(playlist), true)
	if err != nil {
		return nil, fmt.Errorf("parsing playlist %s: %w", playlistURL, err)
	}

	switch listType {
	case m3u8.MASTER:
		if !followMaster {
			return nil, fmt.Errorf("nested master playlist at %s", playlistURL)
		}
		master := parsed.(*m3u8.MasterPlaylist)
		if len(master.Variants) == 0 {
			return nil, fmt.Errorf("master playlist %s has no variants", playlistURL)
		}
		variantURL, err := resolveSegmentURL(base, master.Variants[0].URI)
		if err != nil {
			return nil, err
		}
		media, err := m.client.FetchResilient(ctx, variantURL, nil)
		if err != nil {
			return nil, err
		}
		return m.hlsSegmentURLs(ctx, variantURL, media, false)

	case m3u8.MEDIA:
		media := parsed.(*m3u8.MediaPlaylist)
		urls := make([]string, 0, media.Count())
		for _, seg := range media.Segments {
			if seg == nil {
				continue
			}
			segURL, err := resolveSegmentURL(base, seg.URI)
			if err != nil {
				return nil, err
			}
			urls = append(urls, segURL)
		}
		if len(urls) == 0 {
			return nil, fmt.Errorf("media playlist %s has no segments", playlistURL)
		}
		return urls, nil

	default:
		return nil, fmt.Errorf("unrecognised playlist type at %s", playlistURL)
	}
}

// setHLSProgress records exact segment-based progress for an HLS download.
func (m *Manager) setHLSProgress(key model.TrackKey, written int64, done, total int) {
	pct := float64(done) / float64(total) * 100
	if pct > 99 && done < total {
		pct = 99
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.record(key)
	p.DownloadedSize = written
	p.LastFileSize = written
	p.Percentage = pct
	if done > 0 {
		p.EstimatedTotalSize = written / int64(done) * int64(total)
	}
	if !p.DownloadStartTime.IsZero() {
		if elapsed := time.Since(p.DownloadStartTime).Seconds(); elapsed > 0 {
			p.DownloadSpeed = float64(written) / elapsed
		}
	}
	p.LastUpdate = time.Now()
	delete(m.infos, key.String())
}

// resolveSegmentURL resolves a possibly-relative segment URI against the
// playlist it came from.
func resolveSegmentURL(base *url.URL, uri string) (string, error) {
	ref, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("bad segment uri %q: %w", uri, err)
	}
	return base.ResolveReference(ref).String(), nil
}
