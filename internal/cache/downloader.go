package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	httpx "github.com/veliu/trackcache/internal/http"
	ioutils "github.com/veliu/trackcache/internal/io"
	"github.com/veliu/trackcache/internal/model"
)

// downloadFull drives a track's background download to completion.
//
// Runs on a detached context: the player that triggered the cache may move on
// long before the stream finishes, and the download must not die with it.
// A single ranged transfer is attempted first; when that fails the loop falls
// back to fixed-size chunks, which survive flaky connections better because
// each chunk is its own request.
func (m *Manager) downloadFull(key model.TrackKey, rawURL, path string) {
	lease := m.acquireWriter(key)
	if lease == nil {
		return
	}
	defer m.releaseWriter(key, lease)
	ctx := lease.ctx

	offset := ioutils.FileSize(path)
	err := m.transferTail(ctx, key, rawURL, path, offset)
	if err == nil {
		if ferr := m.finalize(key, path); ferr != nil {
			m.log.Warn().Str("track", key.String()).Err(ferr).Msg("completed download failed validation")
		}
		return
	}
	if ctx.Err() != nil {
		// Lease cancelled: a resume took the track over.
		return
	}

	var werr *WriteError
	if errors.As(err, &werr) {
		m.latchWriteFailed(key)
		return
	}

	m.log.Debug().Str("track", key.String()).Err(err).Msg("single transfer failed, falling back to chunked download")
	m.bumpRetry(key)

	if err := m.downloadInChunks(ctx, key, rawURL, path); err != nil {
		if ctx.Err() != nil {
			return
		}
		if errors.As(err, &werr) {
			m.latchWriteFailed(key)
			return
		}
		m.log.Warn().Str("track", key.String()).Err(err).Msg("chunked download exhausted retries, leaving partial cache")
		return
	}

	if ferr := m.finalize(key, path); ferr != nil {
		m.log.Warn().Str("track", key.String()).Err(ferr).Msg("completed download failed validation")
	}
}

// transferTail downloads everything from offset to the end of the stream in
// one ranged request. The tail lands in a temporary sibling file and is
// merged onto the cache file only after the transfer succeeds, so a dropped
// connection never leaves half a tail appended.
func (m *Manager) transferTail(ctx context.Context, key model.TrackKey, rawURL, path string, offset int64) error {
	tmp := path + ".part"
	defer os.Remove(tmp)

	onProgress := func(written, total int64) {
		known := int64(0)
		if total > 0 {
			known = offset + total
		}
		m.updateTransfer(key, offset+written, known)
	}

	n, err := m.client.DownloadRangeToFile(ctx, rawURL, offset, tmp, onProgress)
	if err != nil {
		var nerr *httpx.NetworkError
		if offset > 0 && errors.As(err, &nerr) && nerr.Status == http.StatusRequestedRangeNotSatisfiable {
			// Offset at or past EOF: the file is already complete.
			return nil
		}
		return err
	}

	if n > 0 {
		if size := ioutils.FileSize(path); size != offset {
			// Someone else grew the file while the tail was in flight.
			// Merging now would duplicate bytes past the true size.
			return fmt.Errorf("cache file moved from %d to %d bytes during transfer", offset, size)
		}
		if err := ioutils.AppendFromFile(path, tmp); err != nil {
			return &WriteError{Path: path, Err: err}
		}
	}
	return nil
}

// downloadInChunks pulls the stream in fixed-size ranged chunks, appending
// each one binary-safely. Transient failures are retried with a fixed delay
// up to the configured attempt budget; the end of the stream is recognised
// by a short read or an unsatisfiable range.
func (m *Manager) downloadInChunks(ctx context.Context, key model.TrackKey, rawURL, path string) error {
	chunkSize := m.settings.ChunkSize
	retries := 0

	knownTotal, err := m.client.FileSize(ctx, rawURL)
	if err != nil {
		knownTotal = 0
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		offset := ioutils.FileSize(path)
		if knownTotal > 0 && offset >= knownTotal {
			return nil
		}

		chunkCtx, cancel := context.WithTimeout(ctx, m.settings.ChunkTimeout.Std())
		data, err := m.client.FetchRange(chunkCtx, rawURL, offset, offset+chunkSize-1)
		cancel()

		if err != nil {
			if offset > 0 && errors.Is(err, httpx.ErrRangeNotSatisfiable) {
				return nil
			}
			retries++
			m.bumpRetry(key)
			if retries > m.settings.MaxRetryAttempts {
				return err
			}
			m.log.Debug().
				Str("track", key.String()).
				Int("retry", retries).
				Err(err).
				Msg("chunk fetch failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.settings.RetryDelay.Std()):
			}
			continue
		}
		retries = 0

		if len(data) > 0 {
			if err := ioutils.AppendFile(path, data); err != nil {
				return &WriteError{Path: path, Err: err}
			}
			m.updateTransfer(key, offset+int64(len(data)), knownTotal)
		}

		if int64(len(data)) < chunkSize {
			// Short read: the server ran out of bytes.
			return nil
		}
	}
}

// ResumeFrom restarts a stalled or abandoned download from the given byte
// offset, using the stream URL retained in the track's progress record.
//
// The tail is downloaded to a temporary file and merged on success. A track
// with an active, recently-updated writer is left alone; a writer that has
// not updated within the monitor window is presumed dead and taken over.
func (m *Manager) ResumeFrom(ctx context.Context, key model.TrackKey, offset int64) error {
	k := key.String()

	m.mu.Lock()
	p, ok := m.progress[k]
	if !ok || p.OriginalStreamURL == "" {
		m.mu.Unlock()
		return &ValidationError{Path: m.TrackPath(key), Reason: "no retained stream URL to resume from"}
	}
	if p.WriteFailed {
		m.mu.Unlock()
		return &WriteError{Path: m.TrackPath(key), Err: os.ErrPermission}
	}
	if p.IsFullyCached {
		m.mu.Unlock()
		return nil
	}
	grace := time.Duration(m.settings.StallPolls) * m.settings.MonitorInterval.Std()
	if p.IsDownloading && time.Since(p.LastUpdate) < grace {
		// Live writer, not our business.
		m.mu.Unlock()
		return nil
	}
	rawURL := p.OriginalStreamURL
	lease := m.takeoverWriter(key, ctx)
	m.mu.Unlock()
	defer m.releaseWriter(key, lease)
	ctx = lease.ctx

	m.log.Info().Str("track", k).Int64("offset", offset).Msg("resuming download")

	path := m.TrackPath(key)
	tmp := path + ".resume"
	defer os.Remove(tmp)

	onProgress := func(written, total int64) {
		known := int64(0)
		if total > 0 {
			known = offset + total
		}
		m.updateTransfer(key, offset+written, known)
	}

	n, err := m.client.DownloadRangeToFile(ctx, rawURL, offset, tmp, onProgress)
	if err != nil {
		var nerr *httpx.NetworkError
		if offset > 0 && errors.As(err, &nerr) && nerr.Status == http.StatusRequestedRangeNotSatisfiable {
			return m.finalize(key, path)
		}
		m.bumpRetry(key)
		return err
	}

	if n > 0 {
		if size := ioutils.FileSize(path); size != offset {
			return fmt.Errorf("cache file moved from %d to %d bytes during resume", offset, size)
		}
		if err := ioutils.AppendFromFile(path, tmp); err != nil {
			m.latchWriteFailed(key)
			return &WriteError{Path: path, Err: err}
		}
	}

	return m.finalize(key, path)
}
