package cache

import (
	"context"
	"math"
	"time"

	ioutils "github.com/veliu/trackcache/internal/io"
	"github.com/veliu/trackcache/internal/model"
)

// StartMonitor watches a track's download health in the background.
//
// Starting a monitor for a track that already has one is a no-op: the
// registry suppresses duplicates, so repeated resolutions of the same track
// never stack watchers.
func (m *Manager) StartMonitor(key model.TrackKey) {
	k := key.String()

	m.mu.Lock()
	if _, ok := m.monitors[k]; ok {
		m.mu.Unlock()
		return
	}
	m.monitors[k] = struct{}{}
	m.mu.Unlock()

	go m.monitorLoop(key)
}

// monitorLoop polls a track's progress on a fixed cadence and intervenes
// when the download goes quiet.
//
// Two conditions trigger a resume, at most once per monitor lifetime:
//   - stall: the percentage moved less than a point across the configured
//     number of consecutive polls while the track is below the completion
//     threshold
//   - opportunistic: a meaningful partial exists on disk but no downloader
//     owns the track
//
// The loop exits once the track reaches the completion threshold, latches a
// write failure, loses its progress record, or stalls again after its one
// resume has been spent.
func (m *Manager) monitorLoop(key model.TrackKey) {
	defer func() {
		m.mu.Lock()
		delete(m.monitors, key.String())
		m.mu.Unlock()
	}()

	ticker := time.NewTicker(m.settings.MonitorInterval.Std())
	defer ticker.Stop()

	lastPct := -1.0
	stable := 0
	resumed := false

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
		}

		p, ok := m.snapshot(key)
		if !ok {
			return
		}
		if p.WriteFailed || p.IsFullyCached || p.Percentage >= m.settings.CompletionPercent {
			return
		}

		if lastPct >= 0 && math.Abs(p.Percentage-lastPct) < 1 {
			stable++
		} else {
			stable = 0
		}
		lastPct = p.Percentage

		flatlined := stable >= m.settings.StallPolls
		stalled := p.IsDownloading && flatlined
		opportunistic := !p.IsDownloading && p.Percentage >= m.settings.OpportunisticPercent

		if resumed && flatlined {
			// One intervention per monitor; flatlining again after the
			// resume means the stream is gone and the partial stays as-is.
			m.log.Warn().Str("track", key.String()).Msg("no progress after resume, giving up")
			return
		}
		if resumed || (!stalled && !opportunistic) {
			continue
		}
		resumed = true
		stable = 0

		offset := ioutils.FileSize(m.TrackPath(key))
		m.log.Info().
			Str("track", key.String()).
			Float64("percent", p.Percentage).
			Int64("offset", offset).
			Bool("stalled", stalled).
			Msg("monitor triggering resume")

		go func() {
			if err := m.ResumeFrom(context.Background(), key, offset); err != nil {
				m.log.Warn().Str("track", key.String()).Err(err).Msg("monitor resume failed")
			}
		}()
	}
}
