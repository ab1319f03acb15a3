package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"proctord/internal/event"
	"proctord/internal/media"
)

// ErrPartialSurface is returned when a reshare offers a window or tab
// instead of a full display. Partial surfaces are rejected before being
// accepted as a replacement track.
var ErrPartialSurface = errors.New("screenshare: replacement must share an entire display")

// ErrNotAwaitingReshare is returned when a replacement is offered while the
// share is healthy or the session is past recovery.
var ErrNotAwaitingReshare = errors.New("screenshare: no reshare pending")

// ScreenShareConfig tunes the screen-share monitor.
type ScreenShareConfig struct {
	// ReshareGrace is how long the student has to re-share after the first
	// stop before the session is finalized.
	ReshareGrace time.Duration
}

// DefaultScreenShareConfig returns the standard tuning.
func DefaultScreenShareConfig() ScreenShareConfig {
	return ScreenShareConfig{ReshareGrace: 5 * time.Second}
}

// ScreenShareMonitor runs the SHARING -> STOPPED(n) state machine over the
// shared screen track. The first stop opens a grace countdown for a
// full-display reshare; a second stop, or countdown expiry, finalizes the
// session through the injected finalize callback.
type ScreenShareMonitor struct {
	reporter Reporter
	finalize func(reason string)
	cfg      ScreenShareConfig
	logger   *slog.Logger

	mu         sync.Mutex
	track      media.ScreenTrack
	sharing    bool
	stopCount  int
	awaiting   bool
	countdown  *time.Timer
	generation int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScreenShareMonitor creates a screen-share monitor over an initial live
// track. The finalize callback must be idempotent; the session's
// single-flag finalizer provides that.
func NewScreenShareMonitor(reporter Reporter, track media.ScreenTrack, finalize func(reason string), cfg ScreenShareConfig, logger *slog.Logger) *ScreenShareMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReshareGrace <= 0 {
		cfg.ReshareGrace = 5 * time.Second
	}
	return &ScreenShareMonitor{
		reporter: reporter,
		finalize: finalize,
		cfg:      cfg,
		logger:   logger.With("component", "screenshare_monitor"),
		track:    track,
		sharing:  track != nil,
	}
}

// Start begins watching the track for its end-of-stream signal.
func (m *ScreenShareMonitor) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.mu.Lock()
	track := m.track
	gen := m.generation
	m.mu.Unlock()

	if track != nil {
		m.watch(track, gen)
	}
}

// Stop cancels the watcher and any pending countdown.
func (m *ScreenShareMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Lock()
	if m.countdown != nil {
		m.countdown.Stop()
		m.countdown = nil
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// Healthy reports whether a full-display share is currently live.
func (m *ScreenShareMonitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sharing
}

// OfferReplacement is called by the host when the student shares again
// during the grace countdown. Partial surfaces (window, browser tab) are
// rejected; a full-display track cancels the countdown and re-arms the stop
// listener.
func (m *ScreenShareMonitor) OfferReplacement(track media.ScreenTrack) error {
	if track == nil {
		return ErrNotAwaitingReshare
	}
	if track.DisplaySurface() != media.SurfaceMonitor {
		return ErrPartialSurface
	}

	m.mu.Lock()
	if !m.awaiting {
		m.mu.Unlock()
		return ErrNotAwaitingReshare
	}
	if m.countdown != nil {
		m.countdown.Stop()
		m.countdown = nil
	}
	m.awaiting = false
	m.sharing = true
	m.track = track
	m.generation++
	gen := m.generation
	m.mu.Unlock()

	m.logger.Info("screen share restored")
	m.watch(track, gen)
	return nil
}

// watch waits for the given track to end. The generation guard makes a
// stale watcher (superseded by a reshare) exit without acting.
func (m *ScreenShareMonitor) watch(track media.ScreenTrack, gen int) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case <-m.ctx.Done():
			return
		case <-track.Ended():
			m.handleStop(gen)
		}
	}()
}

func (m *ScreenShareMonitor) handleStop(gen int) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.sharing = false
	m.stopCount++
	stops := m.stopCount
	if stops == 1 {
		m.awaiting = true
		m.countdown = time.AfterFunc(m.cfg.ReshareGrace, m.onCountdownExpired)
	} else {
		// Terminal path: the countdown is never entered on a second stop,
		// and any pending one must not fire a second finalize.
		m.awaiting = false
		if m.countdown != nil {
			m.countdown.Stop()
			m.countdown = nil
		}
	}
	m.mu.Unlock()

	if stops >= 2 {
		// No countdown on the second stop: the session ends now.
		m.reporter.Report(event.KindScreenShareStopped, event.Options{
			BypassCooldown: true,
			Detail:         "screen share stopped again; session terminated",
		})
		m.finalize("screen-share-stopped")
		return
	}

	m.reporter.Report(event.KindScreenShareStopped, event.Options{
		Detail: "screen share stopped; awaiting reshare",
	})
	m.logger.Warn("screen share stopped, grace countdown started",
		"grace", m.cfg.ReshareGrace,
	)
}

func (m *ScreenShareMonitor) onCountdownExpired() {
	m.mu.Lock()
	expired := m.awaiting
	m.awaiting = false
	m.countdown = nil
	m.mu.Unlock()

	if !expired {
		return
	}
	m.logger.Warn("reshare grace expired")
	m.finalize("screen-share-timeout")
}
