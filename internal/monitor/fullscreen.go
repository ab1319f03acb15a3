package monitor

import (
	"context"
	"log/slog"
	"sync"

	"proctord/internal/event"
)

// FullscreenMonitor is a binary blocking condition over the host's
// fullscreen state. Leaving fullscreen blocks the exam surface, captures the
// screen, and records a violation; returning clears the block without a new
// record.
type FullscreenMonitor struct {
	reporter Reporter
	changes  <-chan bool // true = fullscreen
	logger   *slog.Logger

	mu       sync.Mutex
	blocking bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFullscreenMonitor creates a fullscreen monitor. A nil changes channel
// leaves the monitor inert.
func NewFullscreenMonitor(reporter Reporter, changes <-chan bool, logger *slog.Logger) *FullscreenMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FullscreenMonitor{
		reporter: reporter,
		changes:  changes,
		logger:   logger.With("component", "fullscreen_monitor"),
	}
}

// Start begins consuming fullscreen change events.
func (m *FullscreenMonitor) Start(ctx context.Context) {
	if m.changes == nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop cancels the loop and waits for it to exit.
func (m *FullscreenMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Blocking reports whether the exam surface is currently blocked on a
// fullscreen exit.
func (m *FullscreenMonitor) Blocking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocking
}

func (m *FullscreenMonitor) loop(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case fullscreen, ok := <-m.changes:
			if !ok {
				return
			}
			m.Handle(fullscreen)
		}
	}
}

// Handle processes one fullscreen state change. Exported for tests and
// synchronous hosts.
func (m *FullscreenMonitor) Handle(fullscreen bool) {
	m.mu.Lock()
	wasBlocking := m.blocking
	m.blocking = !fullscreen
	m.mu.Unlock()

	if fullscreen {
		if wasBlocking {
			m.logger.Debug("fullscreen restored, block cleared")
		}
		return
	}

	m.reporter.Report(event.KindFullscreenExit, event.Options{
		CaptureScreen: true,
		Trigger:       event.TriggerFullscreenExit,
	})
}
