package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"proctord/internal/event"
)

// DisplayCounter enumerates active displays. Platform implementations are
// provided for Linux (Mutter over D-Bus) and Windows (user32); hosts embed
// their own counter on other platforms.
type DisplayCounter interface {
	// Count returns the number of active displays and a short reason string
	// describing the detection (included in the violation detail).
	Count(ctx context.Context) (int, string, error)
}

// DisplayConfig tunes the display-topology monitor.
type DisplayConfig struct {
	// Poll is the topology re-evaluation cadence.
	Poll time.Duration
}

// DefaultDisplayConfig returns the standard tuning.
func DefaultDisplayConfig() DisplayConfig {
	return DisplayConfig{Poll: 3 * time.Second}
}

// DisplayMonitor polls display topology. More than one active display sets a
// blocking state and records a violation; reverting to a single display
// clears the block automatically on the next poll.
type DisplayMonitor struct {
	reporter Reporter
	counter  DisplayCounter
	cfg      DisplayConfig
	logger   *slog.Logger

	mu       sync.Mutex
	blocking bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDisplayMonitor creates a display-topology monitor. A nil counter leaves
// it inert.
func NewDisplayMonitor(reporter Reporter, counter DisplayCounter, cfg DisplayConfig, logger *slog.Logger) *DisplayMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 3 * time.Second
	}
	return &DisplayMonitor{
		reporter: reporter,
		counter:  counter,
		cfg:      cfg,
		logger:   logger.With("component", "display_monitor"),
	}
}

// Start begins polling.
func (m *DisplayMonitor) Start(ctx context.Context) {
	if m.counter == nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop cancels the poll loop and waits for it to exit.
func (m *DisplayMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Blocking reports whether the exam is currently blocked on multi-display
// topology.
func (m *DisplayMonitor) Blocking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocking
}

func (m *DisplayMonitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

// Poll runs one topology check. Exported for tests.
func (m *DisplayMonitor) Poll(ctx context.Context) {
	count, reason, err := m.counter.Count(ctx)
	if err != nil {
		// Enumeration failure degrades silently; it is not a violation.
		return
	}

	if count <= 1 {
		m.mu.Lock()
		cleared := m.blocking
		m.blocking = false
		m.mu.Unlock()
		if cleared {
			m.logger.Debug("single display restored, block cleared")
		}
		return
	}

	m.mu.Lock()
	m.blocking = true
	m.mu.Unlock()

	// The cooldown table dedupes the continuing condition.
	m.reporter.Report(event.KindMultipleMonitors, event.Options{
		Detail: fmt.Sprintf("displays=%d reason=%s", count, reason),
	})
}
