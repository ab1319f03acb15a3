package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"proctord/internal/event"
)

// HostEventType distinguishes host window/input events.
type HostEventType int

const (
	// VisibilityHidden fires when the exam surface stops being visible
	// (tab switch, minimize).
	VisibilityHidden HostEventType = iota
	// VisibilityVisible fires when visibility returns.
	VisibilityVisible
	// WindowBlur fires when the exam window loses input focus.
	WindowBlur
	// WindowFocus fires when focus returns.
	WindowFocus
	// ClipboardCopy, ClipboardCut, and ClipboardPaste fire on intercepted
	// clipboard operations. The host suppresses the operation itself.
	ClipboardCopy
	ClipboardCut
	ClipboardPaste
	// ContextMenu fires on an intercepted context-menu invocation.
	ContextMenu
	// KeyDown fires for every key press the host routes to the monitor.
	KeyDown
)

// KeyCombo is a pressed key with its modifiers.
type KeyCombo struct {
	Key   string
	Ctrl  bool
	Alt   bool
	Shift bool
	Meta  bool
}

// String renders the combo the way it appears in violation details,
// e.g. "Ctrl+Shift+I".
func (k KeyCombo) String() string {
	var parts []string
	if k.Ctrl {
		parts = append(parts, "Ctrl")
	}
	if k.Alt {
		parts = append(parts, "Alt")
	}
	if k.Shift {
		parts = append(parts, "Shift")
	}
	if k.Meta {
		parts = append(parts, "Meta")
	}
	parts = append(parts, k.Key)
	return strings.Join(parts, "+")
}

// HostEvent is one window/input event delivered by the host.
type HostEvent struct {
	Type HostEventType
	Key  KeyCombo
	At   time.Time
}

// HostEvents is the host-side event feed.
type HostEvents interface {
	Events() <-chan HostEvent
}

// ViewportFunc reports the outer and inner viewport dimensions for the
// developer-tools heuristic.
type ViewportFunc func() (outerW, outerH, innerW, innerH int, err error)

// WindowConfig tunes the window/input monitor.
type WindowConfig struct {
	// DevtoolsPoll is the developer-tools heuristic cadence.
	DevtoolsPoll time.Duration

	// DevtoolsGapPx is the outer-minus-inner dimension gap that reads as an
	// open developer-tools panel.
	DevtoolsGapPx int

	// ExtraBlockedShortcuts extends the built-in denylist, in KeyCombo
	// string form ("Ctrl+Shift+X").
	ExtraBlockedShortcuts []string
}

// DefaultWindowConfig returns the standard tuning.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		DevtoolsPoll:  3 * time.Second,
		DevtoolsGapPx: 160,
	}
}

// WindowMonitor handles tab visibility, focus, clipboard, context menu,
// blocked shortcuts, and the developer-tools heuristic. It is event-driven
// except for the devtools poll.
type WindowMonitor struct {
	reporter Reporter
	events   HostEvents
	viewport ViewportFunc

	cfg      WindowConfig
	denylist map[string]struct{}
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	hiddenAt time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWindowMonitor creates a window/input monitor. Events and viewport may
// be nil; the corresponding checks are then inert.
func NewWindowMonitor(reporter Reporter, events HostEvents, viewport ViewportFunc, cfg WindowConfig, logger *slog.Logger) *WindowMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DevtoolsPoll <= 0 {
		cfg.DevtoolsPoll = 3 * time.Second
	}

	deny := make(map[string]struct{})
	for _, combo := range builtinDenylist() {
		deny[combo] = struct{}{}
	}
	for _, combo := range cfg.ExtraBlockedShortcuts {
		deny[combo] = struct{}{}
	}

	return &WindowMonitor{
		reporter: reporter,
		events:   events,
		viewport: viewport,
		cfg:      cfg,
		denylist: deny,
		logger:   logger.With("component", "window_monitor"),
		now:      time.Now,
	}
}

// builtinDenylist is the fixed set of intercepted key combinations:
// function keys, browser and devtools shortcuts, and app-switch
// combinations.
func builtinDenylist() []string {
	combos := []string{
		"Ctrl+Shift+I", "Ctrl+Shift+J", "Ctrl+Shift+C", // devtools
		"Ctrl+U", // view source
		"Ctrl+S", "Ctrl+P", "Ctrl+O", "Ctrl+H", "Ctrl+R", "Ctrl+N", "Ctrl+T", "Ctrl+W",
		"Ctrl+Shift+N", "Ctrl+Shift+T",
		"Alt+Tab", "Meta+Tab", "Ctrl+Escape", "Meta+D", "Meta+M", // app switch
	}
	for i := 1; i <= 12; i++ {
		combos = append(combos, fmt.Sprintf("F%d", i))
	}
	return combos
}

// ShouldBlock reports whether a combo is on the denylist. The host input
// layer uses it to decide whether to suppress the event before delivery.
func (m *WindowMonitor) ShouldBlock(combo KeyCombo) bool {
	_, blocked := m.denylist[combo.String()]
	return blocked
}

// Start begins consuming host events and polling the devtools heuristic.
func (m *WindowMonitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	if m.events != nil {
		m.wg.Add(1)
		go m.eventLoop(ctx)
	}
	if m.viewport != nil {
		m.wg.Add(1)
		go m.devtoolsLoop(ctx)
	}
}

// Stop cancels the loops and waits for them to exit.
func (m *WindowMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *WindowMonitor) eventLoop(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.events.Events():
			if !ok {
				return
			}
			m.Handle(ev)
		}
	}
}

// Handle processes one host event. Exported for hosts that deliver events
// synchronously and for tests.
func (m *WindowMonitor) Handle(ev HostEvent) {
	switch ev.Type {
	case VisibilityHidden:
		m.mu.Lock()
		m.hiddenAt = m.now()
		m.mu.Unlock()
		// Tab switch logs every occurrence and forces a screen capture.
		m.reporter.Report(event.KindTabSwitch, event.Options{CaptureScreen: true})

	case VisibilityVisible:
		m.mu.Lock()
		hiddenAt := m.hiddenAt
		m.hiddenAt = time.Time{}
		m.mu.Unlock()
		if !hiddenAt.IsZero() {
			away := m.now().Sub(hiddenAt).Milliseconds()
			m.reporter.PatchAwayDuration(away)
		}

	case WindowBlur:
		m.reporter.Report(event.KindWindowBlur, event.Options{})

	case WindowFocus:
		// No record; focus return is only interesting to the host UI.

	case ClipboardCopy:
		m.reporter.Report(event.KindCopyAttempt, event.Options{Detail: "copy"})
	case ClipboardCut:
		m.reporter.Report(event.KindCopyAttempt, event.Options{Detail: "cut"})
	case ClipboardPaste:
		m.reporter.Report(event.KindCopyAttempt, event.Options{Detail: "paste"})

	case ContextMenu:
		m.reporter.Report(event.KindContextMenu, event.Options{})

	case KeyDown:
		if m.ShouldBlock(ev.Key) {
			m.reporter.Report(event.KindKeyboardShortcut, event.Options{
				Detail: ev.Key.String(),
			})
		}
	}
}

func (m *WindowMonitor) devtoolsLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.DevtoolsPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckDevtools()
		}
	}
}

// CheckDevtools runs one devtools heuristic check: a gap beyond the
// configured threshold between outer and inner viewport dimensions in either
// axis reads as a docked developer-tools panel.
func (m *WindowMonitor) CheckDevtools() {
	if m.viewport == nil {
		return
	}

	outerW, outerH, innerW, innerH, err := m.viewport()
	if err != nil {
		return
	}

	gapW := outerW - innerW
	gapH := outerH - innerH
	if gapW > m.cfg.DevtoolsGapPx || gapH > m.cfg.DevtoolsGapPx {
		m.reporter.Report(event.KindDevtoolsOpen, event.Options{
			Detail: fmt.Sprintf("gap_w=%d gap_h=%d", gapW, gapH),
		})
	}
}

// SetNow overrides the monitor clock, for tests.
func (m *WindowMonitor) SetNow(now func() time.Time) {
	m.now = now
}
