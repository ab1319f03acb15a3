package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"proctord/internal/event"
)

func newWindowTestMonitor(cfg WindowConfig) (*WindowMonitor, *fakeReporter, *manualClock) {
	rep := newFakeReporter()
	clock := newManualClock()
	m := NewWindowMonitor(rep, nil, nil, cfg, nil)
	m.SetNow(clock.Now)
	return m, rep, clock
}

func TestTabSwitchRecordsAwayDuration(t *testing.T) {
	m, rep, clock := newWindowTestMonitor(DefaultWindowConfig())

	m.Handle(HostEvent{Type: VisibilityHidden})
	if got := rep.count(event.KindTabSwitch); got != 1 {
		t.Fatalf("TabSwitch count = %d, want 1", got)
	}
	last, _ := rep.last()
	if !last.Opt.CaptureScreen {
		t.Error("TabSwitch must force a screen capture")
	}

	clock.Advance(2300 * time.Millisecond)
	m.Handle(HostEvent{Type: VisibilityVisible})

	if len(rep.patches) != 1 || rep.patches[0] != 2300 {
		t.Errorf("patches = %v, want [2300]", rep.patches)
	}
}

func TestVisibleWithoutHiddenDoesNotPatch(t *testing.T) {
	m, rep, _ := newWindowTestMonitor(DefaultWindowConfig())

	m.Handle(HostEvent{Type: VisibilityVisible})
	if len(rep.patches) != 0 {
		t.Errorf("patches = %v, want none", rep.patches)
	}
}

func TestEveryTabSwitchIsLogged(t *testing.T) {
	// Tab switches are exempt from the cooldown at the store level; the
	// monitor itself must report each one.
	m, rep, clock := newWindowTestMonitor(DefaultWindowConfig())

	for i := 0; i < 3; i++ {
		m.Handle(HostEvent{Type: VisibilityHidden})
		clock.Advance(time.Second)
		m.Handle(HostEvent{Type: VisibilityVisible})
	}
	if got := rep.count(event.KindTabSwitch); got != 3 {
		t.Errorf("TabSwitch count = %d, want 3", got)
	}
	if len(rep.patches) != 3 {
		t.Errorf("patch count = %d, want 3", len(rep.patches))
	}
}

func TestClipboardAndContextMenu(t *testing.T) {
	m, rep, _ := newWindowTestMonitor(DefaultWindowConfig())

	m.Handle(HostEvent{Type: ClipboardCopy})
	m.Handle(HostEvent{Type: ClipboardCut})
	m.Handle(HostEvent{Type: ClipboardPaste})
	m.Handle(HostEvent{Type: ContextMenu})
	m.Handle(HostEvent{Type: WindowBlur})
	m.Handle(HostEvent{Type: WindowFocus})

	if got := rep.count(event.KindCopyAttempt); got != 3 {
		t.Errorf("CopyAttempt count = %d, want 3", got)
	}
	if got := rep.count(event.KindContextMenu); got != 1 {
		t.Errorf("ContextMenu count = %d, want 1", got)
	}
	if got := rep.count(event.KindWindowBlur); got != 1 {
		t.Errorf("WindowBlur count = %d, want 1", got)
	}

	details := map[string]bool{}
	for _, r := range rep.all() {
		if r.Kind == event.KindCopyAttempt {
			details[r.Opt.Detail] = true
		}
	}
	for _, want := range []string{"copy", "cut", "paste"} {
		if !details[want] {
			t.Errorf("missing CopyAttempt detail %q", want)
		}
	}
}

func TestShortcutDenylist(t *testing.T) {
	cfg := DefaultWindowConfig()
	cfg.ExtraBlockedShortcuts = []string{"Ctrl+Shift+X"}
	m, rep, _ := newWindowTestMonitor(cfg)

	cases := []struct {
		combo   KeyCombo
		blocked bool
	}{
		{KeyCombo{Key: "I", Ctrl: true, Shift: true}, true},
		{KeyCombo{Key: "U", Ctrl: true}, true},
		{KeyCombo{Key: "Tab", Alt: true}, true},
		{KeyCombo{Key: "F5"}, true},
		{KeyCombo{Key: "X", Ctrl: true, Shift: true}, true}, // from config
		{KeyCombo{Key: "A", Ctrl: true}, false},             // select-all is allowed
		{KeyCombo{Key: "C", Ctrl: true}, false},             // plain copy handled via clipboard events
		{KeyCombo{Key: "a"}, false},
	}

	for _, tc := range cases {
		if got := m.ShouldBlock(tc.combo); got != tc.blocked {
			t.Errorf("ShouldBlock(%s) = %v, want %v", tc.combo, got, tc.blocked)
		}
		m.Handle(HostEvent{Type: KeyDown, Key: tc.combo})
	}

	// Only the blocked combos produce violations.
	if got := rep.count(event.KindKeyboardShortcut); got != 5 {
		t.Errorf("KeyboardShortcut count = %d, want 5", got)
	}
	last, _ := rep.last()
	if last.Kind == event.KindKeyboardShortcut && last.Opt.Detail == "" {
		t.Error("KeyboardShortcut must carry the combo in its detail")
	}
}

func TestKeyComboString(t *testing.T) {
	cases := []struct {
		combo KeyCombo
		want  string
	}{
		{KeyCombo{Key: "I", Ctrl: true, Shift: true}, "Ctrl+Shift+I"},
		{KeyCombo{Key: "Tab", Alt: true}, "Alt+Tab"},
		{KeyCombo{Key: "D", Meta: true}, "Meta+D"},
		{KeyCombo{Key: "F11"}, "F11"},
		{KeyCombo{Key: "X", Ctrl: true, Alt: true, Shift: true, Meta: true}, "Ctrl+Alt+Shift+Meta+X"},
	}
	for _, tc := range cases {
		if got := tc.combo.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}

func TestDevtoolsHeuristic(t *testing.T) {
	cases := []struct {
		name                           string
		outerW, outerH, innerW, innerH int
		err                            error
		fires                          bool
	}{
		{"no gap", 1920, 1080, 1920, 1040, nil, false},
		{"docked right", 1920, 1080, 1520, 1040, nil, true},
		{"docked bottom", 1920, 1080, 1920, 700, nil, true},
		{"gap at threshold", 1920, 1080, 1760, 1040, nil, false},
		{"viewport error", 0, 0, 0, 0, errors.New("not available"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rep := newFakeReporter()
			viewport := func() (int, int, int, int, error) {
				return tc.outerW, tc.outerH, tc.innerW, tc.innerH, tc.err
			}
			m := NewWindowMonitor(rep, nil, viewport, DefaultWindowConfig(), nil)
			m.CheckDevtools()

			want := 0
			if tc.fires {
				want = 1
			}
			if got := rep.count(event.KindDevtoolsOpen); got != want {
				t.Errorf("DevtoolsOpen count = %d, want %d", got, want)
			}
		})
	}
}

// chanEvents adapts a raw channel to the HostEvents feed.
type chanEvents struct{ ch chan HostEvent }

func (c chanEvents) Events() <-chan HostEvent { return c.ch }

func TestWindowMonitorEventLoop(t *testing.T) {
	rep := newFakeReporter()
	feed := chanEvents{ch: make(chan HostEvent)}
	m := NewWindowMonitor(rep, feed, nil, DefaultWindowConfig(), nil)

	m.Start(context.Background())
	feed.ch <- HostEvent{Type: WindowBlur}
	feed.ch <- HostEvent{Type: ContextMenu}
	m.Stop()

	if got := rep.count(event.KindWindowBlur); got != 1 {
		t.Errorf("WindowBlur count = %d, want 1", got)
	}
	if got := rep.count(event.KindContextMenu); got != 1 {
		t.Errorf("ContextMenu count = %d, want 1", got)
	}
}
