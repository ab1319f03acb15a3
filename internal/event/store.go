package event

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"proctord/internal/media"
)

// DefaultCooldown is the minimum gap between same-kind violations. Tab
// switches are exempt because each one carries a distinct away-duration.
const DefaultCooldown = 10 * time.Second

// Violation is one recorded integrity event. Records are immutable once
// appended, with a single exception: a tab-switch record's away-duration is
// patched exactly once when visibility returns.
type Violation struct {
	ID        int64
	Kind      Kind
	Label     string
	Severity  Severity
	Timestamp time.Time

	// WebcamImage and ScreenImage are PNG payloads, nil when the capture
	// failed or was not requested. Capture failure never suppresses the
	// record itself.
	WebcamImage []byte
	ScreenImage []byte

	// ClipID references an audio clip attached after recording completed.
	// Zero means no clip.
	ClipID int64

	// AwayMS is the away-duration for tab switches; HasAway distinguishes a
	// patched zero from an unpatched record.
	AwayMS  int64
	HasAway bool

	Detail string
}

// CaptureSource identifies which device produced a capture.
type CaptureSource string

const (
	SourceWebcam CaptureSource = "webcam"
	SourceScreen CaptureSource = "screen"
)

// CaptureTrigger records why a capture was taken.
type CaptureTrigger string

const (
	TriggerPeriodic       CaptureTrigger = "periodic"
	TriggerViolation      CaptureTrigger = "violation"
	TriggerFullscreenExit CaptureTrigger = "fullscreen_exit"
)

// Capture is one entry in the capture log.
type Capture struct {
	ID        int64
	Timestamp time.Time
	Source    CaptureSource
	Image     []byte
	Trigger   CaptureTrigger
}

// AudioClip is a recorded audio evidence clip, attached to a violation by ID
// once recording completes.
type AudioClip struct {
	ID          int64
	Timestamp   time.Time
	Audio       []byte
	ViolationID int64
}

// Result is the immutable terminal payload delivered to the submission
// collaborator exactly once.
type Result struct {
	Violations []Violation
	Captures   []Capture
	Clips      []AudioClip
	Elapsed    time.Duration
}

// Options modifies a single Report call.
type Options struct {
	// CaptureScreen requests a screen snapshot in addition to the webcam
	// snapshot that is always attempted.
	CaptureScreen bool

	// Trigger tags the capture-log entries appended for this violation.
	// Defaults to TriggerViolation.
	Trigger CaptureTrigger

	// AwayMS records an away-duration at report time (HasAway must be set).
	AwayMS  int64
	HasAway bool

	// Detail is free text attached to the record.
	Detail string

	// BypassCooldown skips the cooldown gate. Identity mismatches set it:
	// they must never be silently cooled down.
	BypassCooldown bool

	// ClipID references a pre-recorded audio clip.
	ClipID int64
}

// StoreConfig configures the event store.
type StoreConfig struct {
	// Webcam and Screen are the capture sources; either may be nil.
	Webcam media.FrameSource
	Screen media.FrameSource

	// Cooldown overrides DefaultCooldown when positive.
	Cooldown time.Duration

	// CaptureTimeout bounds a single snapshot attempt so a stalled source
	// cannot block a monitor callback. Defaults to 2 s.
	CaptureTimeout time.Duration

	// Now overrides the wall clock, for tests.
	Now func() time.Time

	Logger *slog.Logger
}

// Store is the single owner of all evidentiary records. Monitors write
// through Report and never retain their own copies; cross-monitor ordering is
// store-append order.
type Store struct {
	mu sync.Mutex

	webcam media.FrameSource
	screen media.FrameSource

	cooldown       time.Duration
	captureTimeout time.Duration
	now            func() time.Time
	logger         *slog.Logger

	lastFired [kindCount]time.Time

	violations []Violation
	captures   []Capture
	clips      []AudioClip

	nextViolationID int64
	nextCaptureID   int64
	nextClipID      int64

	frozen bool
}

// NewStore creates an empty event store.
func NewStore(cfg StoreConfig) *Store {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = 2 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Store{
		webcam:         cfg.Webcam,
		screen:         cfg.Screen,
		cooldown:       cfg.Cooldown,
		captureTimeout: cfg.CaptureTimeout,
		now:            cfg.Now,
		logger:         cfg.Logger.With("component", "event_store"),
	}
}

// Report records a violation of the given kind. It returns the new record's
// ID so late-arriving audio can reference it, and false when the call was a
// no-op (cooldown active, or the store is frozen).
//
// The cooldown is stamped before captures run, so concurrent same-kind
// reports cannot both pass the gate. Captures run outside the store lock:
// the only blocking a monitor callback can see is one capture latency.
func (s *Store) Report(kind Kind, opt Options) (int64, bool) {
	now := s.now()

	s.mu.Lock()
	if s.frozen {
		s.mu.Unlock()
		return 0, false
	}
	if !opt.BypassCooldown && kind != KindTabSwitch {
		if last := s.lastFired[kind]; !last.IsZero() && now.Sub(last) < s.cooldown {
			s.mu.Unlock()
			return 0, false
		}
	}
	s.lastFired[kind] = now
	s.mu.Unlock()

	trigger := opt.Trigger
	if trigger == "" {
		trigger = TriggerViolation
	}

	// Captures happen outside the lock. Failure omits the field; it is
	// never a detection failure.
	ctx, cancel := context.WithTimeout(context.Background(), s.captureTimeout)
	defer cancel()

	webcamImg, err := media.CapturePNG(ctx, s.webcam)
	if err != nil {
		webcamImg = nil
	}
	var screenImg []byte
	if opt.CaptureScreen {
		if screenImg, err = media.CapturePNG(ctx, s.screen); err != nil {
			screenImg = nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The session may have finalized while a capture was in flight.
	if s.frozen {
		return 0, false
	}

	s.nextViolationID++
	v := Violation{
		ID:          s.nextViolationID,
		Kind:        kind,
		Label:       kind.Label(),
		Severity:    kind.Severity(),
		Timestamp:   now,
		WebcamImage: webcamImg,
		ScreenImage: screenImg,
		ClipID:      opt.ClipID,
		AwayMS:      opt.AwayMS,
		HasAway:     opt.HasAway,
		Detail:      opt.Detail,
	}
	s.violations = append(s.violations, v)

	if webcamImg != nil {
		s.appendCaptureLocked(now, SourceWebcam, webcamImg, trigger)
	}
	if screenImg != nil {
		s.appendCaptureLocked(now, SourceScreen, screenImg, trigger)
	}

	s.logger.Info("violation recorded",
		"kind", kind.String(),
		"severity", string(v.Severity),
		"id", v.ID,
	)

	return v.ID, true
}

// CaptureNow takes an immediate snapshot of the given source and appends it
// to the capture log. Used for the periodic capture loop. Returns the entry
// ID, or 0 when the capture failed or the store is frozen.
func (s *Store) CaptureNow(source CaptureSource, trigger CaptureTrigger) int64 {
	src := s.webcam
	if source == SourceScreen {
		src = s.screen
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.captureTimeout)
	defer cancel()

	img, err := media.CapturePNG(ctx, src)
	if err != nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return 0
	}
	return s.appendCaptureLocked(s.now(), source, img, trigger)
}

// PatchAwayDuration sets the away-duration on the most recent tab-switch
// record that has not been patched yet. Exactly one record is patched per
// hide/show cycle; returns false when no unpatched record exists.
func (s *Store) PatchAwayDuration(awayMS int64) bool {
	if awayMS < 0 {
		awayMS = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return false
	}

	for i := len(s.violations) - 1; i >= 0; i-- {
		v := &s.violations[i]
		if v.Kind == KindTabSwitch && !v.HasAway {
			v.AwayMS = awayMS
			v.HasAway = true
			return true
		}
	}
	return false
}

// AttachClip appends a completed audio recording to the clip list and links
// it to the triggering violation. Returns the clip ID, and false when the
// store is frozen or the violation does not exist.
func (s *Store) AttachClip(violationID int64, audio []byte, recordedAt time.Time) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return 0, false
	}

	var target *Violation
	for i := range s.violations {
		if s.violations[i].ID == violationID {
			target = &s.violations[i]
			break
		}
	}
	if target == nil {
		return 0, false
	}

	s.nextClipID++
	s.clips = append(s.clips, AudioClip{
		ID:          s.nextClipID,
		Timestamp:   recordedAt,
		Audio:       audio,
		ViolationID: violationID,
	})
	target.ClipID = s.nextClipID

	return s.nextClipID, true
}

// Violations returns a copy of the current violation log.
func (s *Store) Violations() []Violation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Violation, len(s.violations))
	copy(out, s.violations)
	return out
}

// Counts returns the number of violations, captures, and clips recorded.
func (s *Store) Counts() (violations, captures, clips int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.violations), len(s.captures), len(s.clips)
}

// Freeze seals the store and returns the terminal result. All writes after
// Freeze are silent no-ops, which is how late-arriving asynchronous
// callbacks (recording completion, in-flight captures) are ignored after
// finalize. Freeze is idempotent at the store level; the session finalizer
// guarantees it is only invoked once.
func (s *Store) Freeze(elapsed time.Duration) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frozen = true

	res := &Result{
		Violations: make([]Violation, len(s.violations)),
		Captures:   make([]Capture, len(s.captures)),
		Clips:      make([]AudioClip, len(s.clips)),
		Elapsed:    elapsed,
	}
	copy(res.Violations, s.violations)
	copy(res.Captures, s.captures)
	copy(res.Clips, s.clips)
	return res
}

// Frozen reports whether the store has been sealed.
func (s *Store) Frozen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frozen
}

func (s *Store) appendCaptureLocked(ts time.Time, source CaptureSource, img []byte, trigger CaptureTrigger) int64 {
	s.nextCaptureID++
	s.captures = append(s.captures, Capture{
		ID:        s.nextCaptureID,
		Timestamp: ts,
		Source:    source,
		Image:     img,
		Trigger:   trigger,
	})
	return s.nextCaptureID
}
