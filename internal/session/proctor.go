package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"proctord/internal/event"
	"proctord/internal/media"
	"proctord/internal/monitor"
)

// Sources bundles the already-opened handles the host gives the engine. Any
// field may be nil (or a nil channel); the corresponding monitor is then
// inert. The engine closes closable sources exactly once at finalize.
type Sources struct {
	Webcam      media.FrameSource
	Screen      media.FrameSource
	Audio       media.AudioSource
	Speech      media.SpeechDetector
	ScreenTrack media.ScreenTrack

	// HostEvents feeds window/input events; Fullscreen feeds fullscreen
	// state changes (true = fullscreen).
	HostEvents monitor.HostEvents
	Fullscreen <-chan bool

	// Viewport backs the devtools heuristic.
	Viewport monitor.ViewportFunc

	// Displays enumerates active displays; nil disables topology checks.
	Displays monitor.DisplayCounter

	// Detector and Reference back the face/identity monitor. A nil
	// Reference disables only the identity check.
	Detector  monitor.FaceDetector
	Reference []float64

	// ExitFullscreen, when set, is invoked at finalize to leave fullscreen.
	ExitFullscreen func()
}

// Config tunes a session.
type Config struct {
	// SessionID identifies the session in logs and the archive. Generated
	// when empty.
	SessionID string

	// Duration is the exam length.
	Duration time.Duration

	// MonitoringDisabled leaves only the clock and finalizer active.
	MonitoringDisabled bool

	// PeriodicCapture is the cadence of routine webcam captures. Zero
	// disables them.
	PeriodicCapture time.Duration

	// Cooldown overrides the store's per-kind violation spacing.
	Cooldown time.Duration

	Face        monitor.FaceConfig
	Audio       monitor.AudioConfig
	Window      monitor.WindowConfig
	Display     monitor.DisplayConfig
	ScreenShare monitor.ScreenShareConfig
}

// DefaultConfig returns the standard session tuning.
func DefaultConfig(duration time.Duration) Config {
	return Config{
		Duration:        duration,
		PeriodicCapture: 30 * time.Second,
		Face:            monitor.DefaultFaceConfig(),
		Audio:           monitor.DefaultAudioConfig(),
		Window:          monitor.DefaultWindowConfig(),
		Display:         monitor.DefaultDisplayConfig(),
		ScreenShare:     monitor.DefaultScreenShareConfig(),
	}
}

// Archiver persists a finalized session result. The archive store satisfies
// it; a nil archiver skips persistence.
type Archiver interface {
	SaveResult(ctx context.Context, sessionID string, startedAt time.Time, reason string, res *event.Result) error
}

// Status is the live snapshot the host polls for presentation.
type Status struct {
	Face              monitor.FaceStatus
	ScreenShareOK     bool
	AudioLevel        float64
	Remaining         time.Duration
	FullscreenBlocked bool
	DisplayBlocked    bool
}

// ResultFunc receives the frozen session result exactly once.
type ResultFunc func(reason string, res *event.Result)

// Proctor owns one session: the event store, the monitors, the countdown,
// and the single idempotent finalize path.
type Proctor struct {
	cfg      Config
	src      Sources
	logger   *slog.Logger
	onResult ResultFunc
	archiver Archiver

	store *event.Store
	clock *Clock

	face       *monitor.FaceMonitor
	audio      *monitor.AudioMonitor
	window     *monitor.WindowMonitor
	fullscreen *monitor.FullscreenMonitor
	display    *monitor.DisplayMonitor
	share      *monitor.ScreenShareMonitor

	now       func() time.Time
	startedAt time.Time

	submitted atomic.Bool
	done      chan struct{}

	mu     sync.Mutex
	result *event.Result

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New assembles a session from configuration and host-provided sources. The
// result callback may be nil when the host consumes the result through
// Done/Result instead.
func New(cfg Config, src Sources, onResult ResultFunc, logger *slog.Logger) *Proctor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SessionID == "" {
		cfg.SessionID = newSessionID()
	}
	logger = logger.With("component", "session", "session_id", cfg.SessionID)

	p := &Proctor{
		cfg:      cfg,
		src:      src,
		logger:   logger,
		onResult: onResult,
		now:      time.Now,
		done:     make(chan struct{}),
	}

	p.store = event.NewStore(event.StoreConfig{
		Webcam:   src.Webcam,
		Screen:   src.Screen,
		Cooldown: cfg.Cooldown,
		Logger:   logger,
	})
	p.clock = NewClock(cfg.Duration, func() { p.finalize("time-up") })

	if cfg.MonitoringDisabled {
		return p
	}

	p.face = monitor.NewFaceMonitor(p.store, src.Webcam, src.Detector, src.Reference, cfg.Face, logger)
	p.audio = monitor.NewAudioMonitor(p.store, src.Audio, src.Speech, cfg.Audio, logger)
	p.window = monitor.NewWindowMonitor(p.store, src.HostEvents, src.Viewport, cfg.Window, logger)
	p.fullscreen = monitor.NewFullscreenMonitor(p.store, src.Fullscreen, logger)
	p.display = monitor.NewDisplayMonitor(p.store, src.Displays, cfg.Display, logger)
	if src.ScreenTrack != nil {
		p.share = monitor.NewScreenShareMonitor(p.store, src.ScreenTrack, p.finalize, cfg.ScreenShare, logger)
	}
	return p
}

// SetArchiver attaches a result archiver. Must be called before Start.
func (p *Proctor) SetArchiver(a Archiver) {
	p.archiver = a
}

// SessionID returns the session identifier.
func (p *Proctor) SessionID() string {
	return p.cfg.SessionID
}

// Start launches the clock and, unless monitoring is disabled, every wired
// monitor.
func (p *Proctor) Start(ctx context.Context) {
	p.startedAt = p.now()
	ctx, p.cancel = context.WithCancel(ctx)

	p.logger.Info("session started",
		"duration", p.cfg.Duration,
		"monitoring_disabled", p.cfg.MonitoringDisabled,
	)

	p.clock.Start(ctx)
	if p.cfg.MonitoringDisabled {
		return
	}

	p.face.Start(ctx)
	p.audio.Start(ctx)
	p.window.Start(ctx)
	p.fullscreen.Start(ctx)
	p.display.Start(ctx)
	if p.share != nil {
		p.share.Start(ctx)
	}

	if p.cfg.PeriodicCapture > 0 {
		p.wg.Add(1)
		go p.captureLoop(ctx)
	}
}

// captureLoop takes routine webcam snapshots so the capture log has a
// baseline even during violation-free sessions.
func (p *Proctor) captureLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PeriodicCapture)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.store.CaptureNow(event.SourceWebcam, event.TriggerPeriodic)
		}
	}
}

// RequestSubmit triggers finalize through the same idempotent path as
// time-up. The host calls it after its own confirmation step.
func (p *Proctor) RequestSubmit() {
	p.finalize("manual-submit")
}

// Submitted reports whether finalize has been entered.
func (p *Proctor) Submitted() bool {
	return p.submitted.Load()
}

// Done is closed once the result has been delivered and all resources are
// released.
func (p *Proctor) Done() <-chan struct{} {
	return p.done
}

// Result returns the frozen result, nil until Done is closed.
func (p *Proctor) Result() *event.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

// Status assembles the live snapshot for presentation.
func (p *Proctor) Status() Status {
	st := Status{
		Face:          monitor.FaceOK,
		ScreenShareOK: true,
		Remaining:     p.clock.Remaining(),
	}
	if p.cfg.MonitoringDisabled {
		return st
	}

	st.Face = p.face.Status()
	st.AudioLevel = p.audio.Level()
	st.FullscreenBlocked = p.fullscreen.Blocking()
	st.DisplayBlocked = p.display.Blocking()
	if p.share != nil {
		st.ScreenShareOK = p.share.Healthy()
	}
	return st
}

// finalize is the single idempotent session exit. The first caller wins;
// every later call, from any path, is a silent no-op. Teardown runs on its
// own goroutine because finalize is reached from inside monitor callbacks,
// which must not wait on their own loop's shutdown.
func (p *Proctor) finalize(reason string) {
	if !p.submitted.CompareAndSwap(false, true) {
		return
	}
	go p.shutdown(reason)
}

func (p *Proctor) shutdown(reason string) {
	p.logger.Info("session finalizing", "reason", reason)

	if p.cancel != nil {
		p.cancel()
	}
	p.clock.Stop()

	if !p.cfg.MonitoringDisabled {
		p.face.Stop()
		p.audio.Stop()
		p.window.Stop()
		p.fullscreen.Stop()
		p.display.Stop()
		if p.share != nil {
			p.share.Stop()
		}
	}
	p.wg.Wait()

	if p.src.ExitFullscreen != nil {
		p.src.ExitFullscreen()
	}

	media.Release(p.src.Webcam)
	media.Release(p.src.Screen)
	media.Release(p.src.Audio)
	media.Release(p.src.ScreenTrack)

	elapsed := p.now().Sub(p.startedAt)
	res := p.store.Freeze(elapsed)

	if p.archiver != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := p.archiver.SaveResult(ctx, p.cfg.SessionID, p.startedAt, reason, res); err != nil {
			p.logger.Error("result archive failed", "error", err)
		}
		cancel()
	}

	violations, captures, clips := len(res.Violations), len(res.Captures), len(res.Clips)
	p.logger.Info("session finalized",
		"reason", reason,
		"elapsed", res.Elapsed,
		"violations", violations,
		"captures", captures,
		"clips", clips,
	)

	p.mu.Lock()
	p.result = res
	p.mu.Unlock()

	if p.onResult != nil {
		p.onResult(reason, res)
	}
	close(p.done)
}

// newSessionID returns a random 16-hex-character session identifier.
func newSessionID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "session-unknown"
	}
	return hex.EncodeToString(b[:])
}
