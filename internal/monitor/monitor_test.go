package monitor

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"proctord/internal/event"
)

// reportedViolation is one call captured by the fake reporter.
type reportedViolation struct {
	Kind event.Kind
	Opt  event.Options
}

// fakeReporter captures Report/Patch/Attach calls without cooldown policy,
// so monitor tests observe raw emission behavior.
type fakeReporter struct {
	mu       sync.Mutex
	reports  []reportedViolation
	patches  []int64
	clips    [][]byte
	nextID   int64
	rejectAt map[event.Kind]bool // kinds whose reports return ok=false
	frozen   bool
}

func newFakeReporter() *fakeReporter {
	return &fakeReporter{rejectAt: make(map[event.Kind]bool)}
}

func (r *fakeReporter) Report(kind event.Kind, opt event.Options) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen || r.rejectAt[kind] {
		return 0, false
	}
	r.nextID++
	r.reports = append(r.reports, reportedViolation{Kind: kind, Opt: opt})
	return r.nextID, true
}

func (r *fakeReporter) PatchAwayDuration(awayMS int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return false
	}
	r.patches = append(r.patches, awayMS)
	return true
}

func (r *fakeReporter) AttachClip(violationID int64, audio []byte, recordedAt time.Time) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return 0, false
	}
	r.clips = append(r.clips, audio)
	return int64(len(r.clips)), true
}

func (r *fakeReporter) count(kind event.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for _, rec := range r.reports {
		if rec.Kind == kind {
			n++
		}
	}
	return n
}

func (r *fakeReporter) last() (reportedViolation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.reports) == 0 {
		return reportedViolation{}, false
	}
	return r.reports[len(r.reports)-1], true
}

func (r *fakeReporter) all() []reportedViolation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]reportedViolation, len(r.reports))
	copy(out, r.reports)
	return out
}

func (r *fakeReporter) freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// stubFrames is a minimal always-live frame source.
type stubFrames struct{}

func (stubFrames) Snapshot(ctx context.Context) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 2, 2)), nil
}

func (stubFrames) Live() bool { return true }

// deadFrames is a frame source whose track has ended.
type deadFrames struct{}

func (deadFrames) Snapshot(ctx context.Context) (image.Image, error) {
	return nil, errors.New("source ended")
}

func (deadFrames) Live() bool { return false }

// scriptedDetector returns face counts from a script, one entry per cycle.
type scriptedDetector struct {
	mu     sync.Mutex
	script [][]Face
	errs   []error
	pos    int
}

func (d *scriptedDetector) Detect(ctx context.Context, frame image.Image) ([]Face, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pos >= len(d.script) {
		if len(d.script) == 0 {
			return nil, nil
		}
		return d.script[len(d.script)-1], nil
	}
	faces := d.script[d.pos]
	var err error
	if d.pos < len(d.errs) {
		err = d.errs[d.pos]
	}
	d.pos++
	return faces, err
}

// manualClock is a settable clock shared by monitor tests.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeAudio produces scripted band-energy spectra and canned recordings.
type fakeAudio struct {
	mu        sync.Mutex
	levels    []float64
	pos       int
	recordErr error
	recorded  int
}

// Spectrum synthesizes a flat spectrum whose in-band energy equals the next
// scripted level (16 kHz rate, 100 bins).
func (a *fakeAudio) Spectrum(ctx context.Context) ([]float64, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var level float64
	switch {
	case a.pos < len(a.levels):
		level = a.levels[a.pos]
		a.pos++
	case len(a.levels) > 0:
		level = a.levels[len(a.levels)-1]
	}
	spectrum := make([]float64, 100)
	for i := range spectrum {
		spectrum[i] = level
	}
	return spectrum, 16000, nil
}

func (a *fakeAudio) Record(ctx context.Context, d time.Duration) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.recordErr != nil {
		return nil, a.recordErr
	}
	a.recorded++
	return []byte("clip"), nil
}

// fakeSpeech is a scripted speech-activity signal.
type fakeSpeech struct {
	active bool
	err    error
}

func (s *fakeSpeech) Active(ctx context.Context) (bool, error) {
	return s.active, s.err
}

// fakeTrack is a closable screen track.
type fakeTrack struct {
	surface string
	ended   chan struct{}
	once    sync.Once
}

func newFakeTrack(surface string) *fakeTrack {
	return &fakeTrack{surface: surface, ended: make(chan struct{})}
}

func (t *fakeTrack) Ended() <-chan struct{}  { return t.ended }
func (t *fakeTrack) DisplaySurface() string { return t.surface }

func (t *fakeTrack) stop() {
	t.once.Do(func() { close(t.ended) })
}

// fakeCounter is a settable display counter.
type fakeCounter struct {
	mu    sync.Mutex
	count int
	err   error
}

func (c *fakeCounter) Count(ctx context.Context) (int, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count, "test", c.err
}

func (c *fakeCounter) set(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count = n
}
