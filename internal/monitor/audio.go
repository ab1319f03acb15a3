package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"proctord/internal/event"
	"proctord/internal/media"
	"proctord/internal/signal"
)

// AudioConfig tunes the audio/voice monitor.
type AudioConfig struct {
	// SampleInterval is the energy sampling cadence.
	SampleInterval time.Duration

	// CalibrationSamples is the calibration window length.
	CalibrationSamples int

	// BaselinePercentile picks the baseline from the calibration window.
	// The 80th percentile is robust against occasional early noise spikes.
	BaselinePercentile float64

	// Margin over the baseline a sample must exceed to count as voice.
	Margin float64

	// VoiceFrameThreshold is the rolling counter value that flags noise.
	VoiceFrameThreshold int

	// NoiseSpacing is the minimum gap between noise flags.
	NoiseSpacing time.Duration

	// ClipDuration is the evidence recording length.
	ClipDuration time.Duration

	// BandLowHz and BandHighHz bound the human voice band.
	BandLowHz  float64
	BandHighHz float64
}

// DefaultAudioConfig returns the standard tuning.
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		SampleInterval:      100 * time.Millisecond,
		CalibrationSamples:  120,
		BaselinePercentile:  0.80,
		Margin:              12,
		VoiceFrameThreshold: 5,
		NoiseSpacing:        12 * time.Second,
		ClipDuration:        12 * time.Second,
		BandLowHz:           300,
		BandHighHz:          3400,
	}
}

// AudioMonitor watches voice-band energy from the microphone. It calibrates
// to the room's own baseline rather than a fixed absolute threshold, which
// absorbs differing microphone gains and ambient conditions, then flags
// sustained energy above baseline+margin and records an evidence clip.
type AudioMonitor struct {
	reporter Reporter
	audio    media.AudioSource
	speech   media.SpeechDetector // may be nil: fail open toward flagging

	cfg    AudioConfig
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	calibration []float64
	baseline    float64
	calibrated  bool
	voiceFrames int
	lastNoise   time.Time
	recording   bool

	// level is the latest band energy, published for the live status
	// snapshot (stored as math.Float64bits).
	level atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAudioMonitor creates an audio monitor. A nil audio source makes every
// sample a no-op.
func NewAudioMonitor(reporter Reporter, audio media.AudioSource, speech media.SpeechDetector, cfg AudioConfig, logger *slog.Logger) *AudioMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &AudioMonitor{
		reporter: reporter,
		audio:    audio,
		speech:   speech,
		cfg:      cfg,
		logger:   logger.With("component", "audio_monitor"),
		now:      time.Now,
	}
}

// Start begins the sampling loop.
func (m *AudioMonitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop cancels the loop, including any in-flight recording, and waits.
func (m *AudioMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Level returns the most recent voice-band energy reading.
func (m *AudioMonitor) Level() float64 {
	return math.Float64frombits(m.level.Load())
}

// Calibrated reports whether the monitor has left calibration mode.
func (m *AudioMonitor) Calibrated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calibrated
}

// Baseline returns the calibrated baseline, zero until calibration ends.
func (m *AudioMonitor) Baseline() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baseline
}

func (m *AudioMonitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample(ctx)
		}
	}
}

// Sample processes one energy sample. Exported for hosts with their own
// audio pump and for tests.
func (m *AudioMonitor) Sample(ctx context.Context) {
	if m.audio == nil {
		return
	}

	spectrum, rate, err := m.audio.Spectrum(ctx)
	if err != nil {
		return
	}

	level := signal.BandEnergy(spectrum, rate, m.cfg.BandLowHz, m.cfg.BandHighHz)
	m.level.Store(math.Float64bits(level))

	now := m.now()

	m.mu.Lock()
	if !m.calibrated {
		m.calibration = append(m.calibration, level)
		if len(m.calibration) >= m.cfg.CalibrationSamples {
			m.baseline = signal.Percentile(m.calibration, m.cfg.BaselinePercentile)
			m.calibrated = true
			m.calibration = nil
			m.logger.Info("audio baseline calibrated", "baseline", m.baseline)
		}
		m.mu.Unlock()
		return
	}

	if level > m.baseline+m.cfg.Margin {
		m.voiceFrames++
	} else if m.voiceFrames > 0 {
		m.voiceFrames--
	}

	fire := m.voiceFrames >= m.cfg.VoiceFrameThreshold &&
		!m.recording &&
		(m.lastNoise.IsZero() || now.Sub(m.lastNoise) >= m.cfg.NoiseSpacing)
	var baseline float64
	if fire {
		m.voiceFrames = 0
		m.lastNoise = now
		m.recording = true
		baseline = m.baseline
	}
	m.mu.Unlock()

	if !fire {
		return
	}

	id, ok := m.reporter.Report(event.KindNoiseDetected, event.Options{
		Detail: fmt.Sprintf("level=%.1f baseline=%.1f", level, baseline),
	})
	if !ok {
		m.mu.Lock()
		m.recording = false
		m.mu.Unlock()
		return
	}

	m.wg.Add(1)
	go m.record(ctx, id, level, baseline)
}

// record captures the evidence clip, attaches it to the triggering
// violation, and promotes the flag to AudioDetected when the independent
// speech signal confirms it. With no speech signal available the sample is
// always treated as voice-confirmed: the policy fails open toward flagging,
// not toward missing evidence.
func (m *AudioMonitor) record(ctx context.Context, violationID int64, level, baseline float64) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		m.recording = false
		m.mu.Unlock()
	}()

	clip, err := m.audio.Record(ctx, m.cfg.ClipDuration)
	if err != nil {
		m.logger.Debug("clip recording failed", "error", err)
		return
	}

	clipID, ok := m.reporter.AttachClip(violationID, clip, m.now())
	if !ok {
		// Session finalized while recording; the late callback is ignored.
		return
	}

	confirmed := true
	if m.speech != nil {
		if active, err := m.speech.Active(ctx); err == nil {
			confirmed = active
		}
	}

	if confirmed {
		m.reporter.Report(event.KindAudioDetected, event.Options{
			ClipID: clipID,
			Detail: fmt.Sprintf("level=%.1f baseline=%.1f", level, baseline),
		})
	}
}

// SetNow overrides the monitor clock, for tests.
func (m *AudioMonitor) SetNow(now func() time.Time) {
	m.now = now
}
