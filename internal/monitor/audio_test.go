package monitor

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"proctord/internal/event"
	"proctord/internal/media"
)

func testAudioConfig() AudioConfig {
	cfg := DefaultAudioConfig()
	cfg.CalibrationSamples = 10
	cfg.ClipDuration = time.Millisecond
	return cfg
}

// calibrationLevels is a quiet room with one early spike. The percentile
// baseline must absorb the spike.
func calibrationLevels() []float64 {
	levels := make([]float64, 10)
	for i := range levels {
		levels[i] = 20
	}
	levels[2] = 100
	return levels
}

func newAudioTestMonitor(levels []float64, speech *fakeSpeech) (*AudioMonitor, *fakeReporter, *fakeAudio, *manualClock) {
	rep := newFakeReporter()
	audio := &fakeAudio{levels: levels}
	clock := newManualClock()
	var sp media.SpeechDetector
	if speech != nil {
		sp = speech
	}
	m := NewAudioMonitor(rep, audio, sp, testAudioConfig(), nil)
	m.SetNow(clock.Now)
	return m, rep, audio, clock
}

// drive runs n samples and waits for any spawned recording goroutine.
func drive(ctx context.Context, m *AudioMonitor, n int) {
	for i := 0; i < n; i++ {
		m.Sample(ctx)
	}
	m.Stop()
}

func TestAudioCalibration(t *testing.T) {
	m, rep, _, _ := newAudioTestMonitor(calibrationLevels(), nil)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		m.Sample(ctx)
		if m.Calibrated() {
			t.Fatalf("calibrated after %d samples, want 10", i+1)
		}
	}
	m.Sample(ctx)

	if !m.Calibrated() {
		t.Fatal("not calibrated after full window")
	}
	if got := m.Baseline(); math.Abs(got-20) > 1e-9 {
		t.Errorf("baseline = %v, want 20 (spike absorbed by percentile)", got)
	}
	if len(rep.all()) != 0 {
		t.Errorf("calibration emitted %d violations, want 0", len(rep.all()))
	}
	if got := m.Level(); math.Abs(got-20) > 1e-9 {
		t.Errorf("Level() = %v, want last sample 20", got)
	}
}

func TestSustainedVoiceFiresOnce(t *testing.T) {
	// Calibration, then five frames above baseline+margin (20+12=32).
	levels := append(calibrationLevels(), 40, 40, 40, 40, 40)
	m, rep, audio, _ := newAudioTestMonitor(levels, nil)
	ctx := context.Background()

	drive(ctx, m, 14)
	if got := rep.count(event.KindNoiseDetected); got != 0 {
		t.Fatalf("NoiseDetected fired before %d voice frames", 5)
	}
	drive(ctx, m, 1) // fifth voice frame

	if got := rep.count(event.KindNoiseDetected); got != 1 {
		t.Fatalf("NoiseDetected count = %d, want 1", got)
	}
	if audio.recorded != 1 {
		t.Errorf("recorded %d clips, want 1", audio.recorded)
	}
	if len(rep.clips) != 1 {
		t.Errorf("attached %d clips, want 1", len(rep.clips))
	}

	// No speech detector: fails open, the flag is promoted.
	if got := rep.count(event.KindAudioDetected); got != 1 {
		t.Errorf("AudioDetected count = %d, want 1", got)
	}
	last, _ := rep.last()
	if last.Kind == event.KindAudioDetected && last.Opt.ClipID == 0 {
		t.Error("AudioDetected missing clip reference")
	}
}

func TestNoiseSpacing(t *testing.T) {
	levels := append(calibrationLevels(),
		40, 40, 40, 40, 40, // first burst: fires
		40, 40, 40, 40, 40, // inside the spacing window: silent
		40, 40, 40, 40, 40, // after the window: fires again
	)
	m, rep, _, clock := newAudioTestMonitor(levels, nil)
	ctx := context.Background()

	drive(ctx, m, 15)
	if got := rep.count(event.KindNoiseDetected); got != 1 {
		t.Fatalf("first burst count = %d, want 1", got)
	}

	clock.Advance(5 * time.Second)
	drive(ctx, m, 5)
	if got := rep.count(event.KindNoiseDetected); got != 1 {
		t.Fatalf("burst inside spacing window fired, count = %d", got)
	}

	clock.Advance(8 * time.Second) // 13 s since the first flag
	drive(ctx, m, 5)
	if got := rep.count(event.KindNoiseDetected); got != 2 {
		t.Errorf("burst after spacing window count = %d, want 2", got)
	}
}

func TestVoiceFrameCounterDecays(t *testing.T) {
	// Four loud frames, one quiet, one loud: the counter sits at four, so
	// six raw loud frames with a gap never reach the threshold.
	levels := append(calibrationLevels(), 40, 40, 40, 40, 20, 40)
	m, rep, _, _ := newAudioTestMonitor(levels, nil)
	ctx := context.Background()

	drive(ctx, m, 16)
	if got := rep.count(event.KindNoiseDetected); got != 0 {
		t.Fatalf("interrupted burst fired, count = %d", got)
	}

	// One more loud frame closes the gap.
	drive(ctx, m, 1)
	if got := rep.count(event.KindNoiseDetected); got != 1 {
		t.Errorf("count = %d, want 1 after counter recovers", got)
	}
}

func TestSpeechDetectorGatesPromotion(t *testing.T) {
	levels := append(calibrationLevels(), 40, 40, 40, 40, 40)

	t.Run("inactive speech suppresses AudioDetected", func(t *testing.T) {
		m, rep, _, _ := newAudioTestMonitor(levels, &fakeSpeech{active: false})
		drive(context.Background(), m, 15)

		if got := rep.count(event.KindNoiseDetected); got != 1 {
			t.Fatalf("NoiseDetected count = %d, want 1", got)
		}
		if len(rep.clips) != 1 {
			t.Errorf("clip not attached: evidence is kept even without promotion")
		}
		if got := rep.count(event.KindAudioDetected); got != 0 {
			t.Errorf("AudioDetected count = %d, want 0", got)
		}
	})

	t.Run("speech detector failure fails open", func(t *testing.T) {
		m, rep, _, _ := newAudioTestMonitor(levels, &fakeSpeech{err: errors.New("vad unavailable")})
		drive(context.Background(), m, 15)

		if got := rep.count(event.KindAudioDetected); got != 1 {
			t.Errorf("AudioDetected count = %d, want 1 on detector failure", got)
		}
	})
}

func TestRecordingFailureKeepsNoiseFlag(t *testing.T) {
	levels := append(calibrationLevels(), 40, 40, 40, 40, 40)
	m, rep, audio, _ := newAudioTestMonitor(levels, nil)
	audio.recordErr = errors.New("device busy")

	drive(context.Background(), m, 15)

	if got := rep.count(event.KindNoiseDetected); got != 1 {
		t.Errorf("NoiseDetected count = %d, want 1", got)
	}
	if len(rep.clips) != 0 {
		t.Errorf("attached %d clips despite recording failure", len(rep.clips))
	}
	if got := rep.count(event.KindAudioDetected); got != 0 {
		t.Errorf("AudioDetected count = %d, want 0 without a clip", got)
	}
}

func TestRejectedReportSkipsRecording(t *testing.T) {
	levels := append(calibrationLevels(), 40, 40, 40, 40, 40)
	m, rep, audio, _ := newAudioTestMonitor(levels, nil)
	rep.rejectAt[event.KindNoiseDetected] = true

	drive(context.Background(), m, 15)

	if audio.recorded != 0 {
		t.Errorf("recorded %d clips for a rejected report", audio.recorded)
	}
	if got := rep.count(event.KindAudioDetected); got != 0 {
		t.Errorf("AudioDetected count = %d, want 0", got)
	}
}

func TestNilAudioSourceIsInert(t *testing.T) {
	rep := newFakeReporter()
	m := NewAudioMonitor(rep, nil, nil, testAudioConfig(), nil)

	for i := 0; i < 20; i++ {
		m.Sample(context.Background())
	}
	if len(rep.all()) != 0 {
		t.Errorf("nil source produced %d violations", len(rep.all()))
	}
	if m.Calibrated() {
		t.Error("nil source must never calibrate")
	}
}
