package monitor

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"proctord/internal/event"
	"proctord/internal/media"
	"proctord/internal/signal"
)

// Face is one detected face in a frame.
type Face struct {
	Landmarks []signal.Landmark
}

// FaceDetector runs landmark detection on a frame. The model runtime is an
// external collaborator; the monitor only consumes its output.
type FaceDetector interface {
	Detect(ctx context.Context, frame image.Image) ([]Face, error)
}

// FaceConfig tunes the face/identity/gaze monitor.
type FaceConfig struct {
	// Interval is the detection cycle cadence.
	Interval time.Duration

	// MissThreshold is the consecutive empty-frame count before NoFace.
	MissThreshold int

	// MultiThreshold is the consecutive multi-face count before
	// MultipleFaces.
	MultiThreshold int

	// MismatchThreshold is the consecutive below-similarity count before
	// IdentityMismatch.
	MismatchThreshold int

	// SimilarityThreshold is the cosine similarity floor against the
	// enrollment reference.
	SimilarityThreshold float64

	// YawLimitDeg and PitchLimitDeg bound acceptable head-pose deviation.
	YawLimitDeg   float64
	PitchLimitDeg float64

	// GazeHold is how long a deviation must persist before GazeAway fires.
	GazeHold time.Duration
}

// DefaultFaceConfig returns the standard tuning.
func DefaultFaceConfig() FaceConfig {
	return FaceConfig{
		Interval:            500 * time.Millisecond,
		MissThreshold:       3,
		MultiThreshold:      2,
		MismatchThreshold:   3,
		SimilarityThreshold: 0.72,
		YawLimitDeg:         25,
		PitchLimitDeg:       30,
		GazeHold:            1500 * time.Millisecond,
	}
}

// FaceMonitor samples webcam frames on a fixed cadence and applies the
// hysteresis state machine: N consecutive detections of a condition before a
// violation fires, so single-frame detector noise never reaches the log.
type FaceMonitor struct {
	reporter Reporter
	webcam   media.FrameSource
	detector FaceDetector

	// reference is the enrollment identity embedding; nil disables only the
	// identity check.
	reference []float64

	cfg    FaceConfig
	logger *slog.Logger
	now    func() time.Time

	mu            sync.Mutex
	missCount     int
	multiCount    int
	mismatchCount int
	gazeAwaySince time.Time
	status        FaceStatus

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFaceMonitor creates a face monitor. Webcam and detector may be nil, in
// which case every cycle is skipped and the status stays "ok".
func NewFaceMonitor(reporter Reporter, webcam media.FrameSource, detector FaceDetector, reference []float64, cfg FaceConfig, logger *slog.Logger) *FaceMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FaceMonitor{
		reporter:  reporter,
		webcam:    webcam,
		detector:  detector,
		reference: reference,
		cfg:       cfg,
		logger:    logger.With("component", "face_monitor"),
		now:       time.Now,
		status:    FaceOK,
	}
}

// Start begins the detection loop.
func (m *FaceMonitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop cancels the loop and waits for it to exit. Safe to call twice.
func (m *FaceMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Status returns the current face/identity status for presentation.
func (m *FaceMonitor) Status() FaceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *FaceMonitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Cycle(ctx)
		}
	}
}

// Cycle runs one detection cycle. Exported so the session can drive it
// directly in tests and so a host with its own frame pump can call it
// without the internal ticker.
func (m *FaceMonitor) Cycle(ctx context.Context) {
	if m.webcam == nil || m.detector == nil {
		return
	}

	frame, err := m.webcam.Snapshot(ctx)
	if err != nil {
		// Source failure: skip the cycle, never synthesize a violation.
		return
	}

	faces, err := m.detector.Detect(ctx, frame)
	if err != nil {
		m.logger.Debug("detector error, cycle skipped", "error", err)
		return
	}

	switch {
	case len(faces) == 0:
		m.handleNoFace()
	case len(faces) > 1:
		m.handleMultipleFaces(len(faces))
	default:
		m.handleSingleFace(faces[0])
	}
}

func (m *FaceMonitor) handleNoFace() {
	m.mu.Lock()
	m.multiCount = 0
	m.mismatchCount = 0
	m.gazeAwaySince = time.Time{}
	m.missCount++
	fire := m.missCount >= m.cfg.MissThreshold
	if fire {
		// Re-fire requires the condition to re-accumulate.
		m.missCount = 0
		m.status = FaceNone
	}
	m.mu.Unlock()

	if fire {
		m.reporter.Report(event.KindNoFace, event.Options{})
	}
}

func (m *FaceMonitor) handleMultipleFaces(n int) {
	m.mu.Lock()
	m.missCount = 0
	m.mismatchCount = 0
	m.gazeAwaySince = time.Time{}
	m.multiCount++
	fire := m.multiCount >= m.cfg.MultiThreshold
	if fire {
		m.multiCount = 0
		m.status = FaceMultiple
	}
	m.mu.Unlock()

	if fire {
		m.reporter.Report(event.KindMultipleFaces, event.Options{
			Detail: fmt.Sprintf("faces=%d", n),
		})
	}
}

func (m *FaceMonitor) handleSingleFace(face Face) {
	now := m.now()
	yaw, pitch := signal.HeadPose(face.Landmarks)
	away := yaw > m.cfg.YawLimitDeg || yaw < -m.cfg.YawLimitDeg ||
		pitch > m.cfg.PitchLimitDeg || pitch < -m.cfg.PitchLimitDeg

	m.mu.Lock()
	m.missCount = 0
	m.multiCount = 0

	var fireGaze bool
	if away {
		if m.gazeAwaySince.IsZero() {
			m.gazeAwaySince = now
		} else if now.Sub(m.gazeAwaySince) >= m.cfg.GazeHold {
			fireGaze = true
			// Restart the timer: repeated sustained deviation re-fires,
			// subject to cooldown.
			m.gazeAwaySince = now
		}
	} else {
		// Looking back resets immediately.
		m.gazeAwaySince = time.Time{}
	}

	var fireMismatch bool
	var similarity float64
	identityOK := true
	if m.reference != nil {
		similarity = signal.CosineSimilarity(signal.Embedding(face.Landmarks), m.reference)
		if similarity < m.cfg.SimilarityThreshold {
			identityOK = false
			m.mismatchCount++
			if m.mismatchCount >= m.cfg.MismatchThreshold {
				fireMismatch = true
				m.mismatchCount = 0
				m.status = FaceMismatch
			}
		} else {
			m.mismatchCount = 0
		}
	}

	if identityOK && m.gazeAwaySince.IsZero() {
		m.status = FaceOK
	}
	m.mu.Unlock()

	if fireGaze {
		m.reporter.Report(event.KindGazeAway, event.Options{
			Detail: fmt.Sprintf("yaw=%.1f pitch=%.1f", yaw, pitch),
		})
	}
	if fireMismatch {
		// Identity failures must never be silently cooled down.
		m.reporter.Report(event.KindIdentityMismatch, event.Options{
			BypassCooldown: true,
			Detail:         fmt.Sprintf("similarity=%.3f", similarity),
		})
	}
}

// SetNow overrides the monitor clock, for tests.
func (m *FaceMonitor) SetNow(now func() time.Time) {
	m.now = now
}
