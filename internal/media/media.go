// Package media defines the contracts between the proctoring engine and the
// already-opened media handles it receives from its host: webcam and screen
// frame sources, the microphone sample source, the shared screen track, and
// the optional speech-activity signal.
//
// The engine never acquires media itself. The host performs device setup and
// permission prompts, then hands the engine live sources; the engine's only
// obligations are to sample them, tolerate their failure silently, and close
// them exactly once at finalize.
package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"time"

	"golang.org/x/crypto/blake2b"
)

// ErrNotLive is returned by snapshot helpers when a source is absent or its
// underlying track has ended. Monitors treat it as a skipped cycle, never as
// a violation.
var ErrNotLive = errors.New("media: source not live")

// FrameSource produces still frames from a live video source.
type FrameSource interface {
	// Snapshot grabs the current frame. It returns ErrNotLive when the
	// source has ended and an encode/draw error otherwise.
	Snapshot(ctx context.Context) (image.Image, error)

	// Live reports whether the source is still producing frames.
	Live() bool
}

// AudioSource produces frequency-domain samples from a live microphone and
// can record raw audio clips.
type AudioSource interface {
	// Spectrum returns the current magnitude spectrum (DC to Nyquist in
	// evenly spaced bins) and the sample rate it was computed at.
	Spectrum(ctx context.Context) ([]float64, int, error)

	// Record captures audio for the given duration and returns the encoded
	// clip. It blocks for the duration; callers run it off the hot path.
	Record(ctx context.Context, d time.Duration) ([]byte, error)
}

// SpeechDetector is an optional independent voice-activity signal used to
// promote a noise flag to a confirmed speech violation. When the host has no
// such signal it passes nil and the engine fails open toward flagging.
type SpeechDetector interface {
	// Active reports whether voice activity was observed during the most
	// recent observation window.
	Active(ctx context.Context) (bool, error)
}

// ScreenTrack represents the live screen-share track.
type ScreenTrack interface {
	// Ended is closed when the underlying track stops.
	Ended() <-chan struct{}

	// DisplaySurface reports what is being shared: "monitor" for an entire
	// display, "window" or "browser" for partial surfaces.
	DisplaySurface() string
}

// SurfaceMonitor is the DisplaySurface value for a full-display share, the
// only surface the screen-share policy accepts.
const SurfaceMonitor = "monitor"

// CapturePNG snapshots a frame source and encodes it as PNG. A nil or
// non-live source yields ErrNotLive.
func CapturePNG(ctx context.Context, src FrameSource) ([]byte, error) {
	if src == nil || !src.Live() {
		return nil, ErrNotLive
	}

	frame, err := src.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, frame); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Digest returns the BLAKE2b-256 digest of an evidence payload. Digests are
// recorded alongside archived captures and clips so a reviewer can detect
// corruption or post-hoc edits; they are checksums, not signatures.
func Digest(data []byte) [32]byte {
	return blake2b.Sum256(data)
}

// Release closes a source if it supports closing. It tolerates nil sources
// and already-closed resources: finalize may reach a track the host has
// independently torn down, and a double close must not surface an error.
func Release(src any) {
	closer, ok := src.(io.Closer)
	if !ok || closer == nil {
		return
	}
	_ = closer.Close()
}
