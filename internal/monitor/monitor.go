// Package monitor implements the independent integrity monitors that feed
// the proctoring event store: face/identity/gaze, audio/voice, window/input,
// fullscreen, display topology, and screen share.
//
// Each monitor runs its own loop (polling, sampling, or event-driven) and
// writes only through the Reporter contract. A monitor never raises on a
// signal-source failure: a dead sensor degrades monitoring fidelity, it does
// not end the exam.
package monitor

import (
	"time"

	"proctord/internal/event"
)

// Reporter is the write surface monitors get on the event store.
// *event.Store implements it.
type Reporter interface {
	// Report records a violation, applying cooldown policy and attaching
	// snapshots. Returns the record ID and whether a record was appended.
	Report(kind event.Kind, opt event.Options) (int64, bool)

	// PatchAwayDuration patches the most recent unpatched tab-switch record.
	PatchAwayDuration(awayMS int64) bool

	// AttachClip links a completed audio recording to a violation.
	AttachClip(violationID int64, audio []byte, recordedAt time.Time) (int64, bool)
}

// FaceStatus is the live face/identity state exposed to the host for
// presentation.
type FaceStatus string

const (
	FaceOK       FaceStatus = "ok"
	FaceNone     FaceStatus = "none"
	FaceMultiple FaceStatus = "multiple"
	FaceMismatch FaceStatus = "mismatch"
)
