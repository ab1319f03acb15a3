// Package event owns the evidentiary record of a proctoring session: the
// ordered violation log, the capture log, and the audio clip list, all
// written through a single synchronized store.
package event

// Kind identifies a detectable integrity violation. The set is closed; the
// cooldown table is sized by it.
type Kind int

const (
	KindTabSwitch Kind = iota
	KindWindowBlur
	KindNoFace
	KindMultipleFaces
	KindIdentityMismatch
	KindFullscreenExit
	KindCopyAttempt
	KindDevtoolsOpen
	KindContextMenu
	KindScreenShareStopped
	KindNoiseDetected
	KindAudioDetected
	KindMultipleMonitors
	KindKeyboardShortcut
	KindGazeAway

	kindCount
)

// Severity classifies how a violation is presented to reviewers.
type Severity string

const (
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// String returns the stable machine name for a kind.
func (k Kind) String() string {
	switch k {
	case KindTabSwitch:
		return "tab_switch"
	case KindWindowBlur:
		return "window_blur"
	case KindNoFace:
		return "no_face"
	case KindMultipleFaces:
		return "multiple_faces"
	case KindIdentityMismatch:
		return "identity_mismatch"
	case KindFullscreenExit:
		return "fullscreen_exit"
	case KindCopyAttempt:
		return "copy_attempt"
	case KindDevtoolsOpen:
		return "devtools_open"
	case KindContextMenu:
		return "context_menu"
	case KindScreenShareStopped:
		return "screen_share_stopped"
	case KindNoiseDetected:
		return "noise_detected"
	case KindAudioDetected:
		return "audio_detected"
	case KindMultipleMonitors:
		return "multiple_monitors"
	case KindKeyboardShortcut:
		return "keyboard_shortcut"
	case KindGazeAway:
		return "gaze_away"
	default:
		return "unknown"
	}
}

// Label returns the human-readable description shown in review tooling.
func (k Kind) Label() string {
	switch k {
	case KindTabSwitch:
		return "Switched away from the exam tab"
	case KindWindowBlur:
		return "Exam window lost focus"
	case KindNoFace:
		return "No face visible"
	case KindMultipleFaces:
		return "Multiple faces visible"
	case KindIdentityMismatch:
		return "Face does not match enrolled identity"
	case KindFullscreenExit:
		return "Exited fullscreen"
	case KindCopyAttempt:
		return "Clipboard use blocked"
	case KindDevtoolsOpen:
		return "Developer tools appear to be open"
	case KindContextMenu:
		return "Context menu blocked"
	case KindScreenShareStopped:
		return "Screen sharing stopped"
	case KindNoiseDetected:
		return "Sustained noise detected"
	case KindAudioDetected:
		return "Speech detected"
	case KindMultipleMonitors:
		return "Multiple displays connected"
	case KindKeyboardShortcut:
		return "Blocked keyboard shortcut"
	case KindGazeAway:
		return "Sustained gaze away from screen"
	default:
		return "Unknown violation"
	}
}

// Severity returns the review severity for a kind.
func (k Kind) Severity() Severity {
	switch k {
	case KindMultipleFaces, KindIdentityMismatch, KindScreenShareStopped,
		KindMultipleMonitors, KindDevtoolsOpen, KindAudioDetected:
		return SeverityError
	default:
		return SeverityWarn
	}
}

// ParseKind resolves a stable machine name back to its Kind.
func ParseKind(s string) (Kind, bool) {
	for k := Kind(0); k < kindCount; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}
