package config

import (
	"fmt"
	"strings"
)

// ValidationError describes a single invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates all invalid fields found in one pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d validation error(s): %s", len(e), strings.Join(msgs, "; "))
}

// Validate checks the configuration for invalid values. It returns
// ValidationErrors listing every problem, not just the first.
func (c *Config) Validate() error {
	var errs ValidationErrors

	errs = append(errs, c.validateSession()...)
	errs = append(errs, c.validateFace()...)
	errs = append(errs, c.validateAudio()...)
	errs = append(errs, c.validateWindow()...)
	errs = append(errs, c.validatePolls()...)
	errs = append(errs, c.validateLogging()...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (c *Config) validateSession() ValidationErrors {
	var errs ValidationErrors
	if c.Session.DurationMin <= 0 {
		errs = append(errs, ValidationError{"session.duration_min", "must be positive"})
	}
	if c.Session.PeriodicCaptureSec < 0 {
		errs = append(errs, ValidationError{"session.periodic_capture_sec", "must not be negative"})
	}
	if c.Session.CooldownSec < 0 {
		errs = append(errs, ValidationError{"session.cooldown_sec", "must not be negative"})
	}
	return errs
}

func (c *Config) validateFace() ValidationErrors {
	var errs ValidationErrors
	f := c.Face
	if f.IntervalMs <= 0 {
		errs = append(errs, ValidationError{"face.interval_ms", "must be positive"})
	}
	if f.MissThreshold <= 0 || f.MultiThreshold <= 0 || f.MismatchThreshold <= 0 {
		errs = append(errs, ValidationError{"face", "hysteresis thresholds must be positive"})
	}
	if f.SimilarityThreshold <= 0 || f.SimilarityThreshold > 1 {
		errs = append(errs, ValidationError{"face.similarity_threshold", "must be in (0, 1]"})
	}
	if f.YawLimitDeg <= 0 || f.YawLimitDeg >= 90 {
		errs = append(errs, ValidationError{"face.yaw_limit_deg", "must be in (0, 90)"})
	}
	if f.PitchLimitDeg <= 0 || f.PitchLimitDeg >= 90 {
		errs = append(errs, ValidationError{"face.pitch_limit_deg", "must be in (0, 90)"})
	}
	if f.GazeHoldMs <= 0 {
		errs = append(errs, ValidationError{"face.gaze_hold_ms", "must be positive"})
	}
	return errs
}

func (c *Config) validateAudio() ValidationErrors {
	var errs ValidationErrors
	a := c.Audio
	if a.SampleIntervalMs <= 0 {
		errs = append(errs, ValidationError{"audio.sample_interval_ms", "must be positive"})
	}
	if a.CalibrationSamples <= 0 {
		errs = append(errs, ValidationError{"audio.calibration_samples", "must be positive"})
	}
	if a.BaselinePercentile <= 0 || a.BaselinePercentile > 1 {
		errs = append(errs, ValidationError{"audio.baseline_percentile", "must be in (0, 1]"})
	}
	if a.Margin <= 0 {
		errs = append(errs, ValidationError{"audio.margin", "must be positive"})
	}
	if a.VoiceFrameThreshold <= 0 {
		errs = append(errs, ValidationError{"audio.voice_frame_threshold", "must be positive"})
	}
	if a.NoiseSpacingSec <= 0 {
		errs = append(errs, ValidationError{"audio.noise_spacing_sec", "must be positive"})
	}
	if a.ClipDurationSec <= 0 {
		errs = append(errs, ValidationError{"audio.clip_duration_sec", "must be positive"})
	}
	if a.BandHighHz <= a.BandLowHz {
		errs = append(errs, ValidationError{"audio.band_high_hz", "must exceed band_low_hz"})
	}
	return errs
}

func (c *Config) validateWindow() ValidationErrors {
	var errs ValidationErrors
	if c.Window.DevtoolsGapPx <= 0 {
		errs = append(errs, ValidationError{"window.devtools_gap_px", "must be positive"})
	}
	for _, combo := range c.Window.ExtraBlockedShortcuts {
		if strings.TrimSpace(combo) == "" {
			errs = append(errs, ValidationError{"window.extra_blocked_shortcuts", "empty shortcut"})
			break
		}
	}
	return errs
}

func (c *Config) validatePolls() ValidationErrors {
	var errs ValidationErrors
	if c.Window.DevtoolsPollSec <= 0 {
		errs = append(errs, ValidationError{"window.devtools_poll_sec", "must be positive"})
	}
	if c.Display.PollSec <= 0 {
		errs = append(errs, ValidationError{"display.poll_sec", "must be positive"})
	}
	if c.ScreenShare.ReshareGraceSec <= 0 {
		errs = append(errs, ValidationError{"screen_share.reshare_grace_sec", "must be positive"})
	}
	return errs
}

func (c *Config) validateLogging() ValidationErrors {
	var errs ValidationErrors
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		errs = append(errs, ValidationError{"logging.level", "unknown level " + c.Logging.Level})
	}
	switch c.Logging.Format {
	case "text", "json", "":
	default:
		errs = append(errs, ValidationError{"logging.format", "unknown format " + c.Logging.Format})
	}
	switch c.Logging.Output {
	case "stdout", "stderr", "file", "both", "":
	default:
		errs = append(errs, ValidationError{"logging.output", "unknown output " + c.Logging.Output})
	}
	if (c.Logging.Output == "file" || c.Logging.Output == "both") && c.Logging.FilePath == "" {
		errs = append(errs, ValidationError{"logging.file_path", "required for file output"})
	}
	return errs
}
