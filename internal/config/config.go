// Package config handles configuration loading, validation, and hot-reload
// for proctord.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"proctord/internal/logging"
	"proctord/internal/monitor"
	"proctord/internal/session"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete engine configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Session configuration: duration, periodic captures, master switch.
	Session SessionConfig `toml:"session" json:"session" yaml:"session"`

	// Face configuration for the face/identity/gaze monitor.
	Face FaceConfig `toml:"face" json:"face" yaml:"face"`

	// Audio configuration for the audio/voice monitor.
	Audio AudioConfig `toml:"audio" json:"audio" yaml:"audio"`

	// Window configuration for the window/input monitor.
	Window WindowConfig `toml:"window" json:"window" yaml:"window"`

	// Display configuration for the display-topology monitor.
	Display DisplayConfig `toml:"display" json:"display" yaml:"display"`

	// ScreenShare configuration for the screen-share monitor.
	ScreenShare ScreenShareConfig `toml:"screen_share" json:"screen_share" yaml:"screen_share"`

	// Storage configuration for the evidence archive.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// SessionConfig holds session-level configuration.
type SessionConfig struct {
	// DurationMin is the exam length in minutes.
	DurationMin int `toml:"duration_min" json:"duration_min" yaml:"duration_min"`

	// MonitoringDisabled leaves only the clock and finalizer active.
	MonitoringDisabled bool `toml:"monitoring_disabled" json:"monitoring_disabled" yaml:"monitoring_disabled"`

	// PeriodicCaptureSec is the routine webcam capture cadence in seconds.
	// Set to 0 to disable periodic captures.
	PeriodicCaptureSec int `toml:"periodic_capture_sec" json:"periodic_capture_sec" yaml:"periodic_capture_sec"`

	// CooldownSec is the per-kind violation spacing in seconds.
	CooldownSec int `toml:"cooldown_sec" json:"cooldown_sec" yaml:"cooldown_sec"`
}

// FaceConfig holds face/identity/gaze monitor configuration.
type FaceConfig struct {
	// IntervalMs is the detection cycle cadence in milliseconds.
	IntervalMs int `toml:"interval_ms" json:"interval_ms" yaml:"interval_ms"`

	// MissThreshold is the consecutive empty-frame count before a no-face
	// violation.
	MissThreshold int `toml:"miss_threshold" json:"miss_threshold" yaml:"miss_threshold"`

	// MultiThreshold is the consecutive multi-face count before a
	// multiple-faces violation.
	MultiThreshold int `toml:"multi_threshold" json:"multi_threshold" yaml:"multi_threshold"`

	// MismatchThreshold is the consecutive below-similarity count before an
	// identity-mismatch violation.
	MismatchThreshold int `toml:"mismatch_threshold" json:"mismatch_threshold" yaml:"mismatch_threshold"`

	// SimilarityThreshold is the cosine similarity floor against the
	// enrollment reference.
	SimilarityThreshold float64 `toml:"similarity_threshold" json:"similarity_threshold" yaml:"similarity_threshold"`

	// YawLimitDeg and PitchLimitDeg bound acceptable head-pose deviation.
	YawLimitDeg   float64 `toml:"yaw_limit_deg" json:"yaw_limit_deg" yaml:"yaw_limit_deg"`
	PitchLimitDeg float64 `toml:"pitch_limit_deg" json:"pitch_limit_deg" yaml:"pitch_limit_deg"`

	// GazeHoldMs is how long a deviation must persist before a gaze-away
	// violation, in milliseconds.
	GazeHoldMs int `toml:"gaze_hold_ms" json:"gaze_hold_ms" yaml:"gaze_hold_ms"`
}

// AudioConfig holds audio/voice monitor configuration.
type AudioConfig struct {
	// SampleIntervalMs is the energy sampling cadence in milliseconds.
	SampleIntervalMs int `toml:"sample_interval_ms" json:"sample_interval_ms" yaml:"sample_interval_ms"`

	// CalibrationSamples is the calibration window length.
	CalibrationSamples int `toml:"calibration_samples" json:"calibration_samples" yaml:"calibration_samples"`

	// BaselinePercentile picks the baseline from the calibration window.
	BaselinePercentile float64 `toml:"baseline_percentile" json:"baseline_percentile" yaml:"baseline_percentile"`

	// Margin over the baseline a sample must exceed to count as voice.
	Margin float64 `toml:"margin" json:"margin" yaml:"margin"`

	// VoiceFrameThreshold is the rolling counter value that flags noise.
	VoiceFrameThreshold int `toml:"voice_frame_threshold" json:"voice_frame_threshold" yaml:"voice_frame_threshold"`

	// NoiseSpacingSec is the minimum gap between noise flags, in seconds.
	NoiseSpacingSec int `toml:"noise_spacing_sec" json:"noise_spacing_sec" yaml:"noise_spacing_sec"`

	// ClipDurationSec is the evidence recording length in seconds.
	ClipDurationSec int `toml:"clip_duration_sec" json:"clip_duration_sec" yaml:"clip_duration_sec"`

	// BandLowHz and BandHighHz bound the monitored voice band.
	BandLowHz  float64 `toml:"band_low_hz" json:"band_low_hz" yaml:"band_low_hz"`
	BandHighHz float64 `toml:"band_high_hz" json:"band_high_hz" yaml:"band_high_hz"`
}

// WindowConfig holds window/input monitor configuration.
type WindowConfig struct {
	// DevtoolsPollSec is the developer-tools heuristic cadence in seconds.
	DevtoolsPollSec int `toml:"devtools_poll_sec" json:"devtools_poll_sec" yaml:"devtools_poll_sec"`

	// DevtoolsGapPx is the outer-minus-inner viewport gap that reads as an
	// open developer-tools panel.
	DevtoolsGapPx int `toml:"devtools_gap_px" json:"devtools_gap_px" yaml:"devtools_gap_px"`

	// ExtraBlockedShortcuts extends the built-in shortcut denylist
	// ("Ctrl+Shift+X" form).
	ExtraBlockedShortcuts []string `toml:"extra_blocked_shortcuts" json:"extra_blocked_shortcuts" yaml:"extra_blocked_shortcuts"`
}

// DisplayConfig holds display-topology monitor configuration.
type DisplayConfig struct {
	// PollSec is the topology re-evaluation cadence in seconds.
	PollSec int `toml:"poll_sec" json:"poll_sec" yaml:"poll_sec"`
}

// ScreenShareConfig holds screen-share monitor configuration.
type ScreenShareConfig struct {
	// ReshareGraceSec is how long a student has to re-share after the first
	// stop, in seconds.
	ReshareGraceSec int `toml:"reshare_grace_sec" json:"reshare_grace_sec" yaml:"reshare_grace_sec"`
}

// StorageConfig holds evidence-archive configuration.
type StorageConfig struct {
	// Path is the path to the archive database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// BusyTimeoutMs is the SQLite busy timeout in milliseconds.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", "file", or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file path when Output includes "file".
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`
}

// DefaultConfig returns the standard tuning; every threshold matches the
// monitor defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Session: SessionConfig{
			DurationMin:        60,
			PeriodicCaptureSec: 30,
			CooldownSec:        10,
		},
		Face: FaceConfig{
			IntervalMs:          500,
			MissThreshold:       3,
			MultiThreshold:      2,
			MismatchThreshold:   3,
			SimilarityThreshold: 0.72,
			YawLimitDeg:         25,
			PitchLimitDeg:       30,
			GazeHoldMs:          1500,
		},
		Audio: AudioConfig{
			SampleIntervalMs:    100,
			CalibrationSamples:  120,
			BaselinePercentile:  0.80,
			Margin:              12,
			VoiceFrameThreshold: 5,
			NoiseSpacingSec:     12,
			ClipDurationSec:     12,
			BandLowHz:           300,
			BandHighHz:          3400,
		},
		Window: WindowConfig{
			DevtoolsPollSec: 3,
			DevtoolsGapPx:   160,
		},
		Display:     DisplayConfig{PollSec: 3},
		ScreenShare: ScreenShareConfig{ReshareGraceSec: 5},
		Storage: StorageConfig{
			Path:          defaultArchivePath(),
			BusyTimeoutMs: 5000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// defaultArchivePath returns the default archive database location.
func defaultArchivePath() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = home + "/.local/share"
	}
	return dataHome + "/proctord/archive.db"
}

// ToSession converts the file configuration into the engine's session
// tuning.
func (c *Config) ToSession() session.Config {
	return session.Config{
		Duration:           time.Duration(c.Session.DurationMin) * time.Minute,
		MonitoringDisabled: c.Session.MonitoringDisabled,
		PeriodicCapture:    time.Duration(c.Session.PeriodicCaptureSec) * time.Second,
		Cooldown:           time.Duration(c.Session.CooldownSec) * time.Second,
		Face: monitor.FaceConfig{
			Interval:            time.Duration(c.Face.IntervalMs) * time.Millisecond,
			MissThreshold:       c.Face.MissThreshold,
			MultiThreshold:      c.Face.MultiThreshold,
			MismatchThreshold:   c.Face.MismatchThreshold,
			SimilarityThreshold: c.Face.SimilarityThreshold,
			YawLimitDeg:         c.Face.YawLimitDeg,
			PitchLimitDeg:       c.Face.PitchLimitDeg,
			GazeHold:            time.Duration(c.Face.GazeHoldMs) * time.Millisecond,
		},
		Audio: monitor.AudioConfig{
			SampleInterval:      time.Duration(c.Audio.SampleIntervalMs) * time.Millisecond,
			CalibrationSamples:  c.Audio.CalibrationSamples,
			BaselinePercentile:  c.Audio.BaselinePercentile,
			Margin:              c.Audio.Margin,
			VoiceFrameThreshold: c.Audio.VoiceFrameThreshold,
			NoiseSpacing:        time.Duration(c.Audio.NoiseSpacingSec) * time.Second,
			ClipDuration:        time.Duration(c.Audio.ClipDurationSec) * time.Second,
			BandLowHz:           c.Audio.BandLowHz,
			BandHighHz:          c.Audio.BandHighHz,
		},
		Window: monitor.WindowConfig{
			DevtoolsPoll:          time.Duration(c.Window.DevtoolsPollSec) * time.Second,
			DevtoolsGapPx:         c.Window.DevtoolsGapPx,
			ExtraBlockedShortcuts: c.Window.ExtraBlockedShortcuts,
		},
		Display: monitor.DisplayConfig{
			Poll: time.Duration(c.Display.PollSec) * time.Second,
		},
		ScreenShare: monitor.ScreenShareConfig{
			ReshareGrace: time.Duration(c.ScreenShare.ReshareGraceSec) * time.Second,
		},
	}
}

// ToLogging converts the logging section into the logging package's config.
// Unknown level strings fall back to info rather than failing the session.
func (c *Config) ToLogging() *logging.Config {
	out := logging.DefaultConfig()
	if lvl, err := logging.ParseLevel(c.Logging.Level); err == nil {
		out.Level = lvl
	}
	if c.Logging.Format == "json" {
		out.Format = logging.FormatJSON
	}
	if c.Logging.Output != "" {
		out.Output = c.Logging.Output
	}
	if c.Logging.FilePath != "" {
		out.FilePath = c.Logging.FilePath
	}
	return out
}

// ApplyEnvOverrides applies PROCTORD_* environment variables on top of the
// loaded configuration. Only operational knobs are overridable; detection
// thresholds come from the file or an exam policy document.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PROCTORD_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("PROCTORD_LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv("PROCTORD_ARCHIVE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("PROCTORD_MONITORING_DISABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Session.MonitoringDisabled = b
		}
	}
}
