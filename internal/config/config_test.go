package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"proctord/internal/logging"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proctord.toml")
	content := `
version = 1

[session]
duration_min = 90
cooldown_sec = 15

[face]
similarity_threshold = 0.8

[window]
extra_blocked_shortcuts = ["Ctrl+Shift+X"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Session.DurationMin != 90 {
		t.Errorf("duration_min = %d, want 90", cfg.Session.DurationMin)
	}
	if cfg.Session.CooldownSec != 15 {
		t.Errorf("cooldown_sec = %d, want 15", cfg.Session.CooldownSec)
	}
	if cfg.Face.SimilarityThreshold != 0.8 {
		t.Errorf("similarity_threshold = %v, want 0.8", cfg.Face.SimilarityThreshold)
	}
	// Unset sections keep their defaults.
	if cfg.Audio.CalibrationSamples != 120 {
		t.Errorf("calibration_samples = %d, want default 120", cfg.Audio.CalibrationSamples)
	}
	if len(cfg.Window.ExtraBlockedShortcuts) != 1 {
		t.Errorf("extra shortcuts = %v", cfg.Window.ExtraBlockedShortcuts)
	}
}

func TestLoadYAMLAndJSON(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "proctord.yaml")
	os.WriteFile(yamlPath, []byte("session:\n  duration_min: 45\n"), 0o644)
	cfg, err := NewLoader(yamlPath).Load()
	if err != nil {
		t.Fatalf("Load yaml: %v", err)
	}
	if cfg.Session.DurationMin != 45 {
		t.Errorf("yaml duration_min = %d, want 45", cfg.Session.DurationMin)
	}

	jsonPath := filepath.Join(dir, "proctord.json")
	os.WriteFile(jsonPath, []byte(`{"session":{"duration_min":120}}`), 0o644)
	cfg, err = NewLoader(jsonPath).Load()
	if err != nil {
		t.Fatalf("Load json: %v", err)
	}
	if cfg.Session.DurationMin != 120 {
		t.Errorf("json duration_min = %d, want 120", cfg.Session.DurationMin)
	}
}

func TestMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := NewLoader(filepath.Join(t.TempDir(), "absent.toml")).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Face.SimilarityThreshold != 0.72 {
		t.Errorf("similarity_threshold = %v, want default 0.72", cfg.Face.SimilarityThreshold)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero duration", func(c *Config) { c.Session.DurationMin = 0 }},
		{"similarity above one", func(c *Config) { c.Face.SimilarityThreshold = 1.5 }},
		{"negative margin", func(c *Config) { c.Audio.Margin = -1 }},
		{"inverted band", func(c *Config) { c.Audio.BandHighHz = 100; c.Audio.BandLowHz = 300 }},
		{"yaw limit 90", func(c *Config) { c.Face.YawLimitDeg = 90 }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"file output without path", func(c *Config) { c.Logging.Output = "file"; c.Logging.FilePath = "" }},
		{"zero reshare grace", func(c *Config) { c.ScreenShare.ReshareGraceSec = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PROCTORD_LOG_LEVEL", "DEBUG")
	t.Setenv("PROCTORD_ARCHIVE_PATH", "/tmp/override.db")
	t.Setenv("PROCTORD_MONITORING_DISABLED", "true")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Storage.Path != "/tmp/override.db" {
		t.Errorf("storage path = %q", cfg.Storage.Path)
	}
	if !cfg.Session.MonitoringDisabled {
		t.Error("monitoring_disabled not applied")
	}
}

func TestToSessionConversion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.DurationMin = 90
	cfg.Face.GazeHoldMs = 2000

	sc := cfg.ToSession()
	if sc.Duration != 90*time.Minute {
		t.Errorf("Duration = %v, want 90m", sc.Duration)
	}
	if sc.Face.GazeHold != 2*time.Second {
		t.Errorf("GazeHold = %v, want 2s", sc.Face.GazeHold)
	}
	if sc.Audio.NoiseSpacing != 12*time.Second {
		t.Errorf("NoiseSpacing = %v, want 12s", sc.Audio.NoiseSpacing)
	}
	if sc.ScreenShare.ReshareGrace != 5*time.Second {
		t.Errorf("ReshareGrace = %v, want 5s", sc.ScreenShare.ReshareGrace)
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy([]byte(`{
		"duration_min": 45,
		"similarity_threshold": 0.8,
		"extra_blocked_shortcuts": ["Ctrl+Shift+X"],
		"reshare_grace_sec": 10
	}`))
	if err != nil {
		t.Fatalf("ParsePolicy: %v", err)
	}

	cfg := DefaultConfig()
	p.Apply(cfg)

	if cfg.Session.DurationMin != 45 {
		t.Errorf("duration_min = %d, want 45", cfg.Session.DurationMin)
	}
	if cfg.Face.SimilarityThreshold != 0.8 {
		t.Errorf("similarity_threshold = %v, want 0.8", cfg.Face.SimilarityThreshold)
	}
	if cfg.ScreenShare.ReshareGraceSec != 10 {
		t.Errorf("reshare_grace_sec = %d, want 10", cfg.ScreenShare.ReshareGraceSec)
	}
	if len(cfg.Window.ExtraBlockedShortcuts) != 1 {
		t.Errorf("extra shortcuts = %v", cfg.Window.ExtraBlockedShortcuts)
	}
}

func TestParsePolicyRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown field", `{"surprise": true}`},
		{"threshold above one", `{"similarity_threshold": 1.2}`},
		{"zero duration", `{"duration_min": 0}`},
		{"bad shortcut pattern", `{"extra_blocked_shortcuts": ["Ctrl+ +X"]}`},
		{"excessive grace", `{"reshare_grace_sec": 600}`},
		{"not json", `duration_min: 45`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePolicy([]byte(tt.doc)); err == nil {
				t.Error("ParsePolicy() = nil error, want rejection")
			}
		})
	}
}

func TestHotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proctord.toml")
	os.WriteFile(path, []byte("[session]\nduration_min = 60\n"), 0o644)

	loader := NewLoader(path)
	if _, err := loader.Load(); err != nil {
		t.Fatal(err)
	}

	changed := make(chan *Config, 1)
	loader.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})
	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer loader.Close()

	os.WriteFile(path, []byte("[session]\nduration_min = 75\n"), 0o644)

	select {
	case cfg := <-changed:
		if cfg.Session.DurationMin != 75 {
			t.Errorf("reloaded duration_min = %d, want 75", cfg.Session.DurationMin)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload callback never fired")
	}

	// An invalid rewrite keeps the previous configuration.
	os.WriteFile(path, []byte("[session]\nduration_min = 0\n"), 0o644)
	select {
	case err := <-loader.Errors():
		if err == nil {
			t.Error("expected validation error")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("validation error never surfaced")
	}
	if got := loader.Config().Session.DurationMin; got != 75 {
		t.Errorf("config after bad reload = %d, want 75", got)
	}
}

func TestToLogging(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "json"
	cfg.Logging.Output = "stdout"

	lc := cfg.ToLogging()
	if lc.Level != logging.LevelDebug {
		t.Errorf("level = %v, want debug", lc.Level)
	}
	if lc.Format != logging.FormatJSON {
		t.Errorf("format = %v, want JSON", lc.Format)
	}
	if lc.Output != "stdout" {
		t.Errorf("output = %q, want stdout", lc.Output)
	}

	// A bogus level falls back to the package default rather than erroring.
	cfg.Logging.Level = "loud"
	if lc := cfg.ToLogging(); lc.Level != logging.LevelInfo {
		t.Errorf("fallback level = %v, want info", lc.Level)
	}
}
