package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// policySchema is the JSON Schema an exam policy document must satisfy
// before any of its overrides are applied. Policies come from the exam
// platform, not the local operator, so they are validated structurally
// rather than trusted.
const policySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "proctord/policy.schema.json",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "duration_min": {
      "type": "integer",
      "minimum": 1,
      "maximum": 600
    },
    "monitoring_disabled": {
      "type": "boolean"
    },
    "similarity_threshold": {
      "type": "number",
      "exclusiveMinimum": 0,
      "maximum": 1
    },
    "yaw_limit_deg": {
      "type": "number",
      "exclusiveMinimum": 0,
      "exclusiveMaximum": 90
    },
    "pitch_limit_deg": {
      "type": "number",
      "exclusiveMinimum": 0,
      "exclusiveMaximum": 90
    },
    "audio_margin": {
      "type": "number",
      "exclusiveMinimum": 0
    },
    "extra_blocked_shortcuts": {
      "type": "array",
      "items": {
        "type": "string",
        "pattern": "^(Ctrl\\+|Alt\\+|Shift\\+|Meta\\+)*[A-Za-z0-9]+$"
      }
    },
    "reshare_grace_sec": {
      "type": "integer",
      "minimum": 1,
      "maximum": 60
    }
  }
}`

var (
	compiledPolicySchema *jsonschema.Schema
	policySchemaOnce     sync.Once
	policySchemaErr      error
)

// Policy is an exam policy document: per-exam overrides the platform may
// apply on top of the local configuration. Nil fields leave the
// corresponding setting untouched.
type Policy struct {
	DurationMin           *int     `json:"duration_min,omitempty"`
	MonitoringDisabled    *bool    `json:"monitoring_disabled,omitempty"`
	SimilarityThreshold   *float64 `json:"similarity_threshold,omitempty"`
	YawLimitDeg           *float64 `json:"yaw_limit_deg,omitempty"`
	PitchLimitDeg         *float64 `json:"pitch_limit_deg,omitempty"`
	AudioMargin           *float64 `json:"audio_margin,omitempty"`
	ExtraBlockedShortcuts []string `json:"extra_blocked_shortcuts,omitempty"`
	ReshareGraceSec       *int     `json:"reshare_grace_sec,omitempty"`
}

func compilePolicySchema() (*jsonschema.Schema, error) {
	policySchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("policy.schema.json", bytes.NewReader([]byte(policySchema))); err != nil {
			policySchemaErr = fmt.Errorf("add policy schema: %w", err)
			return
		}
		compiledPolicySchema, policySchemaErr = compiler.Compile("policy.schema.json")
	})
	return compiledPolicySchema, policySchemaErr
}

// ParsePolicy validates a policy document against the embedded schema and
// decodes it. Unknown fields and out-of-range values are rejected.
func ParsePolicy(data []byte) (*Policy, error) {
	schema, err := compilePolicySchema()
	if err != nil {
		return nil, err
	}

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("policy rejected: %w", err)
	}

	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	return &p, nil
}

// Apply layers the policy's overrides onto a configuration.
func (p *Policy) Apply(cfg *Config) {
	if p.DurationMin != nil {
		cfg.Session.DurationMin = *p.DurationMin
	}
	if p.MonitoringDisabled != nil {
		cfg.Session.MonitoringDisabled = *p.MonitoringDisabled
	}
	if p.SimilarityThreshold != nil {
		cfg.Face.SimilarityThreshold = *p.SimilarityThreshold
	}
	if p.YawLimitDeg != nil {
		cfg.Face.YawLimitDeg = *p.YawLimitDeg
	}
	if p.PitchLimitDeg != nil {
		cfg.Face.PitchLimitDeg = *p.PitchLimitDeg
	}
	if p.AudioMargin != nil {
		cfg.Audio.Margin = *p.AudioMargin
	}
	if len(p.ExtraBlockedShortcuts) > 0 {
		cfg.Window.ExtraBlockedShortcuts = append(cfg.Window.ExtraBlockedShortcuts, p.ExtraBlockedShortcuts...)
	}
	if p.ReshareGraceSec != nil {
		cfg.ScreenShare.ReshareGraceSec = *p.ReshareGraceSec
	}
}
