package show

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Settings are producer-tunable knobs persisted as JSON in run-state.
type Settings struct {
	DefaultTimerSeconds int `json:"defaultTimerSeconds"`
	GraceWindowSeconds  int `json:"graceWindowSeconds"`
}

// SettingsPatch is a partial update; nil fields keep their current value.
type SettingsPatch struct {
	DefaultTimerSeconds *int `json:"defaultTimerSeconds,omitempty"`
	GraceWindowSeconds  *int `json:"graceWindowSeconds,omitempty"`
}

// DefaultSettings match a two minute round with a three second grace window.
func DefaultSettings() Settings {
	return Settings{DefaultTimerSeconds: 120, GraceWindowSeconds: 3}
}

// TimerDuration is the configured round length.
func (s Settings) TimerDuration() time.Duration {
	return time.Duration(s.DefaultTimerSeconds) * time.Second
}

// Validate rejects non-positive round lengths and negative grace windows.
func (s Settings) Validate() error {
	if s.DefaultTimerSeconds <= 0 {
		return newError(InvalidSettings, "defaultTimerSeconds must be a positive number")
	}
	if s.GraceWindowSeconds < 0 {
		return newError(InvalidSettings, "graceWindowSeconds must be a non-negative number")
	}
	return nil
}

// Apply returns s with the non-nil fields of p.
func (s Settings) Apply(p SettingsPatch) Settings {
	if p.DefaultTimerSeconds != nil {
		s.DefaultTimerSeconds = *p.DefaultTimerSeconds
	}
	if p.GraceWindowSeconds != nil {
		s.GraceWindowSeconds = *p.GraceWindowSeconds
	}
	return s
}

// loadSettings reads settings from rs, filling missing fields with defaults.
// A corrupt record falls back to defaults.
func loadSettings(ctx context.Context, rs RunState) (Settings, error) {
	def := DefaultSettings()
	raw, ok, err := rs.GetValue(ctx, KeySettings)
	if err != nil {
		return def, fmt.Errorf("load settings: %w", err)
	}
	if !ok || raw == "" {
		return def, nil
	}
	var p SettingsPatch
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return def, nil
	}
	s := def.Apply(p)
	if s.Validate() != nil {
		return def, nil
	}
	return s, nil
}

func saveSettings(ctx context.Context, rs RunState, s Settings) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := rs.SetValue(ctx, KeySettings, string(b)); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
