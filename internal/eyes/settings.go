package eyes

import (
	"fmt"
)

// Strictness selects how demanding the review gates are. The set is
// enumerated; anything else is rejected at parse time instead of being
// compared loosely downstream.
type Strictness string

const (
	StrictnessLenient Strictness = "lenient"
	StrictnessNormal  Strictness = "normal"
	StrictnessStrict  Strictness = "strict"
)

// ParseStrictness maps wire input to a strictness level. Empty input
// selects the default; unknown levels are an error.
func ParseStrictness(s string) (Strictness, error) {
	switch Strictness(s) {
	case "":
		return StrictnessNormal, nil
	case StrictnessLenient, StrictnessNormal, StrictnessStrict:
		return Strictness(s), nil
	default:
		return "", fmt.Errorf("unknown strictness %q (want lenient, normal or strict)", s)
	}
}

// Settings carries the validated per-run tuning every eye receives.
// Zero values are never used directly; build through DefaultSettings or
// SettingsFromConfig so defaults and validation apply.
type Settings struct {
	Strictness           Strictness `json:"strictness"`
	AmbiguityThreshold   float64    `json:"ambiguity_threshold"`
	ConsistencyTolerance float64    `json:"consistency_tolerance"`
	CitationCutoff       float64    `json:"citation_cutoff"`
}

// DefaultSettings returns the documented defaults: normal strictness,
// ambiguity 0.50, consistency tolerance 0.85, citation cutoff 0.80.
func DefaultSettings() Settings {
	return Settings{
		Strictness:           StrictnessNormal,
		AmbiguityThreshold:   0.50,
		ConsistencyTolerance: 0.85,
		CitationCutoff:       0.80,
	}
}

// Validate checks the settings are usable: a known strictness level and
// thresholds inside [0,1].
func (s Settings) Validate() error {
	if _, err := ParseStrictness(string(s.Strictness)); err != nil {
		return err
	}
	for name, v := range map[string]float64{
		"ambiguity_threshold":   s.AmbiguityThreshold,
		"consistency_tolerance": s.ConsistencyTolerance,
		"citation_cutoff":       s.CitationCutoff,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s %v outside [0,1]", name, v)
		}
	}
	return nil
}

// SettingsFromConfig builds Settings from a session config map, applying
// defaults for absent keys and rejecting malformed values. Recognized
// keys: strictness, ambiguity_threshold, consistency_tolerance,
// citation_cutoff.
func SettingsFromConfig(cfg map[string]any) (Settings, error) {
	s := DefaultSettings()
	if cfg == nil {
		return s, nil
	}
	if raw, ok := cfg["strictness"]; ok {
		str, isStr := raw.(string)
		if !isStr {
			return Settings{}, fmt.Errorf("strictness must be a string, got %T", raw)
		}
		level, err := ParseStrictness(str)
		if err != nil {
			return Settings{}, err
		}
		s.Strictness = level
	}
	for key, dst := range map[string]*float64{
		"ambiguity_threshold":   &s.AmbiguityThreshold,
		"consistency_tolerance": &s.ConsistencyTolerance,
		"citation_cutoff":       &s.CitationCutoff,
	} {
		raw, ok := cfg[key]
		if !ok {
			continue
		}
		v, err := toFloat(raw)
		if err != nil {
			return Settings{}, fmt.Errorf("%s: %w", key, err)
		}
		*dst = v
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}
