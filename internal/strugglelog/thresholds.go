package strugglelog

import (
	"fmt"
	"sort"
)

// Thresholds are the minimum content requirements for a struggle log.
// Different deployments use different sets, so they are injected.
type Thresholds struct {
	MinAttempts int `toml:"min_attempts" validate:"gte=1"`

	// MinAttemptLength applies to each counted attempt. Zero means any
	// non-blank entry counts.
	MinAttemptLength int `toml:"min_attempt_length" validate:"gte=0"`

	MinStuckPoint int `toml:"min_stuck_point" validate:"gte=0"`
	MinHypothesis int `toml:"min_hypothesis" validate:"gte=0"`
}

var (
	// StandardThresholds: three attempts, 20-char stuck point, 15-char hypothesis.
	StandardThresholds = Thresholds{MinAttempts: 3, MinStuckPoint: 20, MinHypothesis: 15}

	// ReflectiveThresholds asks for a longer hypothesis.
	ReflectiveThresholds = Thresholds{MinAttempts: 3, MinStuckPoint: 20, MinHypothesis: 30}

	// StrictThresholds also requires every attempt to be described.
	StrictThresholds = Thresholds{MinAttempts: 3, MinAttemptLength: 10, MinStuckPoint: 20, MinHypothesis: 20}
)

var presets = map[string]Thresholds{
	"standard":   StandardThresholds,
	"reflective": ReflectiveThresholds,
	"strict":     StrictThresholds,
}

// Preset returns the named threshold set.
func Preset(name string) (Thresholds, error) {
	t, ok := presets[name]
	if !ok {
		return Thresholds{}, fmt.Errorf("unknown struggle log thresholds %q (valid: %v)", name, PresetNames())
	}
	return t, nil
}

// PresetNames lists the preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks the thresholds themselves.
func (t Thresholds) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("invalid struggle log thresholds: %w", err)
	}
	return nil
}
