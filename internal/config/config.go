// Package config holds the tunable behavior profile for simulated sessions.
package config

import (
	"fmt"
	"math/rand"
	"os"

	"gopkg.in/yaml.v3"
)

// minClampSeconds is the floor applied to duration clamps so a bad CLI value
// can never produce a zero or negative watch window.
const minClampSeconds = 5.0

// Range is an inclusive interval of seconds to sample sleeps from.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Sample returns a uniform value in [Min, Max].
func (r Range) Sample(rng *rand.Rand) float64 {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + rng.Float64()*(r.Max-r.Min)
}

// Behavior is the set of knobs governing how a simulated session paces itself.
// Values are seconds unless named a probability. Build one with Default,
// overlay CLI or profile values, then call Normalized before use; the result
// is treated as immutable for the rest of the run.
type Behavior struct {
	PageLoadWait         Range   `yaml:"page_load_wait"`
	BetweenActions       Range   `yaml:"between_actions"`
	WatchProbability     float64 `yaml:"watch_probability"`
	HalfWatchProbability float64 `yaml:"half_watch_probability"`
	FallbackDuration     float64 `yaml:"fallback_duration"`
	MaxDuration          float64 `yaml:"max_duration"`
	FullWatchGrace       float64 `yaml:"full_watch_grace"`
	IdleProbability      float64 `yaml:"idle_probability"`
	IdleRange            Range   `yaml:"idle_range"`
}

// Default returns the stock human-like profile.
func Default() Behavior {
	return Behavior{
		PageLoadWait:         Range{Min: 2.0, Max: 4.5},
		BetweenActions:       Range{Min: 0.8, Max: 2.5},
		WatchProbability:     0.35,
		HalfWatchProbability: 0.45,
		FallbackDuration:     30.0,
		MaxDuration:          120.0,
		FullWatchGrace:       10.0,
		IdleProbability:      0.12,
		IdleRange:            Range{Min: 2.0, Max: 6.0},
	}
}

// Normalized returns a copy with every probability clamped to [0,1], duration
// clamps floored at minClampSeconds, grace floored at zero, and ranges made
// non-negative with Min <= Max.
func (b Behavior) Normalized() Behavior {
	b.WatchProbability = clamp01(b.WatchProbability)
	b.HalfWatchProbability = clamp01(b.HalfWatchProbability)
	b.IdleProbability = clamp01(b.IdleProbability)
	b.FallbackDuration = maxFloat(minClampSeconds, b.FallbackDuration)
	b.MaxDuration = maxFloat(minClampSeconds, b.MaxDuration)
	b.FullWatchGrace = maxFloat(0, b.FullWatchGrace)
	b.PageLoadWait = b.PageLoadWait.normalized()
	b.BetweenActions = b.BetweenActions.normalized()
	b.IdleRange = b.IdleRange.normalized()
	return b
}

func (r Range) normalized() Range {
	r.Min = maxFloat(0, r.Min)
	r.Max = maxFloat(0, r.Max)
	if r.Max < r.Min {
		r.Min, r.Max = r.Max, r.Min
	}
	return r
}

// LoadBehavior reads a YAML behavior profile, overlaying it on the defaults.
func LoadBehavior(path string) (Behavior, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Behavior{}, fmt.Errorf("reading behavior profile: %w", err)
	}

	b := Default()
	if err := yaml.Unmarshal(data, &b); err != nil {
		return Behavior{}, fmt.Errorf("parsing behavior profile: %w", err)
	}
	return b.Normalized(), nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
