package taskpoll

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// maxPendingProgress is the highest progress reported before success arrives.
const maxPendingProgress = 99

// ProgressMode selects one of the built-in progress simulator presets.
type ProgressMode string

const (
	// ProgressFast approaches its ceiling quickly; suits jobs of about a minute.
	ProgressFast ProgressMode = "fast"

	// ProgressMedium suits jobs of about three minutes.
	ProgressMedium ProgressMode = "medium"

	// ProgressSlow creeps towards 95 and suits jobs of about six minutes.
	ProgressSlow ProgressMode = "slow"
)

// String returns the string representation of the mode.
func (m ProgressMode) String() string {
	return string(m)
}

// ParseProgressMode converts a configuration string into a [ProgressMode].
// Matching is case-insensitive.
func ParseProgressMode(s string) (ProgressMode, error) {
	switch mode := ProgressMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case ProgressFast, ProgressMedium, ProgressSlow:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown progress mode %q (expected fast, medium or slow)", s)
	}
}

// ProgressSimulator maps the previous synthetic progress to the next one.
//
// Simulators are called once per pending tick from the poller's goroutine.
// The poller clamps the result to 99 and ignores values below the current
// progress, so a simulator cannot make progress go backwards.
type ProgressSimulator func(current float64) float64

// progressBand is a random step applied while progress is below limit.
type progressBand struct {
	limit    float64
	min, max int
}

type progressCurve struct {
	ceiling float64
	bands   []progressBand
}

var progressCurves = map[ProgressMode]progressCurve{
	ProgressFast: {
		ceiling: 99,
		bands:   []progressBand{{70, 6, 15}, {90, 4, 8}, {99, 1, 4}},
	},
	ProgressMedium: {
		ceiling: 99,
		bands:   []progressBand{{75, 2, 7}, {90, 1, 4}, {99, 0, 2}},
	},
	ProgressSlow: {
		ceiling: 95,
		bands:   []progressBand{{60, 0, 3}, {80, 0, 2}, {95, 0, 1}},
	},
}

// NewProgressSimulator returns the preset simulator for mode.
//
// Below the preset's ceiling each call adds a random step drawn from the band
// the current value falls in, without overshooting the ceiling. At or above
// the ceiling each call adds exactly 1, capped at 99, so progress keeps moving
// without ever reporting completion.
//
// Unknown modes fall back to [ProgressMedium].
func NewProgressSimulator(mode ProgressMode) ProgressSimulator {
	return newProgressSimulator(mode, rand.IntN)
}

// newProgressSimulator takes the random source so tests can pin the steps.
// intN(n) must return a value in [0, n).
func newProgressSimulator(mode ProgressMode, intN func(n int) int) ProgressSimulator {
	curve, ok := progressCurves[mode]
	if !ok {
		curve = progressCurves[ProgressMedium]
	}

	return func(current float64) float64 {
		if current >= curve.ceiling {
			return min(current+1, maxPendingProgress)
		}

		for _, band := range curve.bands {
			if current < band.limit {
				step := band.min + intN(band.max-band.min+1)
				return min(current+float64(step), curve.ceiling)
			}
		}

		return min(current+1, maxPendingProgress)
	}
}

// clampProgress limits p to the 0..100 range.
func clampProgress(p float64) float64 {
	return max(0, min(p, 100))
}
