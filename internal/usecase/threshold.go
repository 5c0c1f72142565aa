package usecase

import "math"

// ToPercent converts an internal vote threshold in [-1, 1] to the display
// percentage in [0, 100]. 0 maps to 50, which is simple majority.
func ToPercent(t float64) int {
	return int(math.Round((t + 1) / 2 * 100))
}

// ToInternal converts a display percentage back to the internal range.
func ToInternal(p float64) float64 {
	return p/100*2 - 1
}

// ValidThreshold reports whether t is inside [-1, 1].
func ValidThreshold(t float64) bool {
	return t >= -1 && t <= 1 && !math.IsNaN(t)
}
