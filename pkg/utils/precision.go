package utils

import "math"

const (
	// DefaultMaxminPrecision is the numerical tolerance of the sharing system.
	DefaultMaxminPrecision = 1e-5

	// DefaultTimingPrecision is the tolerance applied to simulated dates and durations.
	DefaultTimingPrecision = 1e-9

	// NoMaxDuration marks an action without a duration limit.
	NoMaxDuration = -1.0
)

// DoubleUpdate subtracts value from *v and snaps the result to zero when it
// falls below precision.
func DoubleUpdate(v *float64, value, precision float64) {
	*v -= value
	if *v < precision {
		*v = 0
	}
}

// DoublePositive reports whether v is strictly greater than precision.
func DoublePositive(v, precision float64) bool {
	return v > precision
}

// DoubleEquals reports whether a and b differ by less than precision.
func DoubleEquals(a, b, precision float64) bool {
	return math.Abs(a-b) < precision
}
