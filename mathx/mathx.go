// Package mathx provides rounding helpers missing from package math
package mathx

import "math"

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
// Halves round away from zero.
func Round(x, unit float64) float64 {
	return math.Round(x/unit) * unit
}

// RoundInt rounds x/unit to the nearest integer, e.g. a distance to a whole
// number of motor pulses
func RoundInt(x, unit float64) int64 {
	return int64(math.Round(x / unit))
}
