// Package util contains misc internal utilities.
package util

import (
	"math"
	"time"
)

// Limiter holds the software limits of an axis
type Limiter struct {
	Min float64 `json:"min" yaml:"Min"`
	Max float64 `json:"max" yaml:"Max"`
}

// Check returns true if min <= input <= max
func (l Limiter) Check(input float64) bool {
	return input >= l.Min && input <= l.Max
}

// Clamp limits input to min <= input <= max
func (l Limiter) Clamp(input float64) float64 {
	return Clamp(input, l.Min, l.Max)
}

// Clamp limits input to low <= input <= high
func Clamp(input, low, high float64) float64 {
	return math.Max(low, math.Min(input, high))
}

// Arange returns evenly spaced values in [start, stop) separated by step.
// stop is excluded even when rounding error puts it a hair past the grid
func Arange(start, stop, step float64) []float64 {
	if step == 0 || (stop-start)/step <= 0 {
		return []float64{}
	}
	n := int(math.Ceil((stop-start)/step - 1e-9))
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

// Linspace returns n evenly spaced values from start to stop, inclusive
func Linspace(start, stop float64, n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	if n == 1 {
		return []float64{start}
	}
	out := make([]float64, n)
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = stop
	return out
}

// SecsToDuration converts a floating point number of seconds to a time.Duration
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(math.Round(secs * 1e9))
}
