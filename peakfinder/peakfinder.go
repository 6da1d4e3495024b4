// Package peakfinder locates a single peak in a windowed slice of trace
// samples, using one of three interchangeable algorithms.
package peakfinder

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a named finder is not registered.
var ErrNotFound = errors.New("peakfinder: no such finder")

// ErrEmptyRange is returned when a search range selects no samples.
var ErrEmptyRange = errors.New("peakfinder: empty range")

// Range is an [lo, hi) index window into a trace, in samples.
type Range struct {
	Lo, Hi int
}

// Peak is a located peak's position (in the trace's own x units, usually
// milliseconds) and height.
type Peak struct {
	Position float64
	Height   float64
}

// Finder extracts one peak from x/y data restricted to r.
type Finder func(x, y []float64, r Range) (Peak, error)

// Registry mirrors the original peak_finders dict: a name to Finder
// lookup used when a node's settings select a peak finder by name.
var Registry = map[string]Finder{
	"maximum":   Maximum,
	"SG_maximum": SGMaximum,
	"SG_deriv":  SGDeriv,
}

// Lookup returns the named finder or ErrNotFound.
func Lookup(name string) (Finder, error) {
	f, ok := Registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return f, nil
}

func slice(x, y []float64, r Range) ([]float64, []float64, error) {
	lo, hi := r.Lo, r.Hi
	if hi > len(x) {
		hi = len(x)
	}
	if lo < 0 {
		lo = 0
	}
	if lo >= hi {
		return nil, nil, ErrEmptyRange
	}
	return x[lo:hi], y[lo:hi], nil
}

func argmax(y []float64) int {
	j := 0
	for i := 1; i < len(y); i++ {
		if y[i] > y[j] {
			j = i
		}
	}
	return j
}

// Maximum is the simplest peak finder: the sample with the largest
// value within r.
func Maximum(x, y []float64, r Range) (Peak, error) {
	xs, ys, err := slice(x, y, r)
	if err != nil {
		return Peak{}, err
	}
	j := argmax(ys)
	return Peak{Position: xs[j], Height: ys[j]}, nil
}
