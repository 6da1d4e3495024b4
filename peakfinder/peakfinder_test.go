package peakfinder

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func gaussianTrace(n int, centerIdx int, sigma float64) (x, y []float64) {
	x = make([]float64, n)
	y = make([]float64, n)
	for i := 0; i < n; i++ {
		x[i] = float64(i) * 0.01
		d := float64(i - centerIdx)
		y[i] = math.Exp(-d * d / (2 * sigma * sigma))
	}
	return x, y
}

func TestMaximum(t *testing.T) {
	x, y := gaussianTrace(200, 100, 5)
	peak, err := Maximum(x, y, Range{Lo: 0, Hi: 200})
	require.NoError(t, err)
	require.InDelta(t, x[100], peak.Position, 1e-9)
	require.InDelta(t, 1.0, peak.Height, 1e-9)
}

func TestMaximumEmptyRange(t *testing.T) {
	x, y := gaussianTrace(10, 5, 2)
	_, err := Maximum(x, y, Range{Lo: 5, Hi: 5})
	require.ErrorIs(t, err, ErrEmptyRange)
}

func TestLookupKnownAndUnknown(t *testing.T) {
	for _, name := range []string{"maximum", "SG_maximum", "SG_deriv"} {
		f, err := Lookup(name)
		require.NoError(t, err)
		require.NotNil(t, f)
	}
	_, err := Lookup("no_such_finder")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSGMaximumFindsPeakNearTrueCenter(t *testing.T) {
	x, y := gaussianTrace(400, 200, 8)
	peak, err := SGMaximum(x, y, Range{Lo: 0, Hi: 400})
	require.NoError(t, err)
	require.InDelta(t, x[200], peak.Position, 0.05)
}

func TestSGDerivFindsPeakNearTrueCenter(t *testing.T) {
	x, y := gaussianTrace(400, 200, 8)
	peak, err := SGDeriv(x, y, Range{Lo: 0, Hi: 400})
	require.NoError(t, err)
	require.InDelta(t, x[200], peak.Position, 0.05)
}

func TestSGDerivFallsBackOnShortRange(t *testing.T) {
	x, y := gaussianTrace(10, 5, 2)
	peak, err := SGDeriv(x, y, Range{Lo: 0, Hi: 10})
	require.NoError(t, err)
	require.Equal(t, x[5], peak.Position)
}

func TestNewWithCustomWindow(t *testing.T) {
	f, err := New("SG_maximum", 11, 2, 0)
	require.NoError(t, err)
	x, y := gaussianTrace(200, 100, 6)
	peak, err := f(x, y, Range{Lo: 0, Hi: 200})
	require.NoError(t, err)
	require.InDelta(t, x[100], peak.Position, 0.05)
}

func TestNewUnknownName(t *testing.T) {
	_, err := New("not_a_finder", 0, 0, 0)
	require.ErrorIs(t, err, ErrNotFound)
}
