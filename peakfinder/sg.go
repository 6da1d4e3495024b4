package peakfinder

import (
	"fmt"
	"math"
)

// sgCoefficients computes a Savitzky-Golay convolution kernel of the
// given windowSize and polynomial order for the deriv-th derivative,
// matching the original software's SG_array: the kernel is the
// deriv-th row of the Moore-Penrose pseudoinverse of the Vandermonde
// design matrix B, where B[k+half][i] = k^i for k in
// [-half, half] and i in [0, order].
//
// Since B has full column rank for windowSize > order, the pseudoinverse
// reduces to (B^T B)^-1 B^T, computed here via Gauss-Jordan elimination
// on the small (order+1)x(order+1) Gram matrix rather than a general SVD.
func sgCoefficients(windowSize, order, deriv int, rate float64) []float64 {
	half := (windowSize - 1) / 2
	n := order + 1

	// B[k+half][i] = k^i
	b := make([][]float64, windowSize)
	for k := -half; k <= half; k++ {
		row := make([]float64, n)
		for i := 0; i < n; i++ {
			row[i] = math.Pow(float64(k), float64(i))
		}
		b[k+half] = row
	}

	// Gram matrix G = B^T B
	g := make([][]float64, n)
	for i := range g {
		g[i] = make([]float64, n)
		for j := range g[i] {
			var sum float64
			for k := 0; k < windowSize; k++ {
				sum += b[k][i] * b[k][j]
			}
			g[i][j] = sum
		}
	}

	gInv := invert(g)

	// (deriv)-th row of G^-1 B^T, a windowSize-length kernel.
	m := make([]float64, windowSize)
	for k := 0; k < windowSize; k++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += gInv[deriv][i] * b[k][i]
		}
		m[k] = sum
	}

	scale := math.Pow(rate, float64(deriv)) * factorial(deriv)
	for k := range m {
		m[k] *= scale
	}
	return m
}

func factorial(n int) float64 {
	f := 1.0
	for i := 2; i <= n; i++ {
		f *= float64(i)
	}
	return f
}

// invert computes the inverse of a small square matrix via Gauss-Jordan
// elimination with partial pivoting.
func invert(a [][]float64) [][]float64 {
	n := len(a)
	aug := make([][]float64, n)
	for i := range aug {
		aug[i] = make([]float64, 2*n)
		copy(aug[i], a[i])
		aug[i][n+i] = 1
	}

	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(aug[r][col]) > math.Abs(aug[pivot][col]) {
				pivot = r
			}
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]

		pv := aug[col][col]
		for c := 0; c < 2*n; c++ {
			aug[col][c] /= pv
		}
		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			factor := aug[r][col]
			for c := 0; c < 2*n; c++ {
				aug[r][c] -= factor * aug[col][c]
			}
		}
	}

	inv := make([][]float64, n)
	for i := range inv {
		inv[i] = make([]float64, n)
		copy(inv[i], aug[i][n:])
	}
	return inv
}

const defaultWindowSize = 21

var (
	smoothingKernel  = sgCoefficients(defaultWindowSize, 2, 0, 1)
	derivativeKernel = sgCoefficients(defaultWindowSize, 1, 1, 1)
)

// convolve mirrors numpy.convolve(kernel, data, mode='valid').
func convolve(kernel, data []float64) []float64 {
	k := len(kernel)
	if len(data) < k {
		return nil
	}
	out := make([]float64, len(data)-k+1)
	for i := range out {
		var sum float64
		for j := 0; j < k; j++ {
			sum += kernel[k-1-j] * data[i+j]
		}
		out[i] = sum
	}
	return out
}

// SGMaximum smooths a window around the raw maximum with the default
// zero-order Savitzky-Golay kernel (window 21, order 2) and returns the
// argmax of the smoothed data.
func SGMaximum(x, y []float64, r Range) (Peak, error) {
	return sgMaximumWith(x, y, r, smoothingKernel)
}

// SGDeriv locates the peak using the default first-order Savitzky-Golay
// kernel (window 21, order 1). See sgDerivWith for the algorithm.
func SGDeriv(x, y []float64, r Range) (Peak, error) {
	return sgDerivWith(x, y, r, derivativeKernel)
}

// Smooth applies the default zero-order Savitzky-Golay kernel (window
// 21, order 2) across the whole of y, used by the cavity monitor's
// optional display filter rather than peak extraction. Samples too
// close to either edge for a full window pass through unchanged.
func Smooth(y []float64) []float64 {
	half := (len(smoothingKernel) - 1) / 2
	out := make([]float64, len(y))
	copy(out, y)
	if len(y) < len(smoothingKernel) {
		return out
	}
	smoothed := convolve(smoothingKernel, y)
	copy(out[half:len(out)-half], smoothed)
	return out
}

func sgMaximumWith(x, y []float64, r Range, kernel []float64) (Peak, error) {
	xs, ys, err := slice(x, y, r)
	if err != nil {
		return Peak{}, err
	}
	half := (len(kernel) - 1) / 2
	j := argmax(ys)

	lo, hi := j-2*half, j+2*half
	if lo < 0 {
		lo = 0
	}
	if hi > len(ys) {
		hi = len(ys)
	}
	if lo >= hi {
		return Peak{Position: xs[j], Height: ys[j]}, nil
	}

	smoothed := convolve(kernel, ys[lo:hi])
	if len(smoothed) == 0 {
		return Peak{Position: xs[j], Height: ys[j]}, nil
	}
	j2 := argmax(smoothed)
	pos := xs[lo+half+j2]
	return Peak{Position: pos, Height: smoothed[j2]}, nil
}

// sgDerivWith locates the peak by finding the zero crossing of a
// first-order Savitzky-Golay derivative near the raw maximum, linearly
// interpolating between the two samples bracketing the crossing. If
// interpolation lands outside a sane neighborhood of the raw maximum (a
// bumpy peak shape confusing the derivative), it falls back to the raw
// argmax.
func sgDerivWith(x, y []float64, r Range, kernel []float64) (Peak, error) {
	xs, ys, err := slice(x, y, r)
	if err != nil {
		return Peak{}, err
	}
	half := (len(kernel) - 1) / 2
	j := argmax(ys)

	lo, hi := j-half, j+half+2
	if lo < 0 || hi > len(ys) || j+1 >= len(xs) || j+half >= len(xs) {
		return Peak{Position: xs[j], Height: ys[j]}, nil
	}

	dv := convolve(kernel, ys[lo:hi])
	if len(dv) < 2 || dv[1] == dv[0] {
		return Peak{Position: xs[j], Height: ys[j]}, nil
	}

	xp := xs[j] - dv[0]*(xs[j+1]-xs[j])/(dv[1]-dv[0])
	if math.Abs(xp-xs[j]) < xs[j+half]-xs[j] {
		return Peak{Position: xp, Height: ys[j]}, nil
	}
	return Peak{Position: xs[j], Height: ys[j]}, nil
}

// New builds a Finder for name, optionally overriding the Savitzky-Golay
// window size and order (zero values fall back to the defaults baked
// into SGMaximum/SGDeriv). deriv is ignored: SG_maximum always uses the
// zero-order kernel and SG_deriv the first-derivative kernel, and
// "maximum" ignores every parameter. This is the configurable form used by
// a node's set_peakfinder action; Lookup/Registry remain for the simple,
// parameterless case.
func New(name string, windowSize, order, deriv int) (Finder, error) {
	switch name {
	case "maximum":
		return Maximum, nil
	case "SG_maximum":
		if windowSize == 0 && order == 0 {
			return SGMaximum, nil
		}
		if windowSize == 0 {
			windowSize = defaultWindowSize
		}
		if order == 0 {
			order = 2
		}
		kernel := sgCoefficients(windowSize, order, 0, 1)
		return func(x, y []float64, r Range) (Peak, error) {
			return sgMaximumWith(x, y, r, kernel)
		}, nil
	case "SG_deriv":
		if windowSize == 0 && order == 0 {
			return SGDeriv, nil
		}
		if windowSize == 0 {
			windowSize = defaultWindowSize
		}
		if order == 0 {
			order = 1
		}
		kernel := sgCoefficients(windowSize, order, 1, 1)
		return func(x, y []float64, r Range) (Peak, error) {
			return sgDerivWith(x, y, r, kernel)
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
}
