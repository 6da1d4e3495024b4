// Package trace defines the acquired waveform shape shared by every
// node, and the sample/millisecond conversions derived from decimation.
package trace

// NSamples is the fixed number of samples returned by a single
// acquisition, regardless of decimation.
const NSamples = 1 << 14

// Trace holds one acquisition: a shared time axis and one sample slice
// per input channel.
type Trace struct {
	Times []float64 // ms
	Ch0   []float64
	Ch1   []float64
}

// Duration returns the trace duration in seconds for a given decimation.
func Duration(dec int) float64 {
	return float64(NSamples) * 8e-9 * float64(dec)
}

// DurationMS returns the trace duration in milliseconds for dec.
func DurationMS(dec int) float64 {
	return Duration(dec) * 1e3
}

// MSToIndex converts a time in milliseconds to a sample index at
// decimation dec, truncating toward zero.
func MSToIndex(ms float64, dec int) int {
	return int(ms * NSamples / DurationMS(dec))
}

// IndexToMS converts a sample index to milliseconds at decimation dec.
func IndexToMS(i int, dec int) float64 {
	return float64(i) * DurationMS(dec) / NSamples
}

// TimeAxis returns the NSamples-long time axis in ms for dec.
func TimeAxis(dec int) []float64 {
	t := make([]float64, NSamples)
	dur := DurationMS(dec)
	for i := range t {
		t[i] = float64(i) * dur / NSamples
	}
	return t
}
