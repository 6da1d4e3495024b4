package acquisition

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/langengroup/stcl/trace"
)

// PeakSpec describes one synthetic cavity transmission peak as a
// Gaussian bump on the scan time axis.
type PeakSpec struct {
	Position float64 // ms
	Height   float64
	Width    float64 // ms, Gaussian sigma
}

// SimDevice is a deterministic synthetic cavity used in place of real
// hardware: it renders a trace as the sum of configured Gaussian peaks
// plus optional noise, and tracks the three output offsets and digital
// gates the way the real acquisition chain would. It stands in for the
// original software's bench rig in tests and examples.
type SimDevice struct {
	mu sync.Mutex

	dec   int
	peaks []PeakSpec
	noise float64
	rng   *rand.Rand

	gates   [3]bool
	offsets [3]float64

	failNext bool
}

// NewSimDevice returns a SimDevice seeded with peaks, at dec = 16
// (matching the original hardware default), gates open, and no noise.
// seed controls the deterministic noise generator.
func NewSimDevice(peaks []PeakSpec, seed int64) *SimDevice {
	return &SimDevice{
		dec:   16,
		peaks: peaks,
		rng:   rand.New(rand.NewSource(seed)),
		gates: [3]bool{true, true, true},
	}
}

// SetNoise sets the standard deviation of additive Gaussian noise on
// every generated sample.
func (d *SimDevice) SetNoise(sigma float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.noise = sigma
}

// SetPeaks replaces the configured peak list, e.g. to simulate drift
// between acquisitions.
func (d *SimDevice) SetPeaks(peaks []PeakSpec) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peaks = peaks
}

// FailNextAcquisition makes the next Acquire/AcquireCh call return
// ErrTriggerMissed, simulating a missed hardware trigger.
func (d *SimDevice) FailNextAcquisition() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = true
}

// Offset returns the last value written to output ch by SetOffset.
func (d *SimDevice) Offset(ch int) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.offsets[ch]
}

// SetGate sets the digital trigger pin state read back by ReadGate.
func (d *SimDevice) SetGate(ch int, open bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gates[ch] = open
}

func (d *SimDevice) render() (times, samples []float64) {
	times = trace.TimeAxis(d.dec)
	samples = make([]float64, len(times))
	for i, t := range times {
		var v float64
		for _, p := range d.peaks {
			if p.Width == 0 {
				continue
			}
			dt := (t - p.Position) / p.Width
			v += p.Height * math.Exp(-dt*dt)
		}
		if d.noise > 0 {
			v += d.rng.NormFloat64() * d.noise
		}
		samples[i] = v
	}
	return times, samples
}

// Acquire implements Device.
func (d *SimDevice) Acquire(ctx context.Context) (trace.Trace, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return trace.Trace{}, err
	}
	if d.failNext {
		d.failNext = false
		return trace.Trace{}, ErrTriggerMissed
	}
	times, samples := d.render()
	return trace.Trace{Times: times, Ch0: samples, Ch1: samples}, nil
}

// AcquireCh implements Device.
func (d *SimDevice) AcquireCh(ctx context.Context, ch int) ([]float64, float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if d.failNext {
		d.failNext = false
		return nil, 0, ErrTriggerMissed
	}
	times, samples := d.render()
	return samples, times[len(times)-1], nil
}

// SetDec implements Device.
func (d *SimDevice) SetDec(dec int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dec = dec
	return nil
}

// Dec implements Device.
func (d *SimDevice) Dec() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dec
}

// ReadGate implements Device.
func (d *SimDevice) ReadGate(ch int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gates[ch], nil
}

// SetOffset implements Device.
func (d *SimDevice) SetOffset(ch int, volts float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.offsets[ch] = volts
	return nil
}

var _ Device = (*SimDevice)(nil)
