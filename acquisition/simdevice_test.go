package acquisition

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSimDeviceRendersConfiguredPeaks(t *testing.T) {
	d := NewSimDevice([]PeakSpec{
		{Position: 1.2, Height: 1.0, Width: 0.03},
	}, 1)
	samples, dur, err := d.AcquireCh(context.Background(), 0)
	require.NoError(t, err)
	require.Greater(t, dur, 0.0)
	require.NotEmpty(t, samples)

	var maxV float64
	for _, v := range samples {
		if v > maxV {
			maxV = v
		}
	}
	require.InDelta(t, 1.0, maxV, 0.05)
}

func TestSimDeviceFailNextAcquisition(t *testing.T) {
	d := NewSimDevice(nil, 1)
	d.FailNextAcquisition()
	_, _, err := d.AcquireCh(context.Background(), 0)
	require.ErrorIs(t, err, ErrTriggerMissed)

	// only fails once
	_, _, err = d.AcquireCh(context.Background(), 0)
	require.NoError(t, err)
}

func TestSimDeviceOffsetsAndGates(t *testing.T) {
	d := NewSimDevice(nil, 1)
	require.NoError(t, d.SetOffset(0, 0.5))
	require.Equal(t, 0.5, d.Offset(0))

	d.SetGate(1, false)
	gate, err := d.ReadGate(1)
	require.NoError(t, err)
	require.False(t, gate)
}

func TestSimDeviceSetDec(t *testing.T) {
	d := NewSimDevice(nil, 1)
	require.NoError(t, d.SetDec(64))
	require.Equal(t, 64, d.Dec())
}
