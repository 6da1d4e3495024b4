package pid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFirstUpdateIsNoOp(t *testing.T) {
	c := New(Config{P: 1, I: 1, D: 1, Limit: [2]float64{-1, 1}})
	mv, state := c.Update(0.5, 0)
	require.Equal(t, Uninitialized, state)
	require.Equal(t, 0.0, mv)
	require.Equal(t, 0.0, c.MV())
}

func TestUpdateTracksAfterFirstSample(t *testing.T) {
	c := New(Config{P: 2, I: 0, D: 0, Limit: [2]float64{-10, 10}})
	c.Update(1, 0)
	mv, state := c.Update(1, 1)
	require.Equal(t, Tracking, state)
	require.InDelta(t, 2.0, mv, 1e-9)
}

func TestIntegralAccumulates(t *testing.T) {
	c := New(Config{P: 0, I: 1, D: 0, Limit: [2]float64{-100, 100}})
	c.Update(1, 0)
	c.Update(1, 1) // dt=1, I_val += 1*1*1 = 1
	mv, _ := c.Update(1, 2) // dt=1, I_val += 1 = 2
	require.InDelta(t, 2.0, mv, 1e-9)
}

func TestOutputClampedBothWays(t *testing.T) {
	c := New(Config{P: 100, I: 0, D: 0, Limit: [2]float64{-1, 1}})
	c.Update(1, 0)
	mv, _ := c.Update(1, 1)
	require.Equal(t, 1.0, mv)

	c2 := New(Config{P: 100, I: 0, D: 0, Limit: [2]float64{-1, 1}})
	c2.Update(-1, 0)
	mv2, _ := c2.Update(-1, 1)
	require.Equal(t, -1.0, mv2)
}

func TestHoldingWhenGatedOff(t *testing.T) {
	c := New(Config{P: 10, I: 0, D: 0, Limit: [2]float64{-100, 100}})
	c.Update(1, 0)
	c.Update(1, 1)
	before := c.MV()
	c.On = false
	mv, state := c.Update(5, 2)
	require.Equal(t, Holding, state)
	require.Equal(t, before, mv)
}

func TestResetRestoresCreationTimeIVal(t *testing.T) {
	c := New(Config{P: 1, I: 1, D: 0, IVal: 0.25, Limit: [2]float64{-10, 10}})
	c.Update(1, 0)
	c.Update(1, 1)
	require.NotEqual(t, 0.25, c.IVal())
	c.Reset()
	require.Equal(t, 0.25, c.IVal())
	require.Equal(t, 0.25, c.MV())

	mv, state := c.Update(1, 10)
	require.Equal(t, Uninitialized, state)
	require.Equal(t, 0.25, mv)
}
