package lockengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/langengroup/stcl/acquisition"
	"github.com/langengroup/stcl/settings"
	"github.com/langengroup/stcl/trace"
)

// testDec gives roughly a 33ms scan window, wide enough to place a
// handful of sub-millisecond-wide test peaks with room to spare.
const testDec = 256

// testSettings builds a two-peak master (FSR of roughly 4ms) plus one
// slave laser sitting near the master's reference peak, all expressed
// already in sample indices, as a node receives them over the wire.
func testSettings(dec int) settings.WireSettings {
	idx := func(ms float64) int { return trace.MSToIndex(ms, dec) }
	return settings.WireSettings{
		Master: &settings.WireMaster{
			RangeIdx: [2][2]int{
				{idx(0.5), idx(1.5)},
				{idx(4.5), idx(5.5)},
			},
			Lockpoint: 5.0,
			Enabled:   true,
			PID:       settings.PID{P: 0.1, Limit: [2]float64{-1, 1}},
			PeakFinder: settings.PeakFinder{Name: "maximum"},
			Dec:       dec,
		},
		Slave1: &settings.WireLaser{
			RangeIdx:   [2]int{idx(4.0), idx(6.0)},
			Lockpoint:  5.2,
			Enabled:    true,
			PID:        settings.PID{P: 0.2, Limit: [2]float64{-1, 1}},
			PeakFinder: settings.PeakFinder{Name: "maximum"},
		},
		AsymmetricFSRNormalization: false,
	}
}

func newTestEngine(t *testing.T) (*Engine, *acquisition.SimDevice) {
	t.Helper()
	dev := acquisition.NewSimDevice([]acquisition.PeakSpec{
		{Position: 1.0, Height: 1.0, Width: 0.05},
		{Position: 5.0, Height: 1.0, Width: 0.05},
	}, 1)
	require.NoError(t, dev.SetDec(testDec))
	e := New(dev, true)
	require.NoError(t, e.UpdateSettings(testSettings(testDec)))
	return e, dev
}

func TestUpdateSettingsRequiresMaster(t *testing.T) {
	e := New(acquisition.NewSimDevice(nil, 1), true)
	err := e.UpdateSettings(settings.WireSettings{})
	require.Error(t, err)
}

func TestStepWithoutStartFails(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Step(context.Background(), 0)
	require.ErrorIs(t, err, ErrNotStarted)
}

func TestStartMeasuresFSRAndEnablesStep(t *testing.T) {
	e, _ := newTestEngine(t)
	err := e.Start(context.Background(), false)
	require.NoError(t, err)

	res, err := e.Step(context.Background(), 100)
	require.NoError(t, err)
	require.InDelta(t, 4.0, res.FSR, 0.1)
	require.False(t, res.Gated)
}

func TestCheckLockpointsRejectsOutOfRange(t *testing.T) {
	e, _ := newTestEngine(t)
	ws := testSettings(testDec)
	ws.Master.Lockpoint = 100 // well outside its own range
	require.NoError(t, e.UpdateSettings(ws))
	err := e.Start(context.Background(), false)
	require.ErrorIs(t, err, ErrLockpointsInvalid)
}

func TestOutlierGateSkipsPIDUpdate(t *testing.T) {
	e, dev := newTestEngine(t)
	require.NoError(t, e.Start(context.Background(), false))

	before := e.pids[laserMaster].IVal()

	// Shift every peak far enough to trip the outlier gate on the next
	// acquisition.
	dev.SetPeaks([]acquisition.PeakSpec{
		{Position: 2.0, Height: 1.0, Width: 0.05},
		{Position: 6.0, Height: 1.0, Width: 0.05},
	})
	res, err := e.Step(context.Background(), 200)
	require.NoError(t, err)
	require.True(t, res.Gated)
	require.Equal(t, before, e.pids[laserMaster].IVal())
}

func TestCheckHeightWarnsBelowReferenceRatio(t *testing.T) {
	e, dev := newTestEngine(t)
	require.NoError(t, e.Start(context.Background(), false))

	dev.SetPeaks([]acquisition.PeakSpec{
		{Position: 1.0, Height: 0.1, Width: 0.05},
		{Position: 5.0, Height: 0.1, Width: 0.05},
	})
	_, err := e.Step(context.Background(), 300)
	require.NoError(t, err)

	warnings := e.CheckHeight()
	require.NotEmpty(t, warnings)
}

func TestLockingNodeNeverWritesMasterOutput(t *testing.T) {
	dev := acquisition.NewSimDevice([]acquisition.PeakSpec{
		{Position: 1.0, Height: 1.0, Width: 0.05},
		{Position: 5.0, Height: 1.0, Width: 0.05},
	}, 1)
	require.NoError(t, dev.SetDec(testDec))
	e := New(dev, false)
	require.NoError(t, e.UpdateSettings(testSettings(testDec)))
	require.NoError(t, e.Start(context.Background(), false))

	_, err := e.Step(context.Background(), 100)
	require.NoError(t, err)
	require.Zero(t, dev.Offset(ChMaster), "a locking node must never drive the scanning node's master output")
}

func TestSnapshotSwapPreservesRuntimeState(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.Start(context.Background(), false))
	_, err := e.Step(context.Background(), 400)
	require.NoError(t, err)

	ival := e.pids[laserMaster].IVal()
	require.NoError(t, e.UpdateSettings(testSettings(testDec)))
	require.Equal(t, ival, e.pids[laserMaster].IVal())
}
