package node

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/langengroup/stcl/acquisition"
	"github.com/langengroup/stcl/settings"
	"github.com/langengroup/stcl/transport"
)

const testDec = 256

func testNodeSettings() settings.NodeSettings {
	return settings.NodeSettings{
		Master: &settings.Master{
			Range:     [2][2]float64{{0.5, 1.5}, {4.5, 5.5}},
			Lockpoint: 5.0,
			Enabled:   true,
			PID:       settings.PID{P: 0.1, Limit: [2]float64{-1, 1}},
			PeakFinder: settings.PeakFinder{Name: "maximum"},
			Dec:       testDec,
		},
		Slave1: &settings.Laser{
			Range:      [2]float64{4.0, 6.0},
			Lockpoint:  5.2,
			Enabled:    true,
			PID:        settings.PID{P: 0.2, Limit: [2]float64{-1, 1}},
			PeakFinder: settings.PeakFinder{Name: "maximum"},
		},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dev := acquisition.NewSimDevice([]acquisition.PeakSpec{
		{Position: 1.0, Height: 1.0, Width: 0.05},
		{Position: 5.0, Height: 1.0, Width: 0.05},
	}, 1)
	require.NoError(t, dev.SetDec(testDec))
	s := New("test", RoleScan, dev, settings.NewFileStore(t.TempDir()))

	v, err := handleUpdateSettings(context.Background(), s, toAny(t, testNodeSettings()))
	require.NoError(t, err)
	require.Equal(t, "settings updated", v)
	return s
}

func toAny(t *testing.T, ns settings.NodeSettings) any {
	t.Helper()
	var v any
	b, err := json.Marshal(ns)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &v))
	return v
}

func TestEchoReturnsValueUnchanged(t *testing.T) {
	v, err := handleEcho(context.Background(), nil, "hello")
	require.NoError(t, err)
	require.Equal(t, "hello", v)
}

func TestUpdateSettingsRejectsInvalidLockpoint(t *testing.T) {
	s := newTestServer(t)
	ns := testNodeSettings()
	ns.Master.Lockpoint = 100
	_, err := handleUpdateSettings(context.Background(), s, toAny(t, ns))
	require.Error(t, err)
}

func TestStartLockThenStepViaLoop(t *testing.T) {
	s := newTestServer(t)
	v, err := handleStartLock(context.Background(), s, nil)
	require.NoError(t, err)
	require.Equal(t, "lock started", v)
	require.NotNil(t, s.loop.Load())

	al := s.loop.Load()
	require.Equal(t, "lock", al.kind)

	_, err = handleAcquireErrs(context.Background(), s, nil)
	require.NoError(t, err)

	_, err = handleStop(context.Background(), s, nil)
	require.NoError(t, err)
	require.Nil(t, s.loop.Load())
}

func TestAcquireChNRejectsTooManyTraces(t *testing.T) {
	s := newTestServer(t)
	_, err := handleAcquireChN(context.Background(), s, "0|101")
	require.Error(t, err)
}

func TestAcquireChNReturnsRequestedCount(t *testing.T) {
	s := newTestServer(t)
	v, err := handleAcquireChN(context.Background(), s, "0|3")
	require.NoError(t, err)
	traces, ok := v.([][]float64)
	require.True(t, ok)
	require.Len(t, traces, 3)
}

func TestAcquirePeaksChSkipsBadRangeWithoutAbortingBatch(t *testing.T) {
	s := newTestServer(t)
	v, err := handleAcquirePeaksCh(context.Background(), s, "0|100,400|-5,-1")
	require.NoError(t, err)
	results, ok := v.([]any)
	require.True(t, ok)
	require.Len(t, results, 2)
	require.NotNil(t, results[0])
	require.Nil(t, results[1])
}

func TestSetDecRejectsNonPowerOfTwo(t *testing.T) {
	s := newTestServer(t)
	_, err := handleSetDec(context.Background(), s, float64(3))
	require.Error(t, err)
}

func TestUnknownActionProducesErrorResultNotClosedConnection(t *testing.T) {
	s := newTestServer(t)
	resp := s.dispatch(context.Background(), transport.Request{Action: "bogus"})
	str, ok := resp.Result.(string)
	require.True(t, ok)
	require.Contains(t, str, "invalid action")
}
