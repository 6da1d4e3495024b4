package host

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/langengroup/stcl/acquisition"
	"github.com/langengroup/stcl/node"
	"github.com/langengroup/stcl/settings"
	"github.com/langengroup/stcl/trace"
)

// testDec is the decimation every test node runs at (SimDevice's own
// default), fixing the scan duration every test's settings are built
// against.
const testDec = 16

func testPeaks() []acquisition.PeakSpec {
	return []acquisition.PeakSpec{
		{Position: 0.3, Height: 1.0, Width: 0.02},
		{Position: 1.3, Height: 1.0, Width: 0.02},
	}
}

// startTestNode launches a node.Server on loopback ports chosen by the
// OS and returns a NodeConfig pointing at them, stopping the server
// when the test completes.
func startTestNode(t *testing.T, label string, role node.Role) NodeConfig {
	t.Helper()

	primaryLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	loopLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	dev := acquisition.NewSimDevice(testPeaks(), 1)
	srv := node.New(label, role, dev, settings.NewFileStore(t.TempDir()))
	srv.PrimaryAddr = primaryLn.Addr().String()
	srv.LoopAddr = loopLn.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		_ = srv.Serve(ctx, primaryLn, loopLn)
	}()

	return NodeConfig{Label: label, Role: string(role), PrimaryAddr: srv.PrimaryAddr, LoopAddr: srv.LoopAddr}
}

// scanSettings returns a valid scanning-node settings document at
// testDec: a master range around each synthetic peak in testPeaks,
// locking to the second (reference) peak.
func scanSettings() settings.NodeSettings {
	return settings.NodeSettings{
		Master: &settings.Master{
			Range:     [2][2]float64{{0.2, 0.4}, {1.2, 1.4}},
			Lockpoint: 1.3,
			Enabled:   true,
			PID:       settings.PID{P: 0.1, Limit: [2]float64{-1, 1}},
			PeakFinder: settings.PeakFinder{Name: "maximum"},
			Dec:       testDec,
		},
	}
}

// lockSettings returns a valid locking-node settings document pointed
// at masterLabel, with a single slave ranged over the same first peak
// scanSettings reserves for the master's non-reference sub-interval.
func lockSettings(masterLabel string) settings.NodeSettings {
	return settings.NodeSettings{
		MasterLabel: masterLabel,
		Slave1: &settings.Laser{
			Range:      [2]float64{0.2, 0.4},
			Lockpoint:  0.3,
			Enabled:    true,
			PID:        settings.PID{P: 0.1, Limit: [2]float64{-1, 1}},
			PeakFinder: settings.PeakFinder{Name: "maximum"},
		},
	}
}

func testFleet(t *testing.T) *Controller {
	scan := startTestNode(t, "scan0", node.RoleScan)
	lock := startTestNode(t, "lock0", node.RoleLock)
	lock.MasterLabel = "scan0"
	mon := startTestNode(t, "mon0", node.RoleMonitor)
	mon.MasterLabel = "scan0"

	cfg := &FleetConfig{Nodes: []NodeConfig{scan, lock, mon}}
	c := NewController(cfg, settings.NewFileStore(t.TempDir()))

	durationMS := trace.DurationMS(testDec)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.SaveSettings(ctx, "scan0", scanSettings(), durationMS))
	require.NoError(t, c.SaveSettings(ctx, "lock0", lockSettings("scan0"), durationMS))

	return c
}

func TestFindMasterRPResolvesOwnLabelForScanNode(t *testing.T) {
	c := testFleet(t)
	label, err := c.FindMasterRP("scan0")
	require.NoError(t, err)
	require.Equal(t, "scan0", label)
}

func TestFindMasterRPResolvesMasterLabelForLockNode(t *testing.T) {
	c := testFleet(t)
	label, err := c.FindMasterRP("lock0")
	require.NoError(t, err)
	require.Equal(t, "scan0", label)
}

func TestFindSlaveRPsPutsMasterLast(t *testing.T) {
	c := testFleet(t)
	slaves := c.FindSlaveRPs("scan0")
	require.NotEmpty(t, slaves)
	require.Equal(t, "scan0", slaves[len(slaves)-1])
	require.Contains(t, slaves, "lock0")
	require.Contains(t, slaves, "mon0")
}

func TestFindMonitorRPReturnsConfiguredMonitor(t *testing.T) {
	c := testFleet(t)
	require.Equal(t, "mon0", c.FindMonitorRP("scan0"))
}

func TestAcquireRoundTripsThroughRealNode(t *testing.T) {
	c := testFleet(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	v, err := c.Acquire(ctx, "scan0")
	require.NoError(t, err)
	triple, ok := v.([]any)
	require.True(t, ok)
	require.Len(t, triple, 3)
}

func TestAcquireChNChunksAcrossBatches(t *testing.T) {
	c := testFleet(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	traces, err := c.AcquireChN(ctx, "scan0", 0, 150)
	require.NoError(t, err)
	require.Len(t, traces, 150)
}

func TestCloseAfterStartLockAndMonitorSucceeds(t *testing.T) {
	c := testFleet(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.StartLock(ctx, "scan0"))
	require.NoError(t, c.StartMonitor(ctx, "scan0"))
	require.NoError(t, c.Close(ctx, "scan0"))
}

func TestStartLockSkipsMonitorNode(t *testing.T) {
	c := testFleet(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.StartLock(ctx, "scan0"))
	require.Nil(t, c.Node("mon0").loopConn, "monitor node should not have received start_lock")
	t.Cleanup(func() { _ = c.Close(ctx, "scan0") })
}
