package host

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/langengroup/stcl/settings"
)

// maxFanOut bounds how many nodes a single fleet command contacts
// concurrently, the Go realization of "bounded concurrent dispatch
// across nodes" rather than one goroutine per node unconditionally.
const maxFanOut = 8

// Controller owns every node in a fleet, its persisted settings, and
// the fan-out/shutdown logic spec.md's §4.6 describes. It corresponds
// to the original lockclient.py's LockClient almost one for one.
type Controller struct {
	Store   settings.Store
	nodes   map[string]*NodeConfig
	handles map[string]*NodeHandle
}

// NewController builds a Controller from a FleetConfig, keyed by node
// label for the topology queries below. Each node gets one persistent
// NodeHandle so a loop connection opened by StartLock/StartScan is
// still there for a later StopLoop/Close to find.
func NewController(cfg *FleetConfig, store settings.Store) *Controller {
	c := &Controller{Store: store, nodes: map[string]*NodeConfig{}, handles: map[string]*NodeHandle{}}
	for i := range cfg.Nodes {
		n := cfg.Nodes[i]
		c.nodes[n.Label] = &n
		c.handles[n.Label] = &NodeHandle{Label: n.Label, PrimaryAddr: n.PrimaryAddr, LoopAddr: n.LoopAddr}
	}
	return c
}

// Node returns label's persistent NodeHandle, or nil if label is
// unknown.
func (c *Controller) Node(label string) *NodeHandle {
	return c.handles[label]
}

// FindMasterRP returns the scanning node's label for the cavity that
// label belongs to: label itself if it is already a scan node,
// otherwise its configured MasterLabel.
func (c *Controller) FindMasterRP(label string) (string, error) {
	n, ok := c.nodes[label]
	if !ok {
		return "", fmt.Errorf("host: no such node %q", label)
	}
	if n.Role == "scan" {
		return label, nil
	}
	if n.MasterLabel == "" {
		return "", fmt.Errorf("host: node %q has no master_label", label)
	}
	return n.MasterLabel, nil
}

// FindSlaveRPs returns every non-scan node (lock, monitor) whose
// MasterLabel points at masterLabel, with masterLabel itself appended
// last — the order §4.6 names for shutdown (slaves before masters).
func (c *Controller) FindSlaveRPs(masterLabel string) []string {
	var out []string
	for label, n := range c.nodes {
		if n.Role != "scan" && n.MasterLabel == masterLabel {
			out = append(out, label)
		}
	}
	out = append(out, masterLabel)
	return out
}

// FindMonitorRP returns a monitor node sharing masterLabel's cavity, or
// "" if none is configured.
func (c *Controller) FindMonitorRP(masterLabel string) string {
	for label, n := range c.nodes {
		if n.Role == "monitor" && n.MasterLabel == masterLabel {
			return label
		}
	}
	return ""
}

// LoadSettings loads label's persisted settings through Store.
func (c *Controller) LoadSettings(label string) (settings.NodeSettings, error) {
	return c.Store.Load(label)
}

// SaveSettings validates and persists ns for label, then ships it to
// the node via update_settings. For a locking node whose file only
// carries a MasterLabel, the master's own Master block is resolved and
// attached before conversion to wire form, so the node never has to
// chase a label itself.
func (c *Controller) SaveSettings(ctx context.Context, label string, ns settings.NodeSettings, durationMS float64) error {
	if err := ns.Validate(durationMS); err != nil {
		return err
	}
	if err := c.Store.Save(label, ns); err != nil {
		return err
	}

	resolved := ns
	if resolved.Master == nil && resolved.MasterLabel != "" {
		masterSettings, err := c.Store.Load(resolved.MasterLabel)
		if err != nil {
			return fmt.Errorf("host: resolve master %q for %q: %w", resolved.MasterLabel, label, err)
		}
		resolved.Master = masterSettings.Master
	}

	h := c.Node(label)
	if h == nil {
		return fmt.Errorf("host: no such node %q", label)
	}
	// Ship resolved as-is (ms ranges): the node converts to WireSettings
	// exactly once, in handleUpdateSettings. Converting here too would
	// hand the node sample indices labeled as milliseconds.
	_, err := h.Request(ctx, "update_settings", resolved)
	return err
}

// RescaleOnDecChange multiplies every range/lockpoint across masterLabel's
// cavity by scale (new_dec/old_dec) and ships set_dec plus the rescaled
// settings to every affected node, per §4.6's rescale-on-dec-change rule.
func (c *Controller) RescaleOnDecChange(ctx context.Context, masterLabel string, newDec int, scale float64, durationMS float64) error {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(maxFanOut)

	for _, label := range c.FindSlaveRPs(masterLabel) {
		label := label
		eg.Go(func() error {
			ns, err := c.Store.Load(label)
			if err != nil {
				return err
			}
			ns.Rescale(scale)
			if ns.Master != nil {
				ns.Master.Dec = newDec
			}
			if err := c.SaveSettings(egCtx, label, ns, durationMS); err != nil {
				return err
			}
			h := c.Node(label)
			_, err = h.Request(egCtx, "set_dec", newDec)
			return err
		})
	}
	return eg.Wait()
}

// StartScan tells masterLabel's node to start_lock, which on a
// scanning node drives the ramp and its own master PID loop.
func (c *Controller) StartScan(ctx context.Context, masterLabel string) error {
	h := c.Node(masterLabel)
	if h == nil {
		return fmt.Errorf("host: no such node %q", masterLabel)
	}
	_, err := h.OpenLoop(ctx, "start_lock", nil)
	return err
}

// StartLock tells every locking node (and the master) in masterLabel's
// cavity to start_lock, fanning out within maxFanOut concurrent dials.
// Monitor nodes are excluded: they run the separate bare-acquisition
// loop started by StartMonitor, not a PID lock.
func (c *Controller) StartLock(ctx context.Context, masterLabel string) error {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(maxFanOut)
	for _, label := range c.FindSlaveRPs(masterLabel) {
		if n := c.nodes[label]; n == nil || n.Role == "monitor" {
			continue
		}
		label := label
		eg.Go(func() error {
			h := c.Node(label)
			if h == nil {
				return fmt.Errorf("host: no such node %q", label)
			}
			_, err := h.OpenLoop(egCtx, "start_lock", nil)
			return err
		})
	}
	return eg.Wait()
}

// StartMonitor tells masterLabel's configured monitor node to begin
// its bare-acquisition loop (the monitor action), so a CavityMonitor or
// ErrorMonitor has fresh traces/errors to poll.
func (c *Controller) StartMonitor(ctx context.Context, masterLabel string) error {
	label := c.FindMonitorRP(masterLabel)
	if label == "" {
		return fmt.Errorf("host: no monitor configured for %q", masterLabel)
	}
	h := c.Node(label)
	if h == nil {
		return fmt.Errorf("host: no such node %q", label)
	}
	_, err := h.OpenLoop(ctx, "monitor", nil)
	return err
}

// StopLoop sends stop over h's open loop connection.
func (c *Controller) StopLoop(h *NodeHandle) error {
	return h.CloseLoop()
}

// Acquire requests one two-channel trace from label.
func (c *Controller) Acquire(ctx context.Context, label string) (any, error) {
	h := c.Node(label)
	if h == nil {
		return nil, fmt.Errorf("host: no such node %q", label)
	}
	return h.Request(ctx, "acquire", nil)
}

// acquireChunk is the wire protocol's hard cap on a single
// acquire_ch_n batch.
const acquireChunk = 100

// AcquireChN fetches n traces on ch from label, automatically chunking
// into acquireChunk-sized batches per §4.6.
func (c *Controller) AcquireChN(ctx context.Context, label string, ch, n int) ([][]float64, error) {
	h := c.Node(label)
	if h == nil {
		return nil, fmt.Errorf("host: no such node %q", label)
	}
	var out [][]float64
	for remaining := n; remaining > 0; {
		batch := remaining
		if batch > acquireChunk {
			batch = acquireChunk
		}
		v, err := h.Request(ctx, "acquire_ch_n", fmt.Sprintf("%d|%d", ch, batch))
		if err != nil {
			return nil, err
		}
		raw, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("host: malformed acquire_ch_n result from %s", label)
		}
		for _, tr := range raw {
			samples, err := decodeFloatSlice(tr)
			if err != nil {
				return nil, fmt.Errorf("host: acquire_ch_n trace from %s: %w", label, err)
			}
			out = append(out, samples)
		}
		remaining -= batch
	}
	return out, nil
}

// ShowCurrent reports label's persisted settings, for an operator
// console to display without touching the node itself.
func (c *Controller) ShowCurrent(label string) (settings.NodeSettings, error) {
	return c.Store.Load(label)
}

// Close shuts down every node in masterLabel's cavity in the order
// §4.6/§5 require: any monitor first, then slaves, then the master
// last (since slaves are triggered by the master's ramp).
func (c *Controller) Close(ctx context.Context, masterLabel string) error {
	if monLabel := c.FindMonitorRP(masterLabel); monLabel != "" {
		if h := c.Node(monLabel); h != nil {
			if err := h.CloseLoop(); err != nil {
				return fmt.Errorf("host: stop monitor %q: %w", monLabel, err)
			}
		}
	}

	slaves := c.FindSlaveRPs(masterLabel) // master is last in this list already
	for _, label := range slaves {
		h := c.Node(label)
		if h == nil {
			continue
		}
		if err := h.CloseLoop(); err != nil {
			return fmt.Errorf("host: stop %q: %w", label, err)
		}
	}
	return nil
}
