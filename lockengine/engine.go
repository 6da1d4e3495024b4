// Package lockengine implements the per-node cavity lock step: trace
// acquisition, peak extraction, FSR normalization, PID advance, and
// output write, driven once per acquisition trigger.
package lockengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/langengroup/stcl/acquisition"
	"github.com/langengroup/stcl/peakfinder"
	"github.com/langengroup/stcl/pid"
	"github.com/langengroup/stcl/settings"
	"github.com/langengroup/stcl/trace"
)

// Output channel indices on a Device. A node's own master peak and its
// two local slave lasers are independent feedback loops.
const (
	ChSlave1 = 0
	ChSlave2 = 1
	ChMaster = 2
)

const (
	laserMaster = "Master"
	laserSlave1 = "Slave1"
	laserSlave2 = "Slave2"
)

var slaveNames = [2]string{laserSlave1, laserSlave2}

var (
	// ErrNoSettings is returned by Step/Start when UpdateSettings has
	// never been called.
	ErrNoSettings = errors.New("lockengine: no settings loaded")
	// ErrNotStarted is returned by Step when Start has not completed.
	ErrNotStarted = errors.New("lockengine: not started")
	// ErrLockpointsInvalid is returned by Start when any configured
	// lockpoint is not strictly inside its range.
	ErrLockpointsInvalid = errors.New("lockengine: lockpoints invalid, refusing to start")
	// ErrSkipped wraps a failed acquisition inside MeasureErrors, the
	// Go realization of acquire_errs's "skipped" sentinel result.
	ErrSkipped = errors.New("lockengine: step skipped")
)

// laserConfig is the resolved, immutable-once-built configuration for
// one laser, derived from a settings.WireSettings snapshot.
type laserConfig struct {
	enabled    bool
	rangeIdx   [2]int // valid for slaves; zero value for master
	lockpoint  float64
	pidCfg     pid.Config
	finder     peakfinder.Finder
	outputCh   int
}

// Snapshot is the immutable, atomically-swapped resolution of one
// settings update. Runtime state (positions, heights, signs, PID
// integrators) lives outside Snapshot and survives a settings swap.
type Snapshot struct {
	raw    settings.WireSettings
	dec    int
	master laserConfig
	// masterRangeIdx holds the master's two sub-interval index windows
	// ([first bump, reference bump]).
	masterRangeIdx [2][2]int
	slaves         map[string]*laserConfig

	asymmetricFSRNormalization bool
	outlierThresholdMS         float64
	borderGuardMS              float64
}

func buildSnapshot(ws settings.WireSettings) (*Snapshot, error) {
	if ws.Master == nil {
		return nil, fmt.Errorf("%w: Master not resolved", ErrNoSettings)
	}
	masterFinder, err := peakfinder.New(ws.Master.PeakFinder.Name, ws.Master.PeakFinder.WindowSize, ws.Master.PeakFinder.Order, ws.Master.PeakFinder.Deriv)
	if err != nil {
		return nil, fmt.Errorf("master peak finder: %w", err)
	}
	snap := &Snapshot{
		raw:            ws,
		dec:            ws.Master.Dec,
		masterRangeIdx: ws.Master.RangeIdx,
		master: laserConfig{
			enabled:   ws.Master.Enabled,
			lockpoint: ws.Master.Lockpoint,
			pidCfg:    pidConfigFromWire(ws.Master.PID),
			finder:    masterFinder,
			outputCh:  ChMaster,
		},
		slaves:                     map[string]*laserConfig{},
		asymmetricFSRNormalization: ws.AsymmetricFSRNormalization,
		outlierThresholdMS:         ws.OutlierThresholdMS,
		borderGuardMS:              ws.BorderGuardMS,
	}
	if snap.outlierThresholdMS == 0 {
		snap.outlierThresholdMS = settings.DefaultOutlierThresholdMS
	}
	if snap.borderGuardMS == 0 {
		snap.borderGuardMS = settings.DefaultBorderGuardMS
	}

	wireLasers := map[string]*settings.WireLaser{laserSlave1: ws.Slave1, laserSlave2: ws.Slave2}
	outputChs := map[string]int{laserSlave1: ChSlave1, laserSlave2: ChSlave2}
	for _, name := range slaveNames {
		wl := wireLasers[name]
		if wl == nil {
			continue
		}
		f, err := peakfinder.New(wl.PeakFinder.Name, wl.PeakFinder.WindowSize, wl.PeakFinder.Order, wl.PeakFinder.Deriv)
		if err != nil {
			return nil, fmt.Errorf("%s peak finder: %w", name, err)
		}
		snap.slaves[name] = &laserConfig{
			enabled:   wl.Enabled,
			rangeIdx:  wl.RangeIdx,
			lockpoint: wl.Lockpoint,
			pidCfg:    pidConfigFromWire(wl.PID),
			finder:    f,
			outputCh:  outputChs[name],
		}
	}
	return snap, nil
}

func pidConfigFromWire(p settings.PID) pid.Config {
	return pid.Config{P: p.P, I: p.I, D: p.D, IVal: p.IVal, Limit: p.Limit}
}

// PidBank holds one controller per configured laser, keyed by "Master",
// "Slave1", "Slave2".
type PidBank map[string]*pid.Controller

// runtime holds the per-laser state that must survive a settings swap:
// last measured position/height, sign, and (via PidBank) the PID
// integrator.
type runtime struct {
	position map[string]float64
	height   map[string]float64
	sign     map[string]float64

	masterPos float64 // fixed at Start, ms
	fsrRef    float64
	refHeight map[string]float64

	started bool
}

func newRuntime() *runtime {
	return &runtime{
		position:  map[string]float64{},
		height:    map[string]float64{},
		sign:      map[string]float64{laserMaster: 1, laserSlave1: 1, laserSlave2: 1},
		refHeight: map[string]float64{},
	}
}

// Engine runs one node's lock step. It is safe to call from a single
// goroutine at a time; callers serializing node actions (as stcl's
// node package does, one consumer goroutine per connection set)
// satisfy this without an external lock, but Engine also guards its
// own state so misuse fails safely rather than racing silently.
type Engine struct {
	device acquisition.Device
	pids   PidBank

	// drivesMaster is true only on the scanning node that owns the
	// cavity's master output; a locking node still measures the master
	// peak (every node's own trace carries it, for FSR normalization)
	// but must never write ChMaster, since the scanning node's own ramp
	// PID already drives it.
	drivesMaster bool

	snap atomic.Pointer[Snapshot]

	mu sync.Mutex
	rt *runtime
}

// New returns an Engine driving device. drivesMaster selects whether
// this node's master PID is allowed to write ChMaster: true for the
// scanning node that owns the cavity, false for a locking node that
// only uses the master peak as a reference. UpdateSettings must be
// called before Step or Start will do anything useful.
func New(device acquisition.Device, drivesMaster bool) *Engine {
	return &Engine{
		device:       device,
		drivesMaster: drivesMaster,
		pids:         PidBank{},
		rt:           newRuntime(),
	}
}

// UpdateSettings resolves ws into a new Snapshot and swaps it in. PID
// gains are retuned live on any existing controller (preserving its
// integrator and the currently-held output) rather than recreated, so
// a settings change never disturbs a lock already in progress.
func (e *Engine) UpdateSettings(ws settings.WireSettings) error {
	snap, err := buildSnapshot(ws)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.applyPIDConfig(laserMaster, snap.master.pidCfg)
	for _, name := range slaveNames {
		lc := snap.slaves[name]
		if lc == nil {
			continue
		}
		e.applyPIDConfig(name, lc.pidCfg)
	}
	e.snap.Store(snap)
	return nil
}

func (e *Engine) applyPIDConfig(name string, cfg pid.Config) {
	if c, ok := e.pids[name]; ok {
		c.SetConfig(cfg)
		return
	}
	e.pids[name] = pid.New(cfg)
}

// Snapshot returns the currently active settings snapshot, or nil if
// none has been loaded yet.
func (e *Engine) Snapshot() *Snapshot {
	return e.snap.Load()
}

// StepResult reports what one Step call measured and whether its
// feedback update was applied.
type StepResult struct {
	Positions map[string]float64
	Heights   map[string]float64
	FSR       float64
	Gated     bool // true if the outlier gate suppressed this step's PID update
}

// Step runs one full acquisition-to-output cycle: acquire, extract
// peaks, compute FSR, gate on outlier jumps, advance every enabled
// laser's PID, and write outputs. It mirrors the original lock
// software's per-trigger update: peak positions and heights are
// committed to runtime state regardless of the gate outcome, but a
// gated step never touches any PID (so I_val cannot wind up from a
// single bad acquisition).
func (e *Engine) Step(ctx context.Context, t float64) (StepResult, error) {
	snap := e.snap.Load()
	if snap == nil {
		return StepResult{}, ErrNoSettings
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.rt.started {
		return StepResult{}, ErrNotStarted
	}
	return e.stepLocked(ctx, snap, t)
}

// stepLocked runs one acquisition cycle with e.mu already held. Start
// and CheckSign call it directly (bypassing Step's started check)
// while bringing the engine up.
func (e *Engine) stepLocked(ctx context.Context, snap *Snapshot, t float64) (StepResult, error) {
	result, err := e.measureLocked(ctx, snap)
	if err != nil || result.Gated {
		return result, err
	}

	if e.drivesMaster {
		masterErr := (result.Positions[laserMaster] - snap.master.lockpoint) / result.FSR
		e.updatePID(laserMaster, snap.master.outputCh, masterErr, t)
	}
	for _, name := range slaveNames {
		lc := snap.slaves[name]
		if lc == nil || !lc.enabled {
			continue
		}
		fsrRef := e.rt.fsrRef
		if fsrRef == 0 {
			fsrRef = result.FSR
		}
		errVal := slaveError(snap.asymmetricFSRNormalization, result.Positions[name], lc.lockpoint, e.rt.masterPos, result.FSR, fsrRef)
		e.updatePID(name, lc.outputCh, errVal, t)
	}
	return result, nil
}

// measureLocked runs the acquire/extract-peaks/outlier-gate portion of
// a step, committing positions and heights to runtime state, but never
// touches a PID. It is shared by stepLocked (which advances the PIDs
// afterward when not gated) and MeasureErrors (which never does).
func (e *Engine) measureLocked(ctx context.Context, snap *Snapshot) (StepResult, error) {
	tr, err := e.device.Acquire(ctx)
	if err != nil {
		return StepResult{}, err
	}

	masterPeaks, err := extractMasterPeaks(tr.Times, tr.Ch0, snap.masterRangeIdx, snap.master.finder)
	if err != nil {
		return StepResult{}, fmt.Errorf("master peaks: %w", err)
	}
	fsr := masterPeaks[1].Position - masterPeaks[0].Position
	if fsr < 0 {
		fsr = -fsr
	}

	positions := map[string]float64{laserMaster: masterPeaks[1].Position}
	heights := map[string]float64{laserMaster: masterPeaks[1].Height}
	gated := e.jumpedPastThreshold(laserMaster, positions[laserMaster], snap.outlierThresholdMS)

	for _, name := range slaveNames {
		lc := snap.slaves[name]
		if lc == nil || !lc.enabled {
			continue
		}
		peak, err := lc.finder(tr.Times, tr.Ch1, peakfinder.Range{Lo: lc.rangeIdx[0], Hi: lc.rangeIdx[1]})
		if err != nil {
			return StepResult{}, fmt.Errorf("%s peak: %w", name, err)
		}
		// Slave positions are reported relative to the master's second
		// (reference) peak, matching the original's coordinate frame.
		pos := peak.Position - masterPeaks[1].Position
		positions[name] = pos
		heights[name] = peak.Height
		if e.jumpedPastThreshold(name, pos, snap.outlierThresholdMS) {
			gated = true
		}
	}

	for k, v := range positions {
		e.rt.position[k] = v
	}
	for k, v := range heights {
		e.rt.height[k] = v
	}

	return StepResult{Positions: positions, Heights: heights, FSR: fsr, Gated: gated}, nil
}

// MeasureErrors runs the measurement portion of a step (acquire,
// extract peaks, outlier gate, commit positions) and returns each
// laser's normalized error without ever advancing a PID. It realizes
// the wire protocol's acquire_errs action, which the error monitor
// polls independently of the feedback loop. ErrSkipped wraps a failed
// acquisition (e.g. a missed trigger) the way the original reports
// "skipped" rather than erroring the connection.
func (e *Engine) MeasureErrors(ctx context.Context) (map[string]float64, error) {
	snap := e.snap.Load()
	if snap == nil {
		return nil, ErrNoSettings
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.rt.started {
		return nil, ErrNotStarted
	}

	res, err := e.measureLocked(ctx, snap)
	if err != nil {
		if errors.Is(err, acquisition.ErrTriggerMissed) {
			return nil, fmt.Errorf("%w: %v", ErrSkipped, err)
		}
		return nil, err
	}
	return e.lastErrors(snap, res), nil
}

// slaveError computes a slave's normalized error. With asymmetric FSR
// normalization, the lockpoint term is scaled by the reference FSR
// captured at Start rather than the current one, so drift in FSR alone
// cannot bias an off-center lockpoint.
func slaveError(asymmetric bool, pos, lockpoint, masterPos, fsr, fsrRef float64) float64 {
	if asymmetric {
		return pos/fsr - (lockpoint-masterPos)/fsrRef
	}
	return (pos - (lockpoint - masterPos)) / fsr
}

func (e *Engine) updatePID(name string, ch int, errVal float64, t float64) {
	c, ok := e.pids[name]
	if !ok {
		return
	}
	// A closed (or unreadable) gate holds the output rather than
	// integrating, the Go realization of check_gpio_ext_trig's hold-off.
	gateOpen, err := e.device.ReadGate(ch)
	c.On = err == nil && gateOpen
	signed := errVal * e.rt.sign[name]
	mv, _ := c.Update(signed, t)
	if err := e.device.SetOffset(ch, mv); err != nil {
		// The device write failing does not unwind the PID state; the
		// next step will retry with the already-advanced integrator.
		_ = err
	}
}

// jumpedPastThreshold reports whether name's newly measured position
// cur is at least thresholdMS away from its last committed position.
// A laser with no prior committed position (the very first measurement
// after Start/Reset) has nothing to jump from and is never gated; that
// first measurement is what seeds the "prior" position for every
// following step.
func (e *Engine) jumpedPastThreshold(name string, cur, thresholdMS float64) bool {
	prev, ok := e.rt.position[name]
	if !ok {
		return false
	}
	d := cur - prev
	if d < 0 {
		d = -d
	}
	return d >= thresholdMS
}

func extractMasterPeaks(x, y []float64, ranges [2][2]int, finder peakfinder.Finder) ([2]peakfinder.Peak, error) {
	var peaks [2]peakfinder.Peak
	for i, r := range ranges {
		p, err := finder(x, y, peakfinder.Range{Lo: r[0], Hi: r[1]})
		if err != nil {
			return peaks, err
		}
		peaks[i] = p
	}
	return peaks, nil
}

// DurationMS returns the currently active scan duration, derived from
// the snapshot's dec. Callers use it to compute a step's timestamp.
func (e *Engine) DurationMS() float64 {
	snap := e.snap.Load()
	if snap == nil {
		return 0
	}
	return trace.DurationMS(snap.dec)
}
