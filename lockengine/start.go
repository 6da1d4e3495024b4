package lockengine

import "context"

const (
	fsrRefAcquisitions = 20
	signCheckIters      = 100
	signCheckDelta      = 5e-3
)

// Start brings the engine up: it refuses to run with invalid
// lockpoints, resets every PID and output to zero, fixes the master
// position for this run, measures a reference FSR and reference peak
// heights over fsrRefAcquisitions cycles, and finally runs a sign
// check. averaged selects how CheckSign's initial error is computed
// (see CheckSign).
func (e *Engine) Start(ctx context.Context, averaged bool) error {
	snap := e.snap.Load()
	if snap == nil {
		return ErrNoSettings
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkLockpointsLocked(snap); err != nil {
		return err
	}

	for name, c := range e.pids {
		c.Reset()
		if name == laserMaster && !e.drivesMaster {
			continue
		}
		if err := e.device.SetOffset(e.outputChForLocked(snap, name), 0); err != nil {
			return err
		}
	}

	e.rt = newRuntime()
	e.rt.masterPos = snap.master.lockpoint
	e.rt.started = true

	var fsrSum float64
	for i := 0; i < fsrRefAcquisitions; i++ {
		res, err := e.stepLocked(ctx, snap, float64(i))
		if err != nil {
			e.rt.started = false
			return err
		}
		fsrSum += res.FSR
	}
	e.rt.fsrRef = fsrSum / fsrRefAcquisitions

	for name, h := range e.rt.height {
		e.rt.refHeight[name] = h
	}

	return e.checkSignLocked(ctx, snap, signCheckIters, averaged)
}

func (e *Engine) outputChForLocked(snap *Snapshot, name string) int {
	if name == laserMaster {
		return snap.master.outputCh
	}
	if lc := snap.slaves[name]; lc != nil {
		return lc.outputCh
	}
	return 0
}

// CheckSign re-derives each slave's feedback sign by running the step
// loop signCheckIters times and comparing how far the laser's error
// moved from its starting value: a sign that is driving the error away
// from zero rather than toward it gets flipped.
//
// When averaged is false (the default), the starting error is the
// value measured on the very first of the signCheckIters steps. When
// true, it is instead the mean error over all of them, which damps
// noise on a single acquisition at the cost of reacting to the
// impulse response.
func (e *Engine) CheckSign(ctx context.Context, averaged bool) error {
	snap := e.snap.Load()
	if snap == nil {
		return ErrNoSettings
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.rt.started {
		return ErrNotStarted
	}
	return e.checkSignLocked(ctx, snap, signCheckIters, averaged)
}

func (e *Engine) checkSignLocked(ctx context.Context, snap *Snapshot, iters int, averaged bool) error {
	initial := map[string]float64{}
	var initialSum map[string]float64
	var final map[string]float64

	if averaged {
		initialSum = map[string]float64{}
	}

	for i := 0; i < iters; i++ {
		res, err := e.stepLocked(ctx, snap, float64(i))
		if err != nil {
			return err
		}
		errs := e.lastErrors(snap, res)
		if i == 0 {
			for k, v := range errs {
				initial[k] = v
			}
		}
		if averaged {
			for k, v := range errs {
				initialSum[k] += v
			}
		}
		final = errs
	}

	if averaged {
		for k := range initial {
			initial[k] = initialSum[k] / float64(iters)
		}
	}

	for _, name := range slaveNames {
		lc := snap.slaves[name]
		if lc == nil || !lc.enabled {
			continue
		}
		if absf(final[name])-absf(initial[name]) >= signCheckDelta {
			e.rt.sign[name] = -e.rt.sign[name]
		}
	}
	return nil
}

// lastErrors recomputes the per-laser normalized error from a step's
// result, the same quantity fed into each PID, for use by CheckSign's
// convergence comparison.
func (e *Engine) lastErrors(snap *Snapshot, res StepResult) map[string]float64 {
	errs := map[string]float64{}
	if res.Gated {
		return errs
	}
	errs[laserMaster] = (res.Positions[laserMaster] - snap.master.lockpoint) / res.FSR
	for _, name := range slaveNames {
		lc := snap.slaves[name]
		if lc == nil || !lc.enabled {
			continue
		}
		fsrRef := e.rt.fsrRef
		if fsrRef == 0 {
			fsrRef = res.FSR
		}
		errs[name] = slaveError(snap.asymmetricFSRNormalization, res.Positions[name], lc.lockpoint, e.rt.masterPos, res.FSR, fsrRef)
	}
	return errs
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
