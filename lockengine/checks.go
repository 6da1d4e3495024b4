package lockengine

import "github.com/langengroup/stcl/trace"

// heightRatioThreshold is the fraction of a laser's reference peak
// height below which CheckHeight logs a warning.
const heightRatioThreshold = 1.0 / 5.0

// CheckLockpoints reports ErrLockpointsInvalid if any configured
// laser's lockpoint does not fall strictly inside its configured
// range. Unlike CheckHeight/CheckPositions this check is blocking:
// Start refuses to run against invalid lockpoints.
func (e *Engine) CheckLockpoints() error {
	snap := e.snap.Load()
	if snap == nil {
		return ErrNoSettings
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkLockpointsLocked(snap)
}

func (e *Engine) checkLockpointsLocked(snap *Snapshot) error {
	lp := snap.master.lockpoint
	lo := trace.IndexToMS(snap.masterRangeIdx[1][0], snap.dec)
	hi := trace.IndexToMS(snap.masterRangeIdx[1][1], snap.dec)
	if !(lo < lp && lp < hi) {
		return ErrLockpointsInvalid
	}
	for _, name := range slaveNames {
		lc := snap.slaves[name]
		if lc == nil || !lc.enabled {
			continue
		}
		lo := trace.IndexToMS(lc.rangeIdx[0], snap.dec)
		hi := trace.IndexToMS(lc.rangeIdx[1], snap.dec)
		if !(lo < lc.lockpoint && lc.lockpoint < hi) {
			return ErrLockpointsInvalid
		}
	}
	return nil
}

// HeightWarning names a laser whose latest measured peak height fell
// below heightRatioThreshold of its reference height.
type HeightWarning struct {
	Laser  string
	Height float64
	Ref    float64
}

// CheckHeight compares every laser's latest measured height (as
// recorded by the most recent Step) against the reference height
// captured at Start, and returns one HeightWarning per laser whose
// height dropped below heightRatioThreshold of its reference. This is
// advisory only: a low height never skips a step or a PID update, it
// is only reported for logging.
func (e *Engine) CheckHeight() []HeightWarning {
	e.mu.Lock()
	defer e.mu.Unlock()
	var warnings []HeightWarning
	for name, ref := range e.rt.refHeight {
		if ref == 0 {
			continue
		}
		h := e.rt.height[name]
		if h < ref*heightRatioThreshold {
			warnings = append(warnings, HeightWarning{Laser: name, Height: h, Ref: ref})
		}
	}
	return warnings
}

// PositionWarning names a laser whose latest measured peak position
// fell within a snapshot's border guard of its range's edge.
type PositionWarning struct {
	Laser string
	// DistanceMS is the signed distance in ms from the nearer border;
	// a warning is only ever emitted when this is below BorderGuardMS.
	DistanceMS float64
}

// CheckPositions reports, for every laser, how close its latest
// measured position (converted back to ms) came to either edge of its
// configured range, relative to the master's fixed reference position.
// Also advisory only.
func (e *Engine) CheckPositions() []PositionWarning {
	snap := e.snap.Load()
	if snap == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var warnings []PositionWarning
	dec := snap.dec
	guard := snap.borderGuardMS

	// The master's own stored position is absolute ms; only the slave
	// positions are expressed relative to the master's reference peak,
	// so only their borders need the masterPos shift.
	masterLoMS := trace.IndexToMS(snap.masterRangeIdx[1][0], dec)
	masterHiMS := trace.IndexToMS(snap.masterRangeIdx[1][1], dec)
	if d := distanceToBorder(e.rt.position[laserMaster], masterLoMS, masterHiMS); d < guard {
		warnings = append(warnings, PositionWarning{Laser: laserMaster, DistanceMS: d})
	}

	for _, name := range slaveNames {
		lc := snap.slaves[name]
		if lc == nil || !lc.enabled {
			continue
		}
		loMS := indexToMSRelative(lc.rangeIdx[0], dec, e.rt.masterPos)
		hiMS := indexToMSRelative(lc.rangeIdx[1], dec, e.rt.masterPos)
		if d := distanceToBorder(e.rt.position[name], loMS, hiMS); d < guard {
			warnings = append(warnings, PositionWarning{Laser: name, DistanceMS: d})
		}
	}
	return warnings
}

func indexToMSRelative(idx, dec int, masterPos float64) float64 {
	return trace.IndexToMS(idx, dec) - masterPos
}

func distanceToBorder(pos, lo, hi float64) float64 {
	dLo := pos - lo
	dHi := hi - pos
	if dLo < dHi {
		return dLo
	}
	return dHi
}
