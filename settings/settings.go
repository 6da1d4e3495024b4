// Package settings defines the per-node configuration schema (laser
// ranges, lockpoints, PID gains, peak finder choice) and the validation
// and rescale rules the host applies before shipping it to a node.
package settings

import (
	"errors"
	"fmt"
	"math"
)

// Default outlier/border thresholds, in ms. Exposed on NodeSettings
// rather than hardcoded, per the host's rescale-aware validation design.
const (
	DefaultOutlierThresholdMS = 20e-3
	DefaultBorderGuardMS      = 5e-3
)

var (
	ErrInvalidRange     = errors.New("settings: range out of order or out of bounds")
	ErrLockpointInvalid = errors.New("settings: lockpoint not inside range")
	ErrInvalidPIDLimit  = errors.New("settings: PID limit out of order or out of bounds")
	ErrInvalidDec       = errors.New("settings: dec must be a power of two in [1,512]")
	ErrUnknownLaser     = errors.New("settings: no such laser on this node")
)

// PID is the persisted PID configuration for one laser.
type PID struct {
	P     float64    `json:"P"`
	I     float64    `json:"I"`
	D     float64    `json:"D"`
	IVal  float64    `json:"I_val"`
	Limit [2]float64 `json:"limit"`
}

// Validate checks the PID limit ordering and magnitude rule from §6:
// lo <= hi and |lo|, |hi| <= 1.
func (p PID) Validate() error {
	lo, hi := p.Limit[0], p.Limit[1]
	if lo > hi {
		return fmt.Errorf("%w: %v not ascending", ErrInvalidPIDLimit, p.Limit)
	}
	if math.Abs(lo) > 1 || math.Abs(hi) > 1 {
		return fmt.Errorf("%w: %v out of bounds", ErrInvalidPIDLimit, p.Limit)
	}
	return nil
}

// PeakFinder selects a peak finding algorithm and its parameters.
type PeakFinder struct {
	Name       string `json:"name"`
	WindowSize int    `json:"window_size,omitempty"`
	Order      int    `json:"order,omitempty"`
	Deriv      int    `json:"deriv,omitempty"`
}

// Laser is the persisted configuration of one slave output.
type Laser struct {
	Range      [2]float64 `json:"range"` // ms
	Lockpoint  float64    `json:"lockpoint"`
	Enabled    bool       `json:"enabled"`
	PID        PID        `json:"PID"`
	PeakFinder PeakFinder `json:"peak_finder"`
}

// Master is the persisted configuration of the master laser/cavity
// reference, held in full only on a scanning node.
type Master struct {
	Range      [2][2]float64 `json:"range"` // two sub-intervals, ms
	Lockpoint  float64       `json:"lockpoint"`
	Enabled    bool          `json:"enabled"`
	PID        PID           `json:"PID"`
	PeakFinder PeakFinder    `json:"peak_finder"`
	Dec        int           `json:"dec"`
}

// NodeSettings is the persisted settings document for one node. On a
// scanning node Master holds the full cavity config; on a locking node
// Master is absent and MasterLabel names the scanning node that drives
// this one's trigger and FSR.
type NodeSettings struct {
	Master      *Master `json:"Master,omitempty"`
	MasterLabel string  `json:"master_label,omitempty"`
	Slave1      *Laser  `json:"Slave1,omitempty"`
	Slave2      *Laser  `json:"Slave2,omitempty"`

	AsymmetricFSRNormalization bool    `json:"asymmetric_fsr_normalization"`
	OutlierThresholdMS         float64 `json:"outlier_threshold_ms"`
	BorderGuardMS              float64 `json:"border_guard_ms"`
}

// IsScanning reports whether this is a scanning node's settings (holds
// the full Master config) rather than a locking node's (which only
// references a master by label).
func (s NodeSettings) IsScanning() bool {
	return s.Master != nil
}

// WithDefaults fills in the Open-Question-resolved defaults for any
// zero-valued threshold fields, matching the original hardcoded
// constants.
func (s NodeSettings) WithDefaults() NodeSettings {
	if s.OutlierThresholdMS == 0 {
		s.OutlierThresholdMS = DefaultOutlierThresholdMS
	}
	if s.BorderGuardMS == 0 {
		s.BorderGuardMS = DefaultBorderGuardMS
	}
	return s
}

// CheckDec reports whether dec is a power of two between 2^0 and 2^9
// inclusive, matching general.py's check_dec.
func CheckDec(dec int) error {
	if dec <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidDec, dec)
	}
	power := math.Log2(float64(dec))
	if power != math.Trunc(power) {
		return fmt.Errorf("%w: %d not a power of two", ErrInvalidDec, dec)
	}
	if power < 0 || power > 9 {
		return fmt.Errorf("%w: %d out of [1,512]", ErrInvalidDec, dec)
	}
	return nil
}

// CheckMasterRange validates that a master's four range bounds, plus
// 0 and the scan duration, are strictly increasing.
func CheckMasterRange(r [2][2]float64, durationMS float64) error {
	vals := []float64{0, r[0][0], r[0][1], r[1][0], r[1][1], durationMS}
	return checkStrictlyIncreasing(vals)
}

// CheckLaserRange validates a slave's single sub-interval the same way.
func CheckLaserRange(r [2]float64, durationMS float64) error {
	vals := []float64{0, r[0], r[1], durationMS}
	return checkStrictlyIncreasing(vals)
}

func checkStrictlyIncreasing(vals []float64) error {
	for i := 1; i < len(vals); i++ {
		if vals[i] <= vals[i-1] {
			return fmt.Errorf("%w: %v not strictly increasing", ErrInvalidRange, vals)
		}
	}
	return nil
}

// CheckMasterLockpoint validates that lp lies strictly inside the
// master's second sub-interval (the reference peak used for locking).
func CheckMasterLockpoint(r [2][2]float64, lp float64) error {
	if !(r[1][0] < lp && lp < r[1][1]) {
		return fmt.Errorf("%w: %v not in (%v,%v)", ErrLockpointInvalid, lp, r[1][0], r[1][1])
	}
	return nil
}

// CheckLaserLockpoint validates that lp lies strictly inside a slave's
// sub-interval.
func CheckLaserLockpoint(r [2]float64, lp float64) error {
	if !(r[0] < lp && lp < r[1]) {
		return fmt.Errorf("%w: %v not in (%v,%v)", ErrLockpointInvalid, lp, r[0], r[1])
	}
	return nil
}

// Validate runs every §6 rule against a complete NodeSettings document
// for the given scan duration (ms, derived from the master's dec).
func (s NodeSettings) Validate(durationMS float64) error {
	if s.Master != nil {
		if err := CheckDec(s.Master.Dec); err != nil {
			return err
		}
		if err := CheckMasterRange(s.Master.Range, durationMS); err != nil {
			return err
		}
		if err := CheckMasterLockpoint(s.Master.Range, s.Master.Lockpoint); err != nil {
			return err
		}
		if err := s.Master.PID.Validate(); err != nil {
			return err
		}
	}
	for name, laser := range map[string]*Laser{"Slave1": s.Slave1, "Slave2": s.Slave2} {
		if laser == nil {
			continue
		}
		if err := CheckLaserRange(laser.Range, durationMS); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if err := CheckLaserLockpoint(laser.Range, laser.Lockpoint); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if err := laser.PID.Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Rescale multiplies every range and lockpoint by c, used when the
// master's dec changes and the scan time axis stretches or compresses
// by the same factor.
func (s *NodeSettings) Rescale(c float64) {
	if s.Master != nil {
		for i := range s.Master.Range {
			s.Master.Range[i][0] *= c
			s.Master.Range[i][1] *= c
		}
		s.Master.Lockpoint *= c
	}
	for _, laser := range []*Laser{s.Slave1, s.Slave2} {
		if laser == nil {
			continue
		}
		laser.Range[0] *= c
		laser.Range[1] *= c
		laser.Lockpoint *= c
	}
}

// LaserNamed returns the PID and peak-finder configuration of the laser
// named "Master", "Slave1" or "Slave2". Master is only available for
// scanning-node settings.
func (s NodeSettings) LaserNamed(name string) (PID, PeakFinder, error) {
	switch name {
	case "Master":
		if s.Master == nil {
			return PID{}, PeakFinder{}, fmt.Errorf("%w: %s", ErrUnknownLaser, name)
		}
		return s.Master.PID, s.Master.PeakFinder, nil
	case "Slave1":
		if s.Slave1 == nil {
			return PID{}, PeakFinder{}, fmt.Errorf("%w: %s", ErrUnknownLaser, name)
		}
		return s.Slave1.PID, s.Slave1.PeakFinder, nil
	case "Slave2":
		if s.Slave2 == nil {
			return PID{}, PeakFinder{}, fmt.Errorf("%w: %s", ErrUnknownLaser, name)
		}
		return s.Slave2.PID, s.Slave2.PeakFinder, nil
	default:
		return PID{}, PeakFinder{}, fmt.Errorf("%w: %s", ErrUnknownLaser, name)
	}
}
