package settings

import "github.com/langengroup/stcl/trace"

// WireLaser is the index-converted form of Laser: its millisecond Range
// becomes sample indices at the cavity's current dec. The host sends
// update_settings with millisecond ranges; the node converts them with
// ToWire on receipt. Lockpoint stays in ms, since the node's own time
// axis is expressed in ms.
type WireLaser struct {
	RangeIdx  [2]int     `json:"range"`
	Lockpoint float64    `json:"lockpoint"`
	Enabled   bool       `json:"enabled"`
	PID       PID        `json:"PID"`
	PeakFinder PeakFinder `json:"peak_finder"`
}

// WireMaster is the over-the-wire form of Master.
type WireMaster struct {
	RangeIdx   [2][2]int  `json:"range"`
	Lockpoint  float64    `json:"lockpoint"`
	Enabled    bool       `json:"enabled"`
	PID        PID        `json:"PID"`
	PeakFinder PeakFinder `json:"peak_finder"`
	Dec        int        `json:"dec"`
}

// WireSettings is the over-the-wire form of NodeSettings. A locking
// node's WireSettings.Master always holds the resolved configuration of
// its cavity's scanning node (the host copies it in before sending),
// not just a label reference.
type WireSettings struct {
	Master *WireMaster `json:"Master,omitempty"`
	Slave1 *WireLaser  `json:"Slave1,omitempty"`
	Slave2 *WireLaser  `json:"Slave2,omitempty"`

	AsymmetricFSRNormalization bool    `json:"asymmetric_fsr_normalization"`
	OutlierThresholdMS         float64 `json:"outlier_threshold_ms"`
	BorderGuardMS              float64 `json:"border_guard_ms"`
}

// ToWire converts a NodeSettings (ms ranges) to the index-converted
// form the node's lock engine runs on; the node calls it when it
// handles update_settings. s.Master must be populated (for a locking
// node's settings, the host resolves MasterLabel to the actual master's
// Master config before sending).
func (s NodeSettings) ToWire() WireSettings {
	dec := s.Master.Dec
	w := WireSettings{
		AsymmetricFSRNormalization: s.AsymmetricFSRNormalization,
		OutlierThresholdMS:         s.OutlierThresholdMS,
		BorderGuardMS:              s.BorderGuardMS,
	}
	w.Master = &WireMaster{
		RangeIdx: [2][2]int{
			{trace.MSToIndex(s.Master.Range[0][0], dec), trace.MSToIndex(s.Master.Range[0][1], dec)},
			{trace.MSToIndex(s.Master.Range[1][0], dec), trace.MSToIndex(s.Master.Range[1][1], dec)},
		},
		Lockpoint:  s.Master.Lockpoint,
		Enabled:    s.Master.Enabled,
		PID:        s.Master.PID,
		PeakFinder: s.Master.PeakFinder,
		Dec:        dec,
	}
	w.Slave1 = laserToWire(s.Slave1, dec)
	w.Slave2 = laserToWire(s.Slave2, dec)
	return w
}

func laserToWire(l *Laser, dec int) *WireLaser {
	if l == nil {
		return nil
	}
	return &WireLaser{
		RangeIdx:   [2]int{trace.MSToIndex(l.Range[0], dec), trace.MSToIndex(l.Range[1], dec)},
		Lockpoint:  l.Lockpoint,
		Enabled:    l.Enabled,
		PID:        l.PID,
		PeakFinder: l.PeakFinder,
	}
}
