package monitor

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"code.hybscloud.com/lfq"

	"github.com/langengroup/stcl/peakfinder"
	"github.com/langengroup/stcl/settings"
)

// Renderer receives each polled trace plus the range/lockpoint
// annotations the original plotted as shaded regions and vertical
// markers. A real GUI frontend implements this; tests use a recording
// stub.
type Renderer interface {
	Render(samples []float64, durationMS float64, filtered bool)
	// SetOverlay is called whenever the monitor's own copy of the
	// node's settings changes, so the renderer can redraw range
	// shadings and lockpoint markers to match.
	SetOverlay(s settings.NodeSettings)
}

// CavityPollInterval is the cavity monitor's default poll cadence.
const CavityPollInterval = 50 * time.Millisecond

// CavityMonitor repeatedly polls a node's cavity channel (acquire_ch on
// channel 0) and hands the trace to a Renderer, optionally smoothing it
// with a Savitzky-Golay filter first.
type CavityMonitor struct {
	Label    string
	Client   NodeClient
	Renderer Renderer
	Interval time.Duration

	Running Running

	cmds *lfq.MPSC[command]

	mu     sync.Mutex
	filter bool
}

// NewCavityMonitor returns a CavityMonitor ready for Run.
func NewCavityMonitor(label string, client NodeClient, r Renderer) *CavityMonitor {
	interval := CavityPollInterval
	return &CavityMonitor{
		Label:    label,
		Client:   client,
		Renderer: r,
		Interval: interval,
		cmds:     newCommandQueue(),
	}
}

// Stop requests the monitor loop to exit on its next poll.
func (m *CavityMonitor) Stop() {
	sendCommand(m.Label, m.cmds, command{kind: cmdStop})
}

// SetFilter toggles whether polled traces are passed through the
// configured Savitzky-Golay filter before rendering.
func (m *CavityMonitor) SetFilter(on bool) {
	sendCommand(m.Label, m.cmds, command{kind: cmdFilter, filter: on})
}

// UpdateSettings pushes a new settings snapshot for the Renderer's
// range/lockpoint overlays, independent of the node's own settings
// (the host updates those via update_settings separately).
func (m *CavityMonitor) UpdateSettings(s settings.NodeSettings) {
	sendCommand(m.Label, m.cmds, command{kind: cmdSettings, settings: s})
}

// Run polls the cavity channel at m.Interval until Stop is called or
// ctx is cancelled, handing each trace to m.Renderer.
func (m *CavityMonitor) Run(ctx context.Context) {
	m.Running.set(true)
	defer m.Running.set(false)

	ticker := pollTicker(m.Interval)
	defer ticker.Stop()

	for {
		for _, cmd := range drainCommands(m.cmds) {
			switch cmd.kind {
			case cmdStop:
				return
			case cmdFilter:
				m.mu.Lock()
				m.filter = cmd.filter
				m.mu.Unlock()
			case cmdSettings:
				m.Renderer.SetOverlay(cmd.settings)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		samples, durationMS, err := m.Client.AcquireCh(ctx, 0)
		if err != nil {
			log.WithField("monitor", m.Label).WithError(err).Debug("cavity poll skipped")
			continue
		}

		m.mu.Lock()
		filtered := m.filter
		m.mu.Unlock()
		if filtered {
			samples = peakfinder.Smooth(samples)
		}
		m.Renderer.Render(samples, durationMS, filtered)
	}
}
