package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"code.hybscloud.com/lfq"

	"github.com/langengroup/stcl/settings"
)

// ErrorMinInterval is the error monitor's default minimum poll
// interval, t_min in spec.md's §4.7.
const ErrorMinInterval = 10 * time.Millisecond

// ErrorMonitor polls a node's acquire_errs action at a bounded cadence,
// converting each laser's normalized error into MHz (ε · FSR) and
// buffering it for later Save. A skipped acquisition appends NaN
// rather than dropping the sample, so every laser's series stays
// aligned to the same time axis.
type ErrorMonitor struct {
	Label       string
	Client      NodeClient
	MinInterval time.Duration
	FSRHz       float64 // converts a normalized error to MHz for storage

	Running Running

	cmds *lfq.MPSC[command]

	mu     sync.Mutex
	times  []float64
	series map[string][]float64
	t0     time.Time
}

// NewErrorMonitor returns an ErrorMonitor ready for Run. fsrHz scales
// each stored error from a normalized fraction of the FSR into MHz.
func NewErrorMonitor(label string, client NodeClient, fsrHz float64) *ErrorMonitor {
	interval := ErrorMinInterval
	return &ErrorMonitor{
		Label:       label,
		Client:      client,
		MinInterval: interval,
		FSRHz:       fsrHz,
		cmds:        newCommandQueue(),
		series:      map[string][]float64{},
	}
}

// Stop requests the monitor loop to exit on its next poll.
func (m *ErrorMonitor) Stop() {
	sendCommand(m.Label, m.cmds, command{kind: cmdStop})
}

// Save requests the monitor dump its buffered series to path as JSON;
// the write happens synchronously on the monitor's own goroutine to
// avoid racing the buffer against an in-flight poll.
func (m *ErrorMonitor) Save(path string) {
	sendCommand(m.Label, m.cmds, command{kind: cmdSave, path: path})
}

// UpdateSettings is accepted for parity with the cavity monitor's
// command set but an error monitor has no overlay to redraw; it only
// exists so a host can treat both monitor kinds uniformly.
func (m *ErrorMonitor) UpdateSettings(_ settings.NodeSettings) {}

// Run polls acquire_errs at m.MinInterval until Stop is called or ctx
// is cancelled.
func (m *ErrorMonitor) Run(ctx context.Context) {
	m.Running.set(true)
	defer m.Running.set(false)
	m.t0 = time.Now()

	ticker := pollTicker(m.MinInterval)
	defer ticker.Stop()

	for {
		for _, cmd := range drainCommands(m.cmds) {
			switch cmd.kind {
			case cmdStop:
				return
			case cmdSave:
				if err := m.save(cmd.path); err != nil {
					log.WithField("monitor", m.Label).WithError(err).Warn("failed saving error log")
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		errs, skipped, err := m.Client.AcquireErrs(ctx)
		if err != nil {
			log.WithField("monitor", m.Label).WithError(err).Debug("error poll failed")
			continue
		}

		m.mu.Lock()
		m.times = append(m.times, time.Since(m.t0).Seconds()*1e3)
		n := len(m.times)
		if !skipped {
			for laser, eps := range errs {
				vals := m.series[laser]
				for len(vals) < n-1 {
					vals = append(vals, math.NaN())
				}
				m.series[laser] = append(vals, eps*m.FSRHz/1e6)
			}
		}
		for laser, vals := range m.series {
			if len(vals) < n {
				m.series[laser] = append(vals, math.NaN())
			}
		}
		m.mu.Unlock()
	}
}

// save writes the buffered series to path as a JSON object
// {laser -> []float64, times: []float64}, matching the original error
// monitor's save_errors output. NaN samples are written as null.
func (m *ErrorMonitor) save(path string) error {
	m.mu.Lock()
	doc := map[string]any{"times": append([]float64(nil), m.times...)}
	for laser, vals := range m.series {
		out := make([]any, len(vals))
		for i, v := range vals {
			if !math.IsNaN(v) {
				out[i] = v
			}
		}
		doc[laser] = out
	}
	m.mu.Unlock()

	b, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("monitor: encode error log: %w", err)
	}
	return os.WriteFile(path, b, 0o644)
}
