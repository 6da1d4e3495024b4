package node

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/langengroup/stcl/lockengine"
	"github.com/langengroup/stcl/peakfinder"
	"github.com/langengroup/stcl/settings"
	"github.com/langengroup/stcl/trace"
)

// DefaultHandlers returns the dispatch table for every wire action in
// §4.2/§6, keyed by action name.
func DefaultHandlers() map[string]Handler {
	return map[string]Handler{
		"echo":             handleEcho,
		"acquire":          handleAcquire,
		"acquire_ch":       handleAcquireCh,
		"acquire_ch_n":     handleAcquireChN,
		"acquire_peaks_ch": handleAcquirePeaksCh,
		"set_dec":          handleSetDec,
		"update_settings":  handleUpdateSettings,
		"set_peakfinder":   handleSetPeakfinder,
		"start_lock":       handleStartLock,
		"monitor":          handleMonitor,
		"stop":             handleStop,
		"acquire_errs":     handleAcquireErrs,
	}
}

func handleEcho(_ context.Context, _ *Server, value any) (any, error) {
	return value, nil
}

func handleAcquire(ctx context.Context, s *Server, _ any) (any, error) {
	tr, err := s.Device.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	s.lastTrace.Store(&tr)
	return []any{tr.Times, tr.Ch0, tr.Ch1}, nil
}

func handleAcquireCh(ctx context.Context, s *Server, value any) (any, error) {
	ch, err := parseCh(value)
	if err != nil {
		return nil, err
	}
	samples, durationMS, err := s.Device.AcquireCh(ctx, ch)
	if err != nil {
		return nil, err
	}
	return []any{durationMS, samples}, nil
}

// maxBatchTraces bounds a single acquire_ch_n call, matching the
// original software's hard cap on one batch's trace count.
const maxBatchTraces = 100

func handleAcquireChN(ctx context.Context, s *Server, value any) (any, error) {
	str, err := valueString(value)
	if err != nil {
		return nil, err
	}
	parts := splitChNValue(str)
	if len(parts) != 2 {
		return nil, fmt.Errorf("node: acquire_ch_n wants \"<ch>|<n>\", got %q", str)
	}
	ch, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, fmt.Errorf("node: bad channel %q: %w", parts[0], err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, fmt.Errorf("node: bad count %q: %w", parts[1], err)
	}
	if n <= 0 || n > maxBatchTraces {
		return nil, fmt.Errorf("node: acquire_ch_n count %d out of [1,%d]", n, maxBatchTraces)
	}

	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		samples, _, err := s.Device.AcquireCh(ctx, ch)
		if err != nil {
			return nil, err
		}
		out[i] = samples
	}
	return out, nil
}

// handleAcquirePeaksCh acquires one trace on ch and runs the maximum
// finder over each requested sub-range, skipping (leaving nil) any
// range that fails rather than aborting the rest.
func handleAcquirePeaksCh(ctx context.Context, s *Server, value any) (any, error) {
	str, err := valueString(value)
	if err != nil {
		return nil, err
	}
	parts := splitValue(str)
	if len(parts) < 2 {
		return nil, fmt.Errorf("node: acquire_peaks_ch wants \"<ch>|<a>,<b>|...\", got %q", str)
	}
	ch, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, fmt.Errorf("node: bad channel %q: %w", parts[0], err)
	}

	samples, _, err := s.Device.AcquireCh(ctx, ch)
	if err != nil {
		return nil, err
	}
	times := trace.TimeAxis(s.Device.Dec())

	finder := peakfinder.Maximum
	results := make([]any, 0, len(parts)-1)
	for _, rangeStr := range parts[1:] {
		bounds := strings.Split(rangeStr, ",")
		if len(bounds) != 2 {
			results = append(results, nil)
			continue
		}
		lo, errLo := strconv.Atoi(strings.TrimSpace(bounds[0]))
		hi, errHi := strconv.Atoi(strings.TrimSpace(bounds[1]))
		if errLo != nil || errHi != nil {
			results = append(results, nil)
			continue
		}
		peak, err := finder(times, samples, peakfinder.Range{Lo: lo, Hi: hi})
		if err != nil {
			results = append(results, nil)
			continue
		}
		results = append(results, peak.Position)
	}
	return results, nil
}

func handleSetDec(_ context.Context, s *Server, value any) (any, error) {
	dec, err := parseInt(value)
	if err != nil {
		return nil, err
	}
	if err := settings.CheckDec(dec); err != nil {
		return nil, err
	}
	if err := s.Device.SetDec(dec); err != nil {
		return nil, err
	}
	return fmt.Sprintf("dec set to %d", dec), nil
}

func handleUpdateSettings(_ context.Context, s *Server, value any) (any, error) {
	ns, err := decodeNodeSettings(value)
	if err != nil {
		return nil, err
	}
	ns = ns.WithDefaults()
	if err := ns.Validate(trace.DurationMS(s.Device.Dec())); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.current = ns
	s.mu.Unlock()

	if err := s.Engine.UpdateSettings(ns.ToWire()); err != nil {
		return nil, err
	}
	return "settings updated", nil
}

// setPeakfinderRequest is the decoded value of a set_peakfinder
// request: it names which laser's finder to replace.
type setPeakfinderRequest struct {
	Laser      string `json:"laser"`
	Name       string `json:"name"`
	WindowSize int    `json:"window_size"`
	Order      int    `json:"order"`
	Deriv      int    `json:"deriv"`
}

func handleSetPeakfinder(_ context.Context, s *Server, value any) (any, error) {
	req, err := decodeSetPeakfinder(value)
	if err != nil {
		return nil, err
	}
	if _, err := peakfinder.New(req.Name, req.WindowSize, req.Order, req.Deriv); err != nil {
		return nil, err
	}

	pf := settings.PeakFinder{Name: req.Name, WindowSize: req.WindowSize, Order: req.Order, Deriv: req.Deriv}

	s.mu.Lock()
	ns := s.current
	switch req.Laser {
	case "Master":
		if ns.Master == nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: Master", settings.ErrUnknownLaser)
		}
		ns.Master.PeakFinder = pf
	case "Slave1":
		if ns.Slave1 == nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: Slave1", settings.ErrUnknownLaser)
		}
		ns.Slave1.PeakFinder = pf
	case "Slave2":
		if ns.Slave2 == nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: Slave2", settings.ErrUnknownLaser)
		}
		ns.Slave2.PeakFinder = pf
	default:
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", settings.ErrUnknownLaser, req.Laser)
	}
	s.current = ns
	s.mu.Unlock()

	if err := s.Engine.UpdateSettings(ns.ToWire()); err != nil {
		return nil, err
	}
	return "peak finder updated", nil
}

func handleStartLock(ctx context.Context, s *Server, _ any) (any, error) {
	if s.Engine.Snapshot() == nil {
		return nil, lockengine.ErrNoSettings
	}
	if err := s.Engine.Start(ctx, false); err != nil {
		return nil, err
	}
	s.loop.Store(&activeLoop{
		kind: "lock",
		step: func(ctx context.Context, t float64) error {
			if _, err := s.Engine.Step(ctx, t); err != nil {
				return err
			}
			logHealthWarnings(s, t)
			return nil
		},
	})
	return "lock started", nil
}

// logHealthWarnings runs CheckHeight/CheckPositions after a successful
// step and logs anything they flag. Both are advisory per spec.md §4.3:
// neither ever causes the step to be skipped or the loop to stop.
func logHealthWarnings(s *Server, t float64) {
	for _, w := range s.Engine.CheckHeight() {
		log.WithField("node", s.Label).WithField("laser", w.Laser).
			WithField("height", w.Height).WithField("ref", w.Ref).
			WithField("t", t).Warn("peak height below reference ratio")
	}
	for _, w := range s.Engine.CheckPositions() {
		log.WithField("node", s.Label).WithField("laser", w.Laser).
			WithField("distance_ms", w.DistanceMS).WithField("t", t).
			Warn("peak position close to range border")
	}
}

// handleMonitor starts the bare-acquisition reaction loop used by the
// cavity monitor: it keeps the node's last trace fresh without driving
// any PID, and a missed trigger just skips one iteration rather than
// stopping the loop.
func handleMonitor(_ context.Context, s *Server, _ any) (any, error) {
	s.loop.Store(&activeLoop{
		kind: "monitor",
		step: func(ctx context.Context, _ float64) error {
			tr, err := s.Device.Acquire(ctx)
			if err != nil {
				return nil // a skipped acquisition does not stop the monitor loop
			}
			s.lastTrace.Store(&tr)
			return nil
		},
	})
	return "monitor started", nil
}

func handleStop(_ context.Context, s *Server, _ any) (any, error) {
	s.loop.Store(nil)
	return "stopped", nil
}

// handleAcquireErrs realizes acquire_errs: a measured error per laser,
// or the "skipped" sentinel (never an error result) when the
// underlying acquisition missed its trigger.
func handleAcquireErrs(ctx context.Context, s *Server, _ any) (any, error) {
	errs, err := s.Engine.MeasureErrors(ctx)
	if err != nil {
		if errors.Is(err, lockengine.ErrSkipped) {
			return "skipped", nil
		}
		return nil, err
	}
	return errs, nil
}
