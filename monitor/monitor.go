// Package monitor implements the two subscriber kinds that observe a
// node's lock without driving it: the cavity monitor (live trace plus
// range/lockpoint annotations) and the error monitor (polled lock
// error, logged to disk). Each runs as its own goroutine, reachable
// over a bounded command queue plus a shared running flag — the Go
// realization of the original's one-process-per-monitor isolation.
package monitor

import (
	"context"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"code.hybscloud.com/lfq"

	"github.com/langengroup/stcl/settings"
)

// NodeClient is the subset of a host connection a monitor needs: it
// never writes settings or outputs, only reads traces/errors.
type NodeClient interface {
	AcquireCh(ctx context.Context, ch int) (samples []float64, durationMS float64, err error)
	AcquireErrs(ctx context.Context) (map[string]float64, skipped bool, err error)
}

// cmdKind names a monitor command tuple's first element.
type cmdKind string

const (
	cmdStop     cmdKind = "stop"
	cmdSettings cmdKind = "settings"
	cmdFilter   cmdKind = "filter" // cavity monitor only
	cmdSave     cmdKind = "save"   // error monitor only
)

// command is the Go realization of the command tuples §4.7 specifies:
// ("stop", _), ("settings", new), ("filter", bool), ("save", path).
type command struct {
	kind     cmdKind
	settings settings.NodeSettings
	filter   bool
	path     string
}

// commandQueueSize bounds the number of pending commands a monitor
// will buffer before a sender sees backpressure.
const commandQueueSize = 16

// Running is the shared boolean flag the main process reads to learn
// a monitor's state without sharing any other mutable data with it.
type Running struct {
	flag atomic.Bool
}

func (r *Running) set(v bool)  { r.flag.Store(v) }
func (r *Running) Get() bool   { return r.flag.Load() }

func newCommandQueue() *lfq.MPSC[command] {
	return lfq.NewMPSC[command](commandQueueSize)
}

// sendCommand enqueues cmd, logging (never blocking) if the bounded
// queue is full — a full command queue means commands are arriving
// faster than the monitor loop can drain them, which should never
// silently drop a stop request.
func sendCommand(label string, q *lfq.MPSC[command], cmd command) {
	if err := q.Enqueue(&cmd); err != nil {
		log.WithField("monitor", label).WithField("cmd", cmd.kind).WithError(err).Warn("command queue full, dropping command")
	}
}

func drainCommands(q *lfq.MPSC[command]) []command {
	var out []command
	for {
		cmd, err := q.Dequeue()
		if err != nil {
			return out
		}
		out = append(out, cmd)
	}
}

// pollTicker paces a monitor loop at interval, matching the original's
// cadence-limited poll rather than a tight spin.
func pollTicker(interval time.Duration) *time.Ticker {
	return time.NewTicker(interval)
}
