// Package acquisition defines the hardware boundary the lock engine
// drives: triggered trace capture, decimation control, digital trigger
// gating, and output writing. Hardware bring-up itself is out of scope;
// this package only specifies and simulates the interface.
package acquisition

import (
	"context"
	"errors"

	"github.com/langengroup/stcl/trace"
)

// ErrTriggerMissed is returned by Acquire/AcquireCh when the hardware
// trigger did not arrive before the context deadline, the Go-native
// realization of a skipped step rather than a blocking wait.
var ErrTriggerMissed = errors.New("acquisition: trigger missed")

// Device is the capability a lock engine needs from a signal
// acquisition/generation node: triggered acquisition on one or both
// channels, decimation control, digital gate reads, and DC offset
// writes on its outputs. A node carries up to three feedback outputs:
// its own master peak (when it drives the scanning ramp) and two local
// slave lasers; ch follows lockengine's ChMaster/ChSlave1/ChSlave2.
type Device interface {
	// Acquire returns one triggered trace on both channels.
	Acquire(ctx context.Context) (trace.Trace, error)
	// AcquireCh returns one triggered trace on a single channel, plus
	// the trace's current duration in ms.
	AcquireCh(ctx context.Context, ch int) (samples []float64, durationMS float64, err error)
	// SetDec applies a new decimation; future acquisitions use it.
	SetDec(dec int) error
	// Dec returns the currently configured decimation.
	Dec() int
	// ReadGate reports the digital trigger pin for output ch; false
	// means the corresponding PID should suspend integration.
	ReadGate(ch int) (bool, error)
	// SetOffset writes a DC offset to output ch.
	SetOffset(ch int, volts float64) error
}
