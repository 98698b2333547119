// Package gate decides, per scan, whether the transform from the sensor
// frame to the target frame is resolvable across the whole scan window
// before conversion is attempted.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/banshee-data/scan2cloud/internal/lidar/scan"
	"github.com/banshee-data/scan2cloud/internal/lidar/tf"
	"github.com/banshee-data/scan2cloud/internal/monitoring"
	"github.com/banshee-data/scan2cloud/internal/timeutil"
)

var (
	// ErrTransformTimeout is reported when the wait deadline elapses before
	// the transform at the end of the scan window became available.
	ErrTransformTimeout = errors.New("transform wait timed out")

	// ErrTransformLookup is reported when the provider signals an
	// irrecoverable lookup failure.
	ErrTransformLookup = errors.New("transform lookup error")
)

// State is the gate's position in the per-scan state machine.
type State int32

const (
	StateIdle State = iota
	StateWaiting
	StateReady
	StateTimedOut
	StateLookupError
	StateBackoff
	StateMalformed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateReady:
		return "ready"
	case StateTimedOut:
		return "timed_out"
	case StateLookupError:
		return "lookup_error"
	case StateBackoff:
		return "backoff"
	case StateMalformed:
		return "malformed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config holds the gate's wait policy.
type Config struct {
	// TargetFrame is the frame every cloud is expressed in.
	TargetFrame string

	// WaitTimeout bounds how long a scan may wait for its transform.
	WaitTimeout time.Duration

	// LookupErrorBackoff is the pause imposed after an irrecoverable
	// lookup failure before the next scan is considered.
	LookupErrorBackoff time.Duration
}

// DefaultConfig returns the defaults of the original deployment.
func DefaultConfig() Config {
	return Config{
		TargetFrame:        "/BODY",
		WaitTimeout:        time.Second,
		LookupErrorBackoff: time.Second,
	}
}

// Decision is the gate's verdict for one scan.
type Decision struct {
	Outcome   State
	WindowEnd time.Time
	Err       error
}

// Ready reports whether the scan may proceed to projection.
func (d Decision) Ready() bool {
	return d.Outcome == StateReady
}

// Gate evaluates scans one at a time. It keeps no state between scans
// other than the current State for diagnostics.
type Gate struct {
	cfg      Config
	provider tf.Provider
	clock    timeutil.Clock
	state    atomic.Int32
	logf     func(format string, v ...interface{})
}

// New creates a Gate. A nil clock selects the real clock.
func New(cfg Config, provider tf.Provider, clock timeutil.Clock) *Gate {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Gate{
		cfg:      cfg,
		provider: provider,
		clock:    clock,
		logf:     monitoring.Prefixed("Gate"),
	}
}

// TargetFrame returns the configured target frame.
func (g *Gate) TargetFrame() string {
	return g.cfg.TargetFrame
}

// State returns the state of the scan currently (or last) evaluated.
func (g *Gate) State() State {
	return State(g.state.Load())
}

func (g *Gate) set(s State) {
	g.state.Store(int32(s))
}

// Evaluate runs one scan through the state machine. On an irrecoverable
// lookup error it blocks for LookupErrorBackoff before returning; the
// backoff is cut short only by ctx.
func (g *Gate) Evaluate(ctx context.Context, s *scan.RangeScan) Decision {
	g.set(StateIdle)

	if err := scan.Validate(s); err != nil {
		g.set(StateMalformed)
		g.logf("dropping scan: %v", err)
		return Decision{Outcome: StateMalformed, Err: err}
	}

	_, end := scan.Window(s)
	g.set(StateWaiting)
	ok, err := g.provider.WaitUntilAvailable(ctx, s.SourceFrame, g.cfg.TargetFrame, end, g.cfg.WaitTimeout)

	switch {
	case ctx.Err() != nil:
		g.set(StateCancelled)
		return Decision{Outcome: StateCancelled, WindowEnd: end, Err: ctx.Err()}

	case err != nil:
		lookupErr := fmt.Errorf("%w: %w", ErrTransformLookup, err)
		g.logf("dropping scan seq=%d from %q: %v (backing off %s)", s.Seq, s.SourceFrame, err, g.cfg.LookupErrorBackoff)
		g.set(StateBackoff)
		if sleepErr := timeutil.Sleep(ctx, g.clock, g.cfg.LookupErrorBackoff); sleepErr != nil {
			g.set(StateCancelled)
			return Decision{Outcome: StateCancelled, WindowEnd: end, Err: lookupErr}
		}
		g.set(StateLookupError)
		return Decision{Outcome: StateLookupError, WindowEnd: end, Err: lookupErr}

	case !ok:
		timeoutErr := fmt.Errorf("%w: %q->%q at %s after %s", ErrTransformTimeout,
			s.SourceFrame, g.cfg.TargetFrame, end.Format(time.RFC3339Nano), g.cfg.WaitTimeout)
		g.set(StateTimedOut)
		g.logf("dropping scan seq=%d: %v", s.Seq, timeoutErr)
		return Decision{Outcome: StateTimedOut, WindowEnd: end, Err: timeoutErr}
	}

	g.set(StateReady)
	return Decision{Outcome: StateReady, WindowEnd: end}
}
