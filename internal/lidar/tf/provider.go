package tf

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotAvailable means the requested instant is newer than the data
	// received so far. Waiting may resolve it.
	ErrNotAvailable = errors.New("transform not yet available")

	// ErrLookup marks irrecoverable lookup failures. The specific cause is
	// one of ErrUnknownFrame, ErrDisconnected or ErrExtrapolationPast.
	ErrLookup = errors.New("transform lookup failed")

	ErrUnknownFrame      = errors.New("unknown frame")
	ErrDisconnected      = errors.New("frames are not connected")
	ErrExtrapolationPast = errors.New("instant precedes retained history")
)

// Provider answers transform queries between named frames.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Lookup returns the transform mapping points in source into target at
	// the given instant without blocking. It fails with ErrNotAvailable
	// when the instant has not been covered yet, and with an error wrapping
	// ErrLookup when it never will be.
	Lookup(source, target string, at time.Time) (Transform, error)

	// WaitUntilAvailable blocks until Lookup(source, target, at) would
	// succeed, timeout elapses, or ctx is done. It reports true once the
	// transform is resolvable and false on timeout. Irrecoverable failures
	// are returned as an error wrapping ErrLookup; cancellation returns
	// ctx.Err().
	WaitUntilAvailable(ctx context.Context, source, target string, at time.Time, timeout time.Duration) (bool, error)
}

// IsIrrecoverable reports whether err is a lookup failure that waiting
// will not fix.
func IsIrrecoverable(err error) bool {
	return errors.Is(err, ErrLookup)
}
