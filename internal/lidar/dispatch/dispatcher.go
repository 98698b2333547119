// Package dispatch feeds scans through the transform wait gate and the
// projector on a single worker and hands the resulting clouds to sinks.
//
// Scans are admitted through a small newest-preferred Inbox: while the
// worker is blocked on a transform wait or a lookup-error backoff, older
// undelivered scans are discarded instead of accumulating a backlog.
package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/banshee-data/scan2cloud/internal/lidar/gate"
	"github.com/banshee-data/scan2cloud/internal/lidar/scan"
	"github.com/banshee-data/scan2cloud/internal/monitoring"
	"github.com/banshee-data/scan2cloud/internal/timeutil"
)

// Gatekeeper decides whether a scan may be converted. *gate.Gate
// implements it.
type Gatekeeper interface {
	Evaluate(ctx context.Context, s *scan.RangeScan) gate.Decision
}

// Converter turns an admitted scan into a cloud. *projector.Projector
// implements it.
type Converter interface {
	Project(s *scan.RangeScan) (*scan.PointCloud, error)
}

// Config holds dispatcher options.
type Config struct {
	// BufferDepth bounds the inbox (default 2).
	BufferDepth int

	// StatsLogInterval controls the periodic stats line; zero disables it.
	StatsLogInterval time.Duration

	// Clock drives the stats interval. Nil selects the real clock.
	Clock timeutil.Clock
}

// Dispatcher owns the inbox and the single conversion worker.
type Dispatcher struct {
	inbox     *Inbox
	gate      Gatekeeper
	converter Converter
	sinks     []Sink
	stats     *Stats
	cfg       Config
	logf      func(format string, v ...interface{})

	// outstanding counts scans queued or being processed.
	outstanding atomic.Int64
}

// New creates a Dispatcher publishing to sinks.
func New(cfg Config, g Gatekeeper, c Converter, sinks ...Sink) *Dispatcher {
	if cfg.BufferDepth <= 0 {
		cfg.BufferDepth = DefaultBufferDepth
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Dispatcher{
		inbox:     NewInbox(cfg.BufferDepth),
		gate:      g,
		converter: c,
		sinks:     sinks,
		stats:     newStats(cfg.Clock.Now()),
		cfg:       cfg,
		logf:      monitoring.Prefixed("Dispatch"),
	}
}

// AddSink registers another sink. It must be called before Run.
func (d *Dispatcher) AddSink(s Sink) {
	d.sinks = append(d.sinks, s)
}

// Submit admits a scan without blocking. If the inbox is full the oldest
// queued scan is discarded.
func (d *Dispatcher) Submit(s *scan.RangeScan) {
	d.stats.addReceived()
	d.outstanding.Add(1)
	if old := d.inbox.Push(s); old != nil {
		d.outstanding.Add(-1)
		d.stats.addDisplaced()
		d.logf("dropping scan seq=%d from %q: displaced by newer scan", old.Seq, old.SourceFrame)
	}
}

// Stats returns lifetime counters.
func (d *Dispatcher) Stats() StatsSnapshot {
	return d.stats.Snapshot()
}

// Pending returns the number of scans waiting for the worker.
func (d *Dispatcher) Pending() int {
	return d.inbox.Len()
}

// Run processes scans until ctx is cancelled. It returns ctx.Err().
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.cfg.StatsLogInterval > 0 {
		go d.logStats(ctx)
	}
	for {
		s, err := d.inbox.Pop(ctx)
		if err != nil {
			return err
		}
		d.process(ctx, s)
		d.outstanding.Add(-1)
	}
}

// idlePollInterval is how often WaitIdle re-checks the worker.
const idlePollInterval = 5 * time.Millisecond

// WaitIdle blocks until every submitted scan has been converted or
// dropped, or ctx ends. Run must be active for the queue to drain.
func (d *Dispatcher) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()
	for d.outstanding.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (d *Dispatcher) process(ctx context.Context, s *scan.RangeScan) {
	decision := d.gate.Evaluate(ctx, s)
	switch decision.Outcome {
	case gate.StateReady:
	case gate.StateTimedOut:
		d.stats.addTimeout()
		return
	case gate.StateLookupError:
		d.stats.addLookupError()
		return
	case gate.StateMalformed:
		d.stats.addMalformed()
		return
	default:
		// Cancelled: shutting down, nothing to count.
		return
	}

	cloud, err := d.converter.Project(s)
	if err != nil {
		if errors.Is(err, scan.ErrMalformedScan) {
			d.stats.addMalformed()
		} else {
			d.stats.addProjectionErr()
		}
		d.logf("dropping scan seq=%d from %q: %v", s.Seq, s.SourceFrame, err)
		return
	}

	d.stats.addConverted(cloud.Len())
	for _, sink := range d.sinks {
		sink.Publish(cloud)
	}
}

func (d *Dispatcher) logStats(ctx context.Context) {
	for {
		if err := timeutil.Sleep(ctx, d.cfg.Clock, d.cfg.StatsLogInterval); err != nil {
			return
		}
		delta, elapsed := d.stats.GetAndReset(d.cfg.Clock.Now())
		if delta.Received == 0 {
			continue
		}
		d.logf("stats over %s: received=%d converted=%d points=%d displaced=%d timeouts=%d lookup_errors=%d malformed=%d projection_errors=%d",
			elapsed.Round(time.Millisecond), delta.Received, delta.Converted, delta.PublishedPoints,
			delta.Displaced, delta.TransformTimeouts, delta.LookupErrors, delta.Malformed, delta.ProjectionErrors)
	}
}
