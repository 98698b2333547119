package dispatch

import (
	"sync"
	"time"
)

// Stats counts what happened to submitted scans. All methods are safe for
// concurrent use.
type Stats struct {
	mu sync.Mutex

	received     int64
	displaced    int64
	converted    int64
	points       int64
	timeouts     int64
	lookupErrors int64
	malformed    int64
	projection   int64

	lastReset time.Time
	interval  StatsSnapshot
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Received          int64 `json:"received"`
	Displaced         int64 `json:"displaced"`
	Converted         int64 `json:"converted"`
	PublishedPoints   int64 `json:"published_points"`
	TransformTimeouts int64 `json:"transform_timeouts"`
	LookupErrors      int64 `json:"lookup_errors"`
	Malformed         int64 `json:"malformed"`
	ProjectionErrors  int64 `json:"projection_errors"`
}

// Dropped is the number of scans that produced no cloud.
func (s StatsSnapshot) Dropped() int64 {
	return s.Displaced + s.TransformTimeouts + s.LookupErrors + s.Malformed + s.ProjectionErrors
}

func newStats(now time.Time) *Stats {
	return &Stats{lastReset: now}
}

func (s *Stats) add(f func(*StatsSnapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(&s.interval)
}

func (s *Stats) addReceived()      { s.add(func(c *StatsSnapshot) { c.Received++ }) }
func (s *Stats) addDisplaced()     { s.add(func(c *StatsSnapshot) { c.Displaced++ }) }
func (s *Stats) addTimeout()       { s.add(func(c *StatsSnapshot) { c.TransformTimeouts++ }) }
func (s *Stats) addLookupError()   { s.add(func(c *StatsSnapshot) { c.LookupErrors++ }) }
func (s *Stats) addMalformed()     { s.add(func(c *StatsSnapshot) { c.Malformed++ }) }
func (s *Stats) addProjectionErr() { s.add(func(c *StatsSnapshot) { c.ProjectionErrors++ }) }

func (s *Stats) addConverted(points int) {
	s.add(func(c *StatsSnapshot) {
		c.Converted++
		c.PublishedPoints += int64(points)
	})
}

// Snapshot returns the lifetime totals.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		Received:          s.received + s.interval.Received,
		Displaced:         s.displaced + s.interval.Displaced,
		Converted:         s.converted + s.interval.Converted,
		PublishedPoints:   s.points + s.interval.PublishedPoints,
		TransformTimeouts: s.timeouts + s.interval.TransformTimeouts,
		LookupErrors:      s.lookupErrors + s.interval.LookupErrors,
		Malformed:         s.malformed + s.interval.Malformed,
		ProjectionErrors:  s.projection + s.interval.ProjectionErrors,
	}
}

// GetAndReset returns the counters accumulated since the previous call
// together with the elapsed interval, folding them into the totals.
func (s *Stats) GetAndReset(now time.Time) (StatsSnapshot, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delta := s.interval
	elapsed := now.Sub(s.lastReset)

	s.received += delta.Received
	s.displaced += delta.Displaced
	s.converted += delta.Converted
	s.points += delta.PublishedPoints
	s.timeouts += delta.TransformTimeouts
	s.lookupErrors += delta.LookupErrors
	s.malformed += delta.Malformed
	s.projection += delta.ProjectionErrors

	s.interval = StatsSnapshot{}
	s.lastReset = now
	return delta, elapsed
}
