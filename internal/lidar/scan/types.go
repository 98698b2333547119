package scan

import (
	"math"
	"strings"
	"time"
)

// RangeScan is a single sweep of a planar rangefinder.
//
// Ray i was measured at StartTime + i*TimeIncrement along the angle
// AngleMin + i*AngleIncrement (radians, counterclockwise about +Z with zero
// along +X of SourceFrame).
type RangeScan struct {
	SourceFrame string
	StartTime   time.Time
	Seq         uint32

	AngleMin       float64 // radians
	AngleMax       float64 // radians
	AngleIncrement float64 // radians per ray

	TimeIncrement float64 // seconds per ray
	ScanTime      float64 // seconds between sweeps, informational

	RangeMin float64 // meters
	RangeMax float64 // meters

	Ranges      []float32
	Intensities []float32 // empty, or same length as Ranges
}

// Len returns the number of rays in the scan.
func (s *RangeScan) Len() int {
	return len(s.Ranges)
}

// RayTime returns the acquisition time of ray i.
func (s *RangeScan) RayTime(i int) time.Time {
	return s.StartTime.Add(secondsToDuration(float64(i) * s.TimeIncrement))
}

// RayAngle returns the bearing of ray i in radians.
func (s *RangeScan) RayAngle(i int) float64 {
	return s.AngleMin + float64(i)*s.AngleIncrement
}

// HasIntensities reports whether the scan carries an intensity channel.
func (s *RangeScan) HasIntensities() bool {
	return len(s.Intensities) > 0
}

// Point is a single projected return in the cloud's target frame.
type Point struct {
	X, Y, Z   float64
	Intensity float32
	// Index is the ray index the point was projected from.
	Index int
}

// PointCloud is the motion-compensated result of converting one RangeScan.
type PointCloud struct {
	TargetFrame  string
	Stamp        time.Time // StartTime of the source scan
	Seq          uint32
	HasIntensity bool
	Points       []Point
}

// Len returns the number of points in the cloud.
func (c *PointCloud) Len() int {
	return len(c.Points)
}

// NormalizeFrame strips the leading slashes ROS-1 style names carry, so
// "/BODY" and "BODY" refer to the same frame.
func NormalizeFrame(name string) string {
	return strings.TrimLeft(strings.TrimSpace(name), "/")
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
