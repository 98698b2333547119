// Package projector converts a planar range scan into a 3D point cloud in
// a target frame, resolving the sensor pose separately for every ray so
// platform motion during the sweep is compensated.
package projector

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/scan2cloud/internal/lidar/scan"
	"github.com/banshee-data/scan2cloud/internal/lidar/tf"
)

// ErrProjection is returned when a ray's transform cannot be resolved.
// The underlying provider error is wrapped alongside it.
var ErrProjection = errors.New("projection failed")

// Projector is safe for concurrent use if its provider is.
type Projector struct {
	provider    tf.Provider
	targetFrame string
}

// New creates a Projector emitting clouds in targetFrame.
func New(provider tf.Provider, targetFrame string) *Projector {
	return &Projector{provider: provider, targetFrame: targetFrame}
}

// TargetFrame returns the frame clouds are expressed in.
func (p *Projector) TargetFrame() string {
	return p.targetFrame
}

// Project converts s. Rays with non-finite ranges or ranges outside
// [RangeMin, RangeMax] are skipped; surviving points keep ascending ray
// order. The transform for ray i is looked up at s.RayTime(i); rays that
// share a timestamp share one lookup.
func (p *Projector) Project(s *scan.RangeScan) (*scan.PointCloud, error) {
	if err := scan.Validate(s); err != nil {
		return nil, err
	}

	cloud := &scan.PointCloud{
		TargetFrame:  p.targetFrame,
		Stamp:        s.StartTime,
		Seq:          s.Seq,
		HasIntensity: s.HasIntensities(),
		Points:       make([]scan.Point, 0, s.Len()),
	}

	var (
		current   tf.Transform
		currentAt time.Time
		resolved  bool
	)
	for i, r := range s.Ranges {
		if !s.ValidRange(r) {
			continue
		}

		at := s.RayTime(i)
		if !resolved || !at.Equal(currentAt) {
			t, err := p.provider.Lookup(s.SourceFrame, p.targetFrame, at)
			if err != nil {
				return nil, fmt.Errorf("%w: ray %d of scan seq=%d at %s: %w",
					ErrProjection, i, s.Seq, at.Format(time.RFC3339Nano), err)
			}
			current, currentAt, resolved = t, at, true
		}

		theta := s.RayAngle(i)
		rng := float64(r)
		local := r3.Vec{X: rng * math.Cos(theta), Y: rng * math.Sin(theta)}
		q := current.Apply(local)

		pt := scan.Point{X: q.X, Y: q.Y, Z: q.Z, Index: i}
		if cloud.HasIntensity {
			pt.Intensity = s.Intensities[i]
		}
		cloud.Points = append(cloud.Points, pt)
	}
	return cloud, nil
}
