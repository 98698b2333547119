package wire

import (
	"fmt"

	"github.com/banshee-data/scan2cloud/internal/lidar/scan"
)

// MarshalCloud appends the columnar wire form of c to b.
func MarshalCloud(b []byte, c *scan.PointCloud) []byte {
	n := c.Len()
	xs := make([]float64, n)
	ys := make([]float64, n)
	zs := make([]float64, n)
	idx := make([]uint64, n)
	var intensity []float32
	if c.HasIntensity {
		intensity = make([]float32, n)
	}
	for i, p := range c.Points {
		xs[i], ys[i], zs[i] = p.X, p.Y, p.Z
		idx[i] = uint64(p.Index)
		if intensity != nil {
			intensity[i] = p.Intensity
		}
	}

	b = appendString(b, 1, c.TargetFrame)
	b = appendStamp(b, 2, c.Stamp)
	b = appendVarint(b, 3, uint64(c.Seq))
	if c.HasIntensity {
		b = appendVarint(b, 4, 1)
	}
	b = appendPackedDoubles(b, 5, xs)
	b = appendPackedDoubles(b, 6, ys)
	b = appendPackedDoubles(b, 7, zs)
	b = appendPackedFloats(b, 8, intensity)
	b = appendPackedVarints(b, 9, idx)
	return b
}

// UnmarshalCloud decodes a cloud. Every column present must have one entry
// per point.
func UnmarshalCloud(b []byte) (*scan.PointCloud, error) {
	c := &scan.PointCloud{}
	var (
		xs, ys, zs []float64
		intensity  []float32
		idx        []uint64
	)
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			c.TargetFrame = string(f.bytes)
		case 2:
			c.Stamp = f.stamp()
		case 3:
			c.Seq = uint32(f.u64)
		case 4:
			c.HasIntensity = f.u64 != 0
		case 5:
			xs, err = f.doubles(xs)
		case 6:
			ys, err = f.doubles(ys)
		case 7:
			zs, err = f.doubles(zs)
		case 8:
			intensity, err = f.floats(intensity)
		case 9:
			idx, err = f.varints(idx)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("decode cloud: %w", err)
	}

	n := len(xs)
	if len(ys) != n || len(zs) != n || len(idx) != n {
		return nil, fmt.Errorf("decode cloud: column lengths differ (x=%d y=%d z=%d index=%d)", n, len(ys), len(zs), len(idx))
	}
	if c.HasIntensity && len(intensity) != n {
		return nil, fmt.Errorf("decode cloud: %d intensities for %d points", len(intensity), n)
	}
	if n > 0 {
		c.Points = make([]scan.Point, n)
	}
	for i := range c.Points {
		p := scan.Point{X: xs[i], Y: ys[i], Z: zs[i], Index: int(idx[i])}
		if c.HasIntensity {
			p.Intensity = intensity[i]
		}
		c.Points[i] = p
	}
	return c, nil
}
