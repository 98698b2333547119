package wire

import (
	"fmt"

	"github.com/banshee-data/scan2cloud/internal/lidar/scan"
)

// MarshalScan appends the wire form of s to b.
func MarshalScan(b []byte, s *scan.RangeScan) []byte {
	b = appendString(b, 1, s.SourceFrame)
	b = appendStamp(b, 2, s.StartTime)
	b = appendVarint(b, 3, uint64(s.Seq))
	b = appendDouble(b, 4, s.AngleMin)
	b = appendDouble(b, 5, s.AngleMax)
	b = appendDouble(b, 6, s.AngleIncrement)
	b = appendDouble(b, 7, s.TimeIncrement)
	b = appendDouble(b, 8, s.ScanTime)
	b = appendDouble(b, 9, s.RangeMin)
	b = appendDouble(b, 10, s.RangeMax)
	b = appendPackedFloats(b, 11, s.Ranges)
	b = appendPackedFloats(b, 12, s.Intensities)
	return b
}

// UnmarshalScan decodes a RangeScan. It does not validate the result; the
// gate does that before any transform wait.
func UnmarshalScan(b []byte) (*scan.RangeScan, error) {
	s := &scan.RangeScan{}
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			s.SourceFrame = string(f.bytes)
		case 2:
			s.StartTime = f.stamp()
		case 3:
			s.Seq = uint32(f.u64)
		case 4:
			s.AngleMin = f.double()
		case 5:
			s.AngleMax = f.double()
		case 6:
			s.AngleIncrement = f.double()
		case 7:
			s.TimeIncrement = f.double()
		case 8:
			s.ScanTime = f.double()
		case 9:
			s.RangeMin = f.double()
		case 10:
			s.RangeMax = f.double()
		case 11:
			s.Ranges, err = f.floats(s.Ranges)
		case 12:
			s.Intensities, err = f.floats(s.Intensities)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("decode scan: %w", err)
	}
	return s, nil
}
