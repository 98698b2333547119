package scan

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMalformedScan is returned for scans whose header or arrays cannot be
// converted. Such scans are dropped without waiting on transforms.
var ErrMalformedScan = errors.New("malformed scan")

// Validate checks the scan header and array shapes. The returned error
// wraps ErrMalformedScan.
func Validate(s *RangeScan) error {
	if s == nil {
		return fmt.Errorf("%w: nil scan", ErrMalformedScan)
	}
	if NormalizeFrame(s.SourceFrame) == "" {
		return fmt.Errorf("%w: empty source frame", ErrMalformedScan)
	}
	if s.StartTime.IsZero() {
		return fmt.Errorf("%w: zero start time", ErrMalformedScan)
	}

	header := []struct {
		name  string
		value float64
	}{
		{"angle_min", s.AngleMin},
		{"angle_max", s.AngleMax},
		{"angle_increment", s.AngleIncrement},
		{"time_increment", s.TimeIncrement},
		{"range_min", s.RangeMin},
		{"range_max", s.RangeMax},
	}
	for _, f := range header {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%w: %s is not finite (%v)", ErrMalformedScan, f.name, f.value)
		}
	}

	if s.TimeIncrement < 0 {
		return fmt.Errorf("%w: negative time_increment %v", ErrMalformedScan, s.TimeIncrement)
	}
	if n := len(s.Ranges); n > 1 {
		// The last ray's offset must fit in a time.Duration.
		span := float64(n-1) * s.TimeIncrement * float64(time.Second)
		if span >= math.MaxInt64 {
			return fmt.Errorf("%w: time_increment %v over %d rays exceeds the representable window", ErrMalformedScan, s.TimeIncrement, n)
		}
		if end := s.RayTime(n - 1); end.Before(s.StartTime) {
			return fmt.Errorf("%w: window end %s precedes start %s", ErrMalformedScan, end, s.StartTime)
		}
	}
	if s.RangeMin > s.RangeMax {
		return fmt.Errorf("%w: range_min %v exceeds range_max %v", ErrMalformedScan, s.RangeMin, s.RangeMax)
	}
	if s.HasIntensities() && len(s.Intensities) != len(s.Ranges) {
		return fmt.Errorf("%w: %d intensities for %d ranges", ErrMalformedScan, len(s.Intensities), len(s.Ranges))
	}
	return nil
}

// ValidRange reports whether r is a usable return for s.
func (s *RangeScan) ValidRange(r float32) bool {
	v := float64(r)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return v >= s.RangeMin && v <= s.RangeMax
}
