package scan

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newScan(n int, timeIncrement float64) *RangeScan {
	ranges := make([]float32, n)
	for i := range ranges {
		ranges[i] = 1
	}
	return &RangeScan{
		SourceFrame:    "laser",
		StartTime:      t0,
		AngleMin:       -math.Pi / 2,
		AngleMax:       math.Pi / 2,
		AngleIncrement: math.Pi / 180,
		TimeIncrement:  timeIncrement,
		RangeMin:       0.1,
		RangeMax:       10,
		Ranges:         ranges,
	}
}

func TestWindow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		n         int
		increment float64
		wantEnd   time.Time
	}{
		{"empty scan collapses", 0, 0.001, t0},
		{"zero increment collapses", 181, 0, t0},
		{"single ray", 1, 0.001, t0},
		{"last ray timestamp", 181, 0.001, t0.Add(180 * time.Millisecond)},
		{"sub-millisecond increment", 1000, 25e-6, t0.Add(999 * 25 * time.Microsecond)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newScan(tt.n, tt.increment)
			start, end := Window(s)
			assert.Equal(t, t0, start)
			assert.Equal(t, tt.wantEnd, end)
			assert.Equal(t, tt.wantEnd.Sub(t0), WindowDuration(s))
		})
	}
}

func TestRayTimeAndAngle(t *testing.T) {
	t.Parallel()
	s := newScan(181, 0.002)

	assert.Equal(t, t0, s.RayTime(0))
	assert.Equal(t, t0.Add(20*time.Millisecond), s.RayTime(10))
	assert.InDelta(t, -math.Pi/2, s.RayAngle(0), 1e-12)
	assert.InDelta(t, 0, s.RayAngle(90), 1e-12)
	assert.InDelta(t, math.Pi/2, s.RayAngle(180), 1e-12)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(s *RangeScan)
	}{
		{"intensity length mismatch", func(s *RangeScan) { s.Intensities = []float32{1, 2} }},
		{"nan angle_min", func(s *RangeScan) { s.AngleMin = math.NaN() }},
		{"inf angle_increment", func(s *RangeScan) { s.AngleIncrement = math.Inf(1) }},
		{"nan time_increment", func(s *RangeScan) { s.TimeIncrement = math.NaN() }},
		{"inf range_max", func(s *RangeScan) { s.RangeMax = math.Inf(1) }},
		{"negative time_increment", func(s *RangeScan) { s.TimeIncrement = -0.001 }},
		{"time_increment overflows window", func(s *RangeScan) { s.TimeIncrement = 1e12 }},
		{"time_increment at duration limit", func(s *RangeScan) { s.TimeIncrement = math.MaxInt64 / 9 / 1e9 * 1.01 }},
		{"inverted range bounds", func(s *RangeScan) { s.RangeMin, s.RangeMax = 5, 1 }},
		{"empty source frame", func(s *RangeScan) { s.SourceFrame = "/" }},
		{"zero start time", func(s *RangeScan) { s.StartTime = time.Time{} }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newScan(10, 0.001)
			tt.mutate(s)
			err := Validate(s)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedScan), "error %v should wrap ErrMalformedScan", err)
		})
	}

	t.Run("nil scan", func(t *testing.T) {
		t.Parallel()
		assert.ErrorIs(t, Validate(nil), ErrMalformedScan)
	})

	t.Run("well formed with intensities", func(t *testing.T) {
		t.Parallel()
		s := newScan(10, 0.001)
		s.Intensities = make([]float32, 10)
		assert.NoError(t, Validate(s))
	})

	t.Run("non-finite ranges are not malformed", func(t *testing.T) {
		t.Parallel()
		s := newScan(3, 0.001)
		s.Ranges[1] = float32(math.Inf(1))
		assert.NoError(t, Validate(s))
	})
}

func TestValidRange(t *testing.T) {
	t.Parallel()
	s := newScan(1, 0)

	assert.True(t, s.ValidRange(0.1))
	assert.True(t, s.ValidRange(10))
	assert.True(t, s.ValidRange(5))
	assert.False(t, s.ValidRange(0.05))
	assert.False(t, s.ValidRange(10.5))
	assert.False(t, s.ValidRange(float32(math.NaN())))
	assert.False(t, s.ValidRange(float32(math.Inf(-1))))
}

func TestNormalizeFrame(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "BODY", NormalizeFrame("/BODY"))
	assert.Equal(t, "BODY", NormalizeFrame("BODY"))
	assert.Equal(t, "base/laser", NormalizeFrame("//base/laser"))
	assert.Equal(t, "", NormalizeFrame(" / "))
}
