// Package testutil provides shared test utilities and fixtures.
//
// This package centralises the scan fixtures and fake transform providers
// used across the conversion packages, plus a few HTTP helpers for the
// admin routes.
package testutil

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/scan2cloud/internal/lidar/scan"
	"github.com/banshee-data/scan2cloud/internal/lidar/tf"
	"github.com/banshee-data/scan2cloud/internal/monitoring"
)

// T0 is a fixed reference instant for fixtures.
var T0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// SemicircleScan returns a 181-ray sweep from -π/2 to π/2 in 1° steps with
// every range set to r, valid bounds [0.1, 10] and 0.1 ms between rays.
func SemicircleScan(start time.Time, r float32) *scan.RangeScan {
	ranges := make([]float32, 181)
	for i := range ranges {
		ranges[i] = r
	}
	return &scan.RangeScan{
		SourceFrame:    "laser",
		StartTime:      start,
		AngleMin:       -math.Pi / 2,
		AngleMax:       math.Pi / 2,
		AngleIncrement: math.Pi / 180,
		TimeIncrement:  0.0001,
		RangeMin:       0.1,
		RangeMax:       10,
		Ranges:         ranges,
	}
}

// FuncProvider is a deterministic tf.Provider driven by a function of time.
// WaitUntilAvailable returns Available/WaitErr without blocking.
type FuncProvider struct {
	Fn        func(at time.Time) (tf.Transform, error)
	Available bool
	WaitErr   error

	mu      sync.Mutex
	lookups []time.Time
	waits   []time.Time
}

var _ tf.Provider = (*FuncProvider)(nil)

// IdentityProvider returns a provider whose transform is always identity.
func IdentityProvider() *FuncProvider {
	return &FuncProvider{
		Fn:        func(time.Time) (tf.Transform, error) { return tf.Identity(), nil },
		Available: true,
	}
}

// Lookup implements tf.Provider.
func (p *FuncProvider) Lookup(source, target string, at time.Time) (tf.Transform, error) {
	p.mu.Lock()
	p.lookups = append(p.lookups, at)
	p.mu.Unlock()
	return p.Fn(at)
}

// WaitUntilAvailable implements tf.Provider.
func (p *FuncProvider) WaitUntilAvailable(ctx context.Context, source, target string, at time.Time, timeout time.Duration) (bool, error) {
	p.mu.Lock()
	p.waits = append(p.waits, at)
	p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return p.Available, p.WaitErr
}

// Lookups returns the instants passed to Lookup, in call order.
func (p *FuncProvider) Lookups() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time(nil), p.lookups...)
}

// Waits returns the instants passed to WaitUntilAvailable, in call order.
func (p *FuncProvider) Waits() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time(nil), p.waits...)
}

// LogRecorder captures lines written through monitoring.Logf.
type LogRecorder struct {
	mu    sync.Mutex
	lines []string
}

// CaptureLogs redirects monitoring.Logf into a LogRecorder for the rest of
// the test.
func CaptureLogs(t *testing.T) *LogRecorder {
	t.Helper()
	rec := &LogRecorder{}
	original := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.lines = append(rec.lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.Logf = original })
	return rec
}

// Lines returns a copy of the captured lines.
func (r *LogRecorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// Contains reports whether any captured line contains substr.
func (r *LogRecorder) Contains(substr string) bool {
	for _, line := range r.Lines() {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}
