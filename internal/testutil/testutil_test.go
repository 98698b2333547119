package testutil

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scan2cloud/internal/lidar/scan"
	"github.com/banshee-data/scan2cloud/internal/lidar/tf"
)

func TestAssertStatusCode_Matching(t *testing.T) {
	fakeT := &testing.T{}
	AssertStatusCode(fakeT, http.StatusOK, http.StatusOK)
	if fakeT.Failed() {
		t.Error("expected no failure for matching status codes")
	}
}

func TestSemicircleScan(t *testing.T) {
	t.Parallel()
	s := SemicircleScan(T0, 5)

	require.NoError(t, scan.Validate(s))
	assert.Equal(t, 181, s.Len())
	_, end := scan.Window(s)
	assert.Equal(t, T0.Add(18*time.Millisecond), end)
}

func TestFuncProviderRecordsQueries(t *testing.T) {
	t.Parallel()
	p := IdentityProvider()

	ok, err := p.WaitUntilAvailable(context.Background(), "laser", "BODY", T0, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = p.Lookup("laser", "BODY", T0.Add(time.Millisecond))
	require.NoError(t, err)

	assert.Equal(t, []time.Time{T0}, p.Waits())
	assert.Equal(t, []time.Time{T0.Add(time.Millisecond)}, p.Lookups())
}

func TestFuncProviderHonoursCancellation(t *testing.T) {
	t.Parallel()
	p := &FuncProvider{Fn: func(time.Time) (tf.Transform, error) { return tf.Identity(), nil }, Available: true}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := p.WaitUntilAvailable(ctx, "laser", "BODY", T0, time.Second)
	assert.False(t, ok)
	assert.True(t, errors.Is(err, context.Canceled))
}
