package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scan2cloud/internal/lidar/scan"
	"github.com/banshee-data/scan2cloud/internal/testutil"
)

func TestFanoutDeliversToEverySubscriber(t *testing.T) {
	f := NewFanout()
	idA, a := f.Subscribe(2)
	idB, b := f.Subscribe(2)
	assert.NotEqual(t, idA, idB)
	assert.Equal(t, 2, f.Len())

	cloud := &scan.PointCloud{TargetFrame: "BODY", Seq: 9}
	f.Publish(cloud)

	assert.Same(t, cloud, <-a)
	assert.Same(t, cloud, <-b)
	assert.Zero(t, f.Dropped())
}

func TestFanoutFullSubscriberMissesCloud(t *testing.T) {
	f := NewFanout()
	_, slow := f.Subscribe(0) // clamped to 1
	_, fast := f.Subscribe(4)

	first := &scan.PointCloud{Seq: 1}
	second := &scan.PointCloud{Seq: 2}
	f.Publish(first)
	f.Publish(second)

	assert.Equal(t, uint64(1), f.Dropped())
	assert.Same(t, first, <-slow)
	assert.Same(t, first, <-fast)
	assert.Same(t, second, <-fast)
}

func TestFanoutUnsubscribeClosesChannel(t *testing.T) {
	f := NewFanout()
	id, ch := f.Subscribe(1)
	f.Unsubscribe(id)
	f.Unsubscribe(id)

	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, f.Len())

	// Publishing with no subscribers is a no-op.
	f.Publish(&scan.PointCloud{})
	assert.Zero(t, f.Dropped())
}

func TestSinkFunc(t *testing.T) {
	var got *scan.PointCloud
	var s Sink = SinkFunc(func(c *scan.PointCloud) { got = c })
	cloud := &scan.PointCloud{Seq: 3}
	s.Publish(cloud)
	assert.Same(t, cloud, got)
}

func TestStatsGetAndReset(t *testing.T) {
	s := newStats(testutil.T0)
	s.addReceived()
	s.addReceived()
	s.addReceived()
	s.addDisplaced()
	s.addTimeout()
	s.addConverted(120)

	delta, elapsed := s.GetAndReset(testutil.T0.Add(30 * time.Second))
	assert.Equal(t, 30*time.Second, elapsed)
	assert.Equal(t, StatsSnapshot{Received: 3, Displaced: 1, TransformTimeouts: 1, Converted: 1, PublishedPoints: 120}, delta)
	assert.Equal(t, int64(2), delta.Dropped())

	s.addReceived()
	s.addMalformed()
	delta, elapsed = s.GetAndReset(testutil.T0.Add(40 * time.Second))
	assert.Equal(t, 10*time.Second, elapsed)
	assert.Equal(t, StatsSnapshot{Received: 1, Malformed: 1}, delta)

	total := s.Snapshot()
	require.Equal(t, int64(4), total.Received)
	assert.Equal(t, int64(1), total.Malformed)
	assert.Equal(t, int64(120), total.PublishedPoints)
}
