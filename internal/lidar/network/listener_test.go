package network

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scan2cloud/internal/lidar/scan"
	"github.com/banshee-data/scan2cloud/internal/lidar/tf"
	"github.com/banshee-data/scan2cloud/internal/lidar/wire"
	"github.com/banshee-data/scan2cloud/internal/testutil"
	"github.com/banshee-data/scan2cloud/internal/timeutil"
)

// recordingSubmitter keeps every submitted scan.
type recordingSubmitter struct {
	mu    sync.Mutex
	scans []*scan.RangeScan
}

func (r *recordingSubmitter) Submit(s *scan.RangeScan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scans = append(r.scans, s)
}

func (r *recordingSubmitter) seqs() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint32, len(r.scans))
	for i, s := range r.scans {
		out[i] = s.Seq
	}
	return out
}

func encodedScan(seq uint32) []byte {
	s := testutil.SemicircleScan(testutil.T0, 2)
	s.Seq = seq
	return wire.MarshalScan(nil, s)
}

// startListener runs l until the returned stop function is called, which
// reports Start's result.
func startListener(t *testing.T, l *UDPListener) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Start(ctx) }()
	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("listener did not stop")
			return nil
		}
	}
}

func TestNewUDPListenerDefaults(t *testing.T) {
	l := NewUDPListener(UDPListenerConfig{Address: ":7400"})
	assert.Equal(t, "udp", l.name)
	assert.Equal(t, time.Minute, l.logInterval)
	assert.IsType(t, noopStats{}, l.stats)
	assert.IsType(t, RealUDPSocketFactory{}, l.socketFactory)
}

func TestListenerDecodesScans(t *testing.T) {
	testutil.CaptureLogs(t)
	socket := NewMockUDPSocket([]byte{0xff}, encodedScan(1), encodedScan(2))
	sub := &recordingSubmitter{}
	stats := NewPacketStats("scans", timeutil.NewMockClock(testutil.T0))

	l := NewUDPListener(UDPListenerConfig{
		Name:          "scans",
		Address:       "127.0.0.1:7400",
		RcvBuf:        1 << 20,
		Stats:         stats,
		Handler:       ScanHandler{Submitter: sub},
		SocketFactory: &MockUDPSocketFactory{Socket: socket},
	})
	stop := startListener(t, l)

	require.Eventually(t, func() bool { return len(sub.seqs()) == 2 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, stop(), context.Canceled)

	assert.Equal(t, []uint32{1, 2}, sub.seqs())
	assert.True(t, socket.Closed())
	assert.Equal(t, 1<<20, socket.ReadBufferSize())

	counts := stats.GetAndReset()
	assert.Equal(t, int64(3), counts.Packets)
	assert.Equal(t, int64(1), counts.DecodeErrors)
}

func TestListenerSurvivesReadErrors(t *testing.T) {
	logs := testutil.CaptureLogs(t)
	socket := NewMockUDPSocket(encodedScan(5))
	socket.FailNextRead(errors.New("connection refused"))
	sub := &recordingSubmitter{}

	l := NewUDPListener(UDPListenerConfig{
		Address:       "127.0.0.1:7400",
		Handler:       ScanHandler{Submitter: sub},
		SocketFactory: &MockUDPSocketFactory{Socket: socket},
	})
	stop := startListener(t, l)

	require.Eventually(t, func() bool { return len(sub.seqs()) == 1 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, stop(), context.Canceled)
	assert.True(t, logs.Contains("read error: connection refused"))
}

func TestListenerFactoryError(t *testing.T) {
	l := NewUDPListener(UDPListenerConfig{
		Address:       "127.0.0.1:7400",
		SocketFactory: &MockUDPSocketFactory{Error: errors.New("address in use")},
	})
	err := l.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address in use")
}

func TestListenerBadAddress(t *testing.T) {
	l := NewUDPListener(UDPListenerConfig{Address: "not an address"})
	assert.Error(t, l.Start(context.Background()))
}

// connFactory hands out a socket the test opened itself so it knows the
// port.
type connFactory struct{ conn *net.UDPConn }

func (f connFactory) ListenUDP(string, *net.UDPAddr) (UDPSocket, error) { return f.conn, nil }

func TestListenerTransformsOverLoopback(t *testing.T) {
	testutil.CaptureLogs(t)
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	buf := tf.NewBuffer(0, nil)
	l := NewUDPListener(UDPListenerConfig{
		Name:          "transforms",
		Address:       conn.LocalAddr().String(),
		Handler:       TransformHandler{Store: buf},
		SocketFactory: connFactory{conn},
	})
	stop := startListener(t, l)
	defer stop()

	sender, err := net.DialUDP("udp", nil, conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer sender.Close()

	batch := wire.MarshalTransformBatch(nil, []wire.TransformRecord{
		{StampedTransform: tf.StampedTransform{Parent: "odom", Child: "BODY", Stamp: testutil.T0, Transform: tf.Identity()}},
		{StampedTransform: tf.StampedTransform{Parent: "BODY", Child: "laser", Transform: tf.FromRPY(0.2, 0, 0.1, 0, 0, 0)}, Static: true},
	})
	_, err = sender.Write(batch)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(buf.Frames()) == 3 }, 2*time.Second, 5*time.Millisecond)
	got, err := buf.Lookup("laser", "BODY", testutil.T0)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, got.Translation.X, 1e-12)
}

func TestTransformHandlerKeepsGoodRecords(t *testing.T) {
	buf := tf.NewBuffer(0, nil)
	batch := wire.MarshalTransformBatch(nil, []wire.TransformRecord{
		{StampedTransform: tf.StampedTransform{Parent: "BODY", Child: "BODY", Stamp: testutil.T0, Transform: tf.Identity()}},
		{StampedTransform: tf.StampedTransform{Parent: "BODY", Child: "laser", Transform: tf.Identity()}, Static: true},
	})

	err := TransformHandler{Store: buf}.HandlePayload(batch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "own parent")
	assert.False(t, isDecodeError(err))

	_, err = buf.Lookup("laser", "BODY", testutil.T0)
	assert.NoError(t, err)
}

func TestScanHandlerRejectsGarbage(t *testing.T) {
	sub := &recordingSubmitter{}
	err := ScanHandler{Submitter: sub}.HandlePayload([]byte{0x0a, 0x40})
	assert.ErrorIs(t, err, ErrDecode)
	assert.ErrorIs(t, err, wire.ErrTruncated)
	assert.Empty(t, sub.seqs())
}
