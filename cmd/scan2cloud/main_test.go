package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scan2cloud/internal/config"
	"github.com/banshee-data/scan2cloud/internal/lidar/dispatch"
	"github.com/banshee-data/scan2cloud/internal/lidar/network"
	"github.com/banshee-data/scan2cloud/internal/lidar/scan"
	"github.com/banshee-data/scan2cloud/internal/lidar/tf"
	"github.com/banshee-data/scan2cloud/internal/lidar/wire"
	"github.com/banshee-data/scan2cloud/internal/testutil"
	"github.com/banshee-data/scan2cloud/internal/timeutil"
)

func TestPortOf(t *testing.T) {
	tests := []struct {
		addr    string
		want    uint16
		wantErr bool
	}{
		{":7400", 7400, false},
		{"0.0.0.0:7401", 7401, false},
		{"[::1]:9000", 9000, false},
		{"7400", 0, true},
		{":http", 0, true},
		{":70000", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			got, err := portOf(tt.addr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadConfigDefaultsAndEnv(t *testing.T) {
	t.Setenv("SCAN2CLOUD_TARGET_FRAME", "/odom")

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "/odom", cfg.GetTargetFrame())
	assert.Equal(t, ":7400", cfg.GetScanListen())
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "site.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"inbound_buffer_depth": 5}`), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.GetBufferDepth())

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestNewPipeline(t *testing.T) {
	grpcListen := "127.0.0.1:0"
	cfg := config.EmptyConverterConfig()
	cfg.GRPCListen = &grpcListen
	cfg.StaticTransforms = []config.StaticTransform{
		{Parent: "BODY", Child: "laser", Translation: [3]float64{0.4, 0, 0.1}},
	}

	p, err := newPipeline(cfg, timeutil.NewMockClock(timeutil.RealClock{}.Now()))
	require.NoError(t, err)
	assert.Nil(t, p.forwarder)
	require.NotNil(t, p.stream)

	rt := p.adminRoutes()
	assert.NotNil(t, rt.Stream)
	assert.Equal(t, "/BODY", rt.Gate.TargetFrame())

	frames := p.buffer.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, "laser", frames[1].Name)
}

func TestNewPipelineWithoutStream(t *testing.T) {
	p, err := newPipeline(config.EmptyConverterConfig(), nil)
	require.NoError(t, err)
	assert.Nil(t, p.stream)
	assert.Nil(t, p.adminRoutes().Stream)
}

// writeReplay writes an Ethernet/IPv4/UDP capture with one datagram per
// payload, keyed by destination port, and returns its path.
func writeReplay(t *testing.T, datagrams []struct {
	port    uint16
	payload []byte
}) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "site.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for i, d := range datagrams {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
			DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IPv4(10, 0, 0, 1),
			DstIP:    net.IPv4(10, 0, 0, 2),
		}
		udp := &layers.UDP{SrcPort: 40000, DstPort: layers.UDPPort(d.port)}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(d.payload)))

		data := buf.Bytes()
		ci := gopacket.CaptureInfo{
			Timestamp:     testutil.T0.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(data),
			Length:        len(data),
		}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return path
}

func TestReplayCaptureConvertsQueuedScans(t *testing.T) {
	testutil.CaptureLogs(t)

	wait := "200ms"
	cfg := config.EmptyConverterConfig()
	cfg.WaitTimeout = &wait
	p, err := newPipeline(cfg, timeutil.RealClock{})
	require.NoError(t, err)

	clouds := make(chan *scan.PointCloud, 4)
	p.dispatcher.AddSink(dispatch.SinkFunc(func(c *scan.PointCloud) { clouds <- c }))

	batch := wire.MarshalTransformBatch(nil, []wire.TransformRecord{{
		StampedTransform: tf.StampedTransform{Parent: "BODY", Child: "laser", Transform: tf.Identity()},
		Static:           true,
	}})
	path := writeReplay(t, []struct {
		port    uint16
		payload []byte
	}{
		{7401, batch},
		{7400, wire.MarshalScan(nil, testutil.SemicircleScan(testutil.T0, 2))},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.dispatcher.Run(ctx) }()

	routes, err := replayRoutes(cfg,
		network.ScanHandler{Submitter: p.dispatcher},
		network.TransformHandler{Store: p.buffer})
	require.NoError(t, err)

	// The capture ends as soon as the scan is queued; replay must not return
	// before the scan has been converted.
	require.NoError(t, replayCapture(ctx, p, cfg, path, network.ReplayConfig{Routes: routes}))
	cancel()
	<-done

	require.Len(t, clouds, 1)
	cloud := <-clouds
	assert.Equal(t, "/BODY", cloud.TargetFrame)
	assert.Len(t, cloud.Points, 181)
	assert.Equal(t, int64(1), p.dispatcher.Stats().Converted)
	assert.Zero(t, p.dispatcher.Pending())
}

func TestReplayRoutesRejectsBadListen(t *testing.T) {
	bad := "7400"
	cfg := config.EmptyConverterConfig()
	cfg.ScanListen = &bad
	_, err := replayRoutes(cfg, nil, nil)
	assert.ErrorContains(t, err, "scan_listen")
}
