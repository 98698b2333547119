package network

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/banshee-data/scan2cloud/internal/lidar/scan"
	"github.com/banshee-data/scan2cloud/internal/lidar/wire"
	"github.com/banshee-data/scan2cloud/internal/monitoring"
)

// DefaultForwardQueue is the number of encoded clouds the forwarder holds
// while the socket is busy.
const DefaultForwardQueue = 2

// CloudForwarder publishes clouds as single UDP datagrams. It implements
// dispatch.Sink: Publish never blocks, and a cloud that does not fit in a
// datagram or arrives while the queue is full is dropped.
type CloudForwarder struct {
	conn        net.Conn
	channel     chan []byte
	stats       PacketStatsInterface
	logInterval time.Duration
	address     string
	logf        func(format string, v ...interface{})
}

// NewCloudForwarder dials address. A queue of zero selects
// DefaultForwardQueue; a zero logInterval selects one minute.
func NewCloudForwarder(address string, queue int, stats PacketStatsInterface, logInterval time.Duration) (*CloudForwarder, error) {
	conn, err := net.Dial("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection to %s: %w", address, err)
	}
	if queue <= 0 {
		queue = DefaultForwardQueue
	}
	if stats == nil {
		stats = noopStats{}
	}
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	return &CloudForwarder{
		conn:        conn,
		channel:     make(chan []byte, queue),
		stats:       stats,
		logInterval: logInterval,
		address:     address,
		logf:        monitoring.Prefixed("Forwarder"),
	}, nil
}

// Start runs the send loop until ctx is cancelled.
func (f *CloudForwarder) Start(ctx context.Context) {
	go func() {
		sendErrors := 0
		var lastError error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case datagram := <-f.channel:
				if _, err := f.conn.Write(datagram); err != nil {
					sendErrors++
					lastError = err
					f.stats.AddDropped()
					continue
				}
				f.stats.AddPacket(len(datagram))
			case <-ticker.C:
				if sendErrors > 0 {
					f.logf("failed to send %d clouds (latest: %v)", sendErrors, lastError)
					sendErrors = 0
					lastError = nil
				}
				f.stats.LogStats()
			}
		}
	}()

	f.logf("forwarding clouds to %s", f.address)
}

// Publish implements dispatch.Sink.
func (f *CloudForwarder) Publish(cloud *scan.PointCloud) {
	datagram := wire.MarshalCloud(nil, cloud)
	if len(datagram) > MaxDatagramSize {
		f.stats.AddDropped()
		f.logf("dropping cloud seq=%d: %d bytes exceeds datagram limit", cloud.Seq, len(datagram))
		return
	}
	select {
	case f.channel <- datagram:
	default:
		f.stats.AddDropped()
	}
}

// Close closes the UDP connection.
func (f *CloudForwarder) Close() error {
	return f.conn.Close()
}
