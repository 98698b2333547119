package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/banshee-data/scan2cloud/internal/monitoring"
)

// MaxDatagramSize is the largest UDP payload over IPv4.
const MaxDatagramSize = 65507

// UDPListener receives datagrams and hands each payload to a
// PayloadHandler on the listener goroutine.
type UDPListener struct {
	name          string
	address       string
	rcvBuf        int
	logInterval   time.Duration
	stats         PacketStatsInterface
	handler       PayloadHandler
	socketFactory UDPSocketFactory
	logf          func(format string, v ...interface{})
}

// UDPListenerConfig contains configuration options for the UDP listener.
type UDPListenerConfig struct {
	// Name tags log lines, e.g. "scans" or "transforms".
	Name          string
	Address       string
	RcvBuf        int
	LogInterval   time.Duration
	Stats         PacketStatsInterface
	Handler       PayloadHandler
	SocketFactory UDPSocketFactory
}

// NewUDPListener creates a new UDP listener with the provided configuration.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	var stats PacketStatsInterface = noopStats{}
	if config.Stats != nil {
		stats = config.Stats
	}
	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}
	factory := config.SocketFactory
	if factory == nil {
		factory = RealUDPSocketFactory{}
	}
	name := config.Name
	if name == "" {
		name = "udp"
	}

	return &UDPListener{
		name:          name,
		address:       config.Address,
		rcvBuf:        config.RcvBuf,
		logInterval:   logInterval,
		stats:         stats,
		handler:       config.Handler,
		socketFactory: factory,
		logf:          monitoring.Prefixed("Listener " + name),
	}
}

// Start listens until ctx is cancelled. It returns ctx.Err() on shutdown
// and an error if the socket cannot be opened.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address %q: %w", l.address, err)
	}
	conn, err := l.socketFactory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address %q: %w", l.address, err)
	}
	defer conn.Close()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			l.logf("warning: failed to set receive buffer to %d bytes: %v", l.rcvBuf, err)
		}
	}
	l.logf("listening on %s", conn.LocalAddr())

	go l.startStatsLogging(ctx)

	buffer := make([]byte, MaxDatagramSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		// The deadline bounds how long a cancelled ctx goes unnoticed.
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			l.logf("read error: %v", err)
			continue
		}
		if err := l.handlePacket(buffer[:n]); err != nil {
			l.logf("error handling packet from %v: %v", from, err)
		}
	}
}

func (l *UDPListener) startStatsLogging(ctx context.Context) {
	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats()
		}
	}
}

func (l *UDPListener) handlePacket(packet []byte) error {
	l.stats.AddPacket(len(packet))
	if l.handler == nil {
		return nil
	}
	err := l.handler.HandlePayload(packet)
	if isDecodeError(err) {
		l.stats.AddDecodeError()
	}
	return err
}
