package network

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/scan2cloud/internal/monitoring"
	"github.com/banshee-data/scan2cloud/internal/timeutil"
)

// ReplayConfig configures ReadPCAPFile.
type ReplayConfig struct {
	// Routes maps UDP destination ports to the handler for their payloads.
	// Datagrams to other ports are skipped.
	Routes map[uint16]PayloadHandler

	// Realtime paces delivery by the capture timestamps.
	Realtime bool

	// SpeedMultiplier scales realtime pacing (2.0 replays twice as fast).
	// Zero means 1.0.
	SpeedMultiplier float64

	Stats PacketStatsInterface
	Clock timeutil.Clock
}

// linkSource is what both pcap and pcapng readers offer.
type linkSource interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// openCapture detects pcap versus pcapng by trying the classic format
// first.
func openCapture(f *os.File) (linkSource, error) {
	r, err := pcapgo.NewReader(bufio.NewReader(f))
	if err == nil {
		return r, nil
	}
	if _, serr := f.Seek(0, io.SeekStart); serr != nil {
		return nil, serr
	}
	ng, ngErr := pcapgo.NewNgReader(bufio.NewReader(f), pcapgo.DefaultNgReaderOptions)
	if ngErr != nil {
		return nil, fmt.Errorf("not a pcap (%v) or pcapng (%v) file", err, ngErr)
	}
	return ng, nil
}

// ReadPCAPFile replays the UDP datagrams of a capture file through the
// configured routes. It returns nil at end of file.
func ReadPCAPFile(ctx context.Context, path string, cfg ReplayConfig) error {
	if cfg.SpeedMultiplier <= 0 {
		cfg.SpeedMultiplier = 1.0
	}
	if cfg.Stats == nil {
		cfg.Stats = noopStats{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	logf := monitoring.Prefixed("PCAP")

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer f.Close()

	src, err := openCapture(f)
	if err != nil {
		return fmt.Errorf("failed to read PCAP file %s: %w", path, err)
	}

	packetSource := gopacket.NewPacketSource(src, src.LinkType())
	packetCount, routed := 0, 0
	startTime := cfg.Clock.Now()
	var lastCapture time.Time

	for {
		var packet gopacket.Packet
		select {
		case <-ctx.Done():
			logf("stopping after %d packets: %v", packetCount, ctx.Err())
			return ctx.Err()
		case packet = <-packetSource.Packets():
		}
		if packet == nil {
			logf("replay complete: %d packets, %d routed in %v", packetCount, routed, cfg.Clock.Since(startTime))
			return nil
		}
		packetCount++

		if cfg.Realtime {
			captured := packet.Metadata().Timestamp
			if !lastCapture.IsZero() {
				delay := time.Duration(float64(captured.Sub(lastCapture)) / cfg.SpeedMultiplier)
				if delay > 0 {
					if err := timeutil.Sleep(ctx, cfg.Clock, delay); err != nil {
						return err
					}
				}
			}
			lastCapture = captured
		}

		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		handler, ok := cfg.Routes[uint16(udp.DstPort)]
		if !ok {
			continue
		}
		routed++

		cfg.Stats.AddPacket(len(udp.Payload))
		if err := handler.HandlePayload(udp.Payload); err != nil {
			if isDecodeError(err) {
				cfg.Stats.AddDecodeError()
			}
			logf("packet %d to port %d: %v", packetCount, udp.DstPort, err)
		}
	}
}
