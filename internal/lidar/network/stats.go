package network

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/scan2cloud/internal/monitoring"
	"github.com/banshee-data/scan2cloud/internal/timeutil"
)

// PacketStatsInterface provides packet statistics management.
type PacketStatsInterface interface {
	AddPacket(bytes int)
	AddDropped()
	AddDecodeError()
	LogStats()
}

// PacketCounts is one interval's worth of packet statistics.
type PacketCounts struct {
	Packets      int64         `json:"packets"`
	Bytes        int64         `json:"bytes"`
	Dropped      int64         `json:"dropped"`
	DecodeErrors int64         `json:"decode_errors"`
	Duration     time.Duration `json:"duration_ns"`
}

// PacketStats tracks packet statistics with thread-safe operations.
type PacketStats struct {
	mu           sync.Mutex
	label        string
	clock        timeutil.Clock
	packetCount  int64
	byteCount    int64
	droppedCount int64
	decodeErrors int64
	lastReset    time.Time
}

// NewPacketStats creates a PacketStats whose log lines are tagged with
// label. A nil clock selects the real clock.
func NewPacketStats(label string, clock timeutil.Clock) *PacketStats {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &PacketStats{
		label:     label,
		clock:     clock,
		lastReset: clock.Now(),
	}
}

// AddPacket increments packet count and byte count.
func (ps *PacketStats) AddPacket(bytes int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.packetCount++
	ps.byteCount += int64(bytes)
}

// AddDropped increments the dropped count.
func (ps *PacketStats) AddDropped() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.droppedCount++
}

// AddDecodeError increments the count of payloads that failed to decode.
func (ps *PacketStats) AddDecodeError() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.decodeErrors++
}

// GetAndReset returns current stats and resets counters.
func (ps *PacketStats) GetAndReset() PacketCounts {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := ps.clock.Now()
	c := PacketCounts{
		Packets:      ps.packetCount,
		Bytes:        ps.byteCount,
		Dropped:      ps.droppedCount,
		DecodeErrors: ps.decodeErrors,
		Duration:     now.Sub(ps.lastReset),
	}

	ps.packetCount = 0
	ps.byteCount = 0
	ps.droppedCount = 0
	ps.decodeErrors = 0
	ps.lastReset = now
	return c
}

// LogStats logs the rates accumulated since the previous call. Quiet
// intervals produce no output.
func (ps *PacketStats) LogStats() {
	c := ps.GetAndReset()
	if c.Packets == 0 && c.Dropped == 0 {
		return
	}
	secs := c.Duration.Seconds()
	if secs <= 0 {
		secs = 1
	}

	msg := fmt.Sprintf("%s stats (/sec): %.2f KB, %.1f packets (%s total)",
		ps.label, float64(c.Bytes)/secs/1024, float64(c.Packets)/secs, FormatWithCommas(c.Packets))
	if c.DecodeErrors > 0 {
		msg += fmt.Sprintf(", %d undecodable", c.DecodeErrors)
	}
	if c.Dropped > 0 {
		msg += fmt.Sprintf(", %d dropped", c.Dropped)
	}
	monitoring.Logf("%s", msg)
}

// FormatWithCommas formats a number with thousands separators.
func FormatWithCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	sign := ""
	if strings.HasPrefix(str, "-") {
		sign, str = "-", str[1:]
	}
	if len(str) <= 3 {
		return sign + str
	}

	var b strings.Builder
	b.WriteString(sign)
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// noopStats is a PacketStatsInterface that does nothing. It is the default
// when no stats collector is supplied.
type noopStats struct{}

func (noopStats) AddPacket(int)   {}
func (noopStats) AddDropped()     {}
func (noopStats) AddDecodeError() {}
func (noopStats) LogStats()       {}
