package network

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scan2cloud/internal/testutil"
	"github.com/banshee-data/scan2cloud/internal/timeutil"
)

func TestPacketStatsGetAndReset(t *testing.T) {
	clock := timeutil.NewMockClock(testutil.T0)
	ps := NewPacketStats("scans", clock)

	ps.AddPacket(100)
	ps.AddPacket(50)
	ps.AddDropped()
	ps.AddDecodeError()
	clock.Advance(10 * time.Second)

	got := ps.GetAndReset()
	assert.Equal(t, PacketCounts{Packets: 2, Bytes: 150, Dropped: 1, DecodeErrors: 1, Duration: 10 * time.Second}, got)

	clock.Advance(time.Second)
	assert.Equal(t, PacketCounts{Duration: time.Second}, ps.GetAndReset())
}

func TestPacketStatsLogStats(t *testing.T) {
	logs := testutil.CaptureLogs(t)
	clock := timeutil.NewMockClock(testutil.T0)
	ps := NewPacketStats("scans", clock)

	ps.LogStats()
	assert.Empty(t, logs.Lines(), "quiet interval stays silent")

	for i := 0; i < 20; i++ {
		ps.AddPacket(1024)
	}
	ps.AddDecodeError()
	ps.AddDropped()
	clock.Advance(2 * time.Second)
	ps.LogStats()

	lines := logs.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, "scans stats (/sec): 10.00 KB, 10.0 packets (20 total), 1 undecodable, 1 dropped", lines[0])
}

func TestFormatWithCommas(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-1234, "-1,234"},
		{-999, "-999"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatWithCommas(tt.in), "FormatWithCommas(%d)", tt.in)
	}
}
