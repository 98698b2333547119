package network

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/scan2cloud/internal/lidar/scan"
	"github.com/banshee-data/scan2cloud/internal/monitoring"
)

// PortOptions describes the serial connection used by rangefinders that
// stream scans as JSON lines.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", o.Parity)
	}
	return opts, nil
}

// SerialMode converts the options into the mode go.bug.st/serial expects.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}
	return mode, nil
}

// jsonScan is the line format serial rangefinders emit. Ranges that are
// null decode as +Inf and so fall outside any valid range.
type jsonScan struct {
	Frame          string     `json:"frame"`
	StampNanos     int64      `json:"stamp_ns"`
	Seq            uint32     `json:"seq"`
	AngleMin       float64    `json:"angle_min"`
	AngleMax       float64    `json:"angle_max"`
	AngleIncrement float64    `json:"angle_increment"`
	TimeIncrement  float64    `json:"time_increment"`
	ScanTime       float64    `json:"scan_time"`
	RangeMin       float64    `json:"range_min"`
	RangeMax       float64    `json:"range_max"`
	Ranges         []*float32 `json:"ranges"`
	Intensities    []float32  `json:"intensities,omitempty"`
}

// DecodeJSONScan parses one JSON line into a RangeScan.
func DecodeJSONScan(line []byte) (*scan.RangeScan, error) {
	var js jsonScan
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&js); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	s := &scan.RangeScan{
		SourceFrame:    js.Frame,
		Seq:            js.Seq,
		AngleMin:       js.AngleMin,
		AngleMax:       js.AngleMax,
		AngleIncrement: js.AngleIncrement,
		TimeIncrement:  js.TimeIncrement,
		ScanTime:       js.ScanTime,
		RangeMin:       js.RangeMin,
		RangeMax:       js.RangeMax,
		Ranges:         make([]float32, len(js.Ranges)),
		Intensities:    js.Intensities,
	}
	if js.StampNanos != 0 {
		s.StartTime = time.Unix(0, js.StampNanos).UTC()
	}
	for i, r := range js.Ranges {
		if r == nil {
			s.Ranges[i] = float32(math.Inf(1))
			continue
		}
		s.Ranges[i] = *r
	}
	return s, nil
}

// JSONScanHandler decodes JSON-line scans and submits them.
type JSONScanHandler struct {
	Submitter ScanSubmitter
}

// HandlePayload implements PayloadHandler.
func (h JSONScanHandler) HandlePayload(line []byte) error {
	s, err := DecodeJSONScan(line)
	if err != nil {
		return err
	}
	h.Submitter.Submit(s)
	return nil
}

// maxLineBytes bounds one JSON scan line; 4096 rays with intensities fit
// comfortably.
const maxLineBytes = 1 << 20

// ReadLines feeds each non-empty line of r to handler until r is
// exhausted or ctx is cancelled. Handler errors are logged and counted,
// never fatal.
func ReadLines(ctx context.Context, r io.Reader, handler PayloadHandler, stats PacketStatsInterface) error {
	if stats == nil {
		stats = noopStats{}
	}
	logf := monitoring.Prefixed("Serial")

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		stats.AddPacket(len(line))
		if err := handler.HandlePayload(line); err != nil {
			if isDecodeError(err) {
				stats.AddDecodeError()
			}
			logf("line %d: %v", lineNo, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return scanner.Err()
}

// RunSerialSource opens portName and feeds its lines to handler until ctx
// is cancelled or the port fails.
func RunSerialSource(ctx context.Context, portName string, opts PortOptions, handler PayloadHandler, stats PacketStatsInterface) error {
	mode, err := opts.SerialMode()
	if err != nil {
		return fmt.Errorf("serial options for %s: %w", portName, err)
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	stop := context.AfterFunc(ctx, func() { port.Close() })
	defer func() {
		if stop() {
			port.Close()
		}
	}()

	monitoring.Logf("[Serial] reading scans from %s at %d baud", portName, mode.BaudRate)
	err = ReadLines(ctx, port, handler, stats)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		err = errors.New("serial port closed")
	}
	return fmt.Errorf("serial port %s: %w", portName, err)
}
