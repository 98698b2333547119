// Package wire encodes scans, transforms and clouds in the protobuf wire
// format so they can travel as single UDP datagrams or gRPC messages.
//
// Message layouts (field numbers):
//
//	RangeScan:       1 source_frame, 2 stamp_unix_nanos (sfixed64), 3 seq,
//	                 4 angle_min, 5 angle_max, 6 angle_increment,
//	                 7 time_increment, 8 scan_time, 9 range_min,
//	                 10 range_max (double), 11 ranges, 12 intensities
//	                 (packed float)
//	Transform:       1 parent, 2 child, 3 stamp_unix_nanos, 4-6 translation,
//	                 7-10 rotation x,y,z,w (double), 11 static (bool)
//	TransformBatch:  1 repeated Transform
//	PointCloud:      1 target_frame, 2 stamp_unix_nanos, 3 seq,
//	                 4 has_intensity, 5 x, 6 y, 7 z (packed double),
//	                 8 intensity (packed float), 9 index (packed varint)
//
// Unknown fields are skipped so producers may add fields.
package wire

import (
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrTruncated is returned when a message ends mid-field.
var ErrTruncated = errors.New("truncated message")

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 && !math.Signbit(v) {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendStamp(b []byte, num protowire.Number, t time.Time) []byte {
	if t.IsZero() {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, uint64(t.UnixNano()))
}

func appendPackedFloats(b []byte, num protowire.Number, vs []float32) []byte {
	if len(vs) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(len(vs)*4))
	for _, v := range vs {
		b = protowire.AppendFixed32(b, math.Float32bits(v))
	}
	return b
}

func appendPackedDoubles(b []byte, num protowire.Number, vs []float64) []byte {
	if len(vs) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(len(vs)*8))
	for _, v := range vs {
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	}
	return b
}

func appendPackedVarints(b []byte, num protowire.Number, vs []uint64) []byte {
	if len(vs) == 0 {
		return b
	}
	size := 0
	for _, v := range vs {
		size += protowire.SizeVarint(v)
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(size))
	for _, v := range vs {
		b = protowire.AppendVarint(b, v)
	}
	return b
}

// field is one decoded tag/value pair. Exactly one of the value fields is
// meaningful, selected by typ.
type field struct {
	num   protowire.Number
	typ   protowire.Type
	u64   uint64
	bytes []byte
}

// walk calls fn for every field of a message.
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrTruncated, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u64, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.u64, n = protowire.ConsumeFixed64(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.u64 = uint64(v)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrTruncated, num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (f field) double() float64 { return math.Float64frombits(f.u64) }

func (f field) stamp() time.Time {
	if f.u64 == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(f.u64)).UTC()
}

// floats decodes a packed float run, or a single unpacked element.
func (f field) floats(dst []float32) ([]float32, error) {
	if f.typ == protowire.Fixed32Type {
		return append(dst, math.Float32frombits(uint32(f.u64))), nil
	}
	if f.typ != protowire.BytesType || len(f.bytes)%4 != 0 {
		return dst, fmt.Errorf("%w: field %d is not packed floats", ErrTruncated, f.num)
	}
	for b := f.bytes; len(b) > 0; b = b[4:] {
		v, _ := protowire.ConsumeFixed32(b)
		dst = append(dst, math.Float32frombits(v))
	}
	return dst, nil
}

// doubles decodes a packed double run, or a single unpacked element.
func (f field) doubles(dst []float64) ([]float64, error) {
	if f.typ == protowire.Fixed64Type {
		return append(dst, f.double()), nil
	}
	if f.typ != protowire.BytesType || len(f.bytes)%8 != 0 {
		return dst, fmt.Errorf("%w: field %d is not packed doubles", ErrTruncated, f.num)
	}
	for b := f.bytes; len(b) > 0; b = b[8:] {
		v, _ := protowire.ConsumeFixed64(b)
		dst = append(dst, math.Float64frombits(v))
	}
	return dst, nil
}

// varints decodes a packed varint run, or a single unpacked element.
func (f field) varints(dst []uint64) ([]uint64, error) {
	if f.typ == protowire.VarintType {
		return append(dst, f.u64), nil
	}
	if f.typ != protowire.BytesType {
		return dst, fmt.Errorf("%w: field %d is not packed varints", ErrTruncated, f.num)
	}
	for b := f.bytes; len(b) > 0; {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return dst, fmt.Errorf("%w: field %d: %v", ErrTruncated, f.num, protowire.ParseError(n))
		}
		dst = append(dst, v)
		b = b[n:]
	}
	return dst, nil
}
