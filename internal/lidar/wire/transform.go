package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/scan2cloud/internal/lidar/tf"
)

// TransformRecord is one entry of a transform batch. Static records never
// expire and are valid at every time.
type TransformRecord struct {
	tf.StampedTransform
	Static bool
}

func appendTransform(b []byte, r TransformRecord) []byte {
	qx, qy, qz, qw := r.Quaternion()
	b = appendString(b, 1, r.Parent)
	b = appendString(b, 2, r.Child)
	b = appendStamp(b, 3, r.Stamp)
	b = appendDouble(b, 4, r.Translation.X)
	b = appendDouble(b, 5, r.Translation.Y)
	b = appendDouble(b, 6, r.Translation.Z)
	b = appendDouble(b, 7, qx)
	b = appendDouble(b, 8, qy)
	b = appendDouble(b, 9, qz)
	b = appendDouble(b, 10, qw)
	if r.Static {
		b = appendVarint(b, 11, 1)
	}
	return b
}

func decodeTransform(b []byte) (TransformRecord, error) {
	var (
		r      TransformRecord
		v      [7]float64 // tx ty tz qx qy qz qw
		static bool
	)
	err := walk(b, func(f field) error {
		switch {
		case f.num == 1:
			r.Parent = string(f.bytes)
		case f.num == 2:
			r.Child = string(f.bytes)
		case f.num == 3:
			r.Stamp = f.stamp()
		case f.num >= 4 && f.num <= 10:
			v[f.num-4] = f.double()
		case f.num == 11:
			static = f.u64 != 0
		}
		return nil
	})
	if err != nil {
		return TransformRecord{}, err
	}
	t, err := tf.NewTransform(v[0], v[1], v[2], v[3], v[4], v[5], v[6])
	if err != nil {
		return TransformRecord{}, fmt.Errorf("%s -> %s: %w", r.Parent, r.Child, err)
	}
	r.Transform = t
	r.Static = static
	return r, nil
}

// MarshalTransformBatch appends the wire form of records to b.
func MarshalTransformBatch(b []byte, records []TransformRecord) []byte {
	var scratch []byte
	for _, r := range records {
		scratch = appendTransform(scratch[:0], r)
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, scratch)
	}
	return b
}

// UnmarshalTransformBatch decodes a transform batch. A single bad record
// fails the whole batch.
func UnmarshalTransformBatch(b []byte) ([]TransformRecord, error) {
	var records []TransformRecord
	err := walk(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		if f.typ != protowire.BytesType {
			return fmt.Errorf("%w: transform entry has wire type %d", ErrTruncated, f.typ)
		}
		r, err := decodeTransform(f.bytes)
		if err != nil {
			return fmt.Errorf("transform %d: %w", len(records), err)
		}
		records = append(records, r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode transform batch: %w", err)
	}
	return records, nil
}
