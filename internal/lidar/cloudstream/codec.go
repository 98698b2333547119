// Package cloudstream serves converted clouds to remote subscribers over a
// server-streaming gRPC method, scan2cloud.CloudStream/Subscribe.
//
// Messages use the encodings of package wire rather than generated
// protobuf types, so the service is registered by hand and both ends force
// the wire Codec.
package cloudstream

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/scan2cloud/internal/lidar/scan"
	"github.com/banshee-data/scan2cloud/internal/lidar/wire"
)

// CodecName is the gRPC content-subtype of the wire codec.
const CodecName = "scan2cloud-wire"

// SubscribeRequest opens a cloud stream.
type SubscribeRequest struct {
	// Buffer is how many clouds the server holds for a slow subscriber
	// before skipping. Zero selects DefaultSubscriberBuffer.
	Buffer uint32
}

// Codec implements encoding.Codec for SubscribeRequest and PointCloud.
type Codec struct{}

// Name implements encoding.Codec.
func (Codec) Name() string { return CodecName }

// Marshal implements encoding.Codec.
func (Codec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case *SubscribeRequest:
		var b []byte
		if m.Buffer != 0 {
			b = protowire.AppendTag(b, 1, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(m.Buffer))
		}
		return b, nil
	case *scan.PointCloud:
		return wire.MarshalCloud(nil, m), nil
	default:
		return nil, fmt.Errorf("cloudstream codec cannot marshal %T", v)
	}
}

// Unmarshal implements encoding.Codec.
func (Codec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case *SubscribeRequest:
		*m = SubscribeRequest{}
		for len(data) > 0 {
			num, typ, n := protowire.ConsumeTag(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			if num == 1 && typ == protowire.VarintType {
				val, n := protowire.ConsumeVarint(data)
				if n < 0 {
					return protowire.ParseError(n)
				}
				m.Buffer = uint32(val)
				data = data[n:]
				continue
			}
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
		return nil
	case *scan.PointCloud:
		c, err := wire.UnmarshalCloud(data)
		if err != nil {
			return err
		}
		*m = *c
		return nil
	default:
		return fmt.Errorf("cloudstream codec cannot unmarshal into %T", v)
	}
}
