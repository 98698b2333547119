package network

import (
	"errors"
	"fmt"

	"github.com/banshee-data/scan2cloud/internal/lidar/scan"
	"github.com/banshee-data/scan2cloud/internal/lidar/tf"
	"github.com/banshee-data/scan2cloud/internal/lidar/wire"
)

// ErrDecode marks payloads that could not be decoded. Listeners count them
// separately from other handler failures.
var ErrDecode = errors.New("undecodable payload")

// PayloadHandler consumes one datagram payload. The payload buffer is
// reused after HandlePayload returns.
type PayloadHandler interface {
	HandlePayload(payload []byte) error
}

// PayloadHandlerFunc adapts a function to PayloadHandler.
type PayloadHandlerFunc func(payload []byte) error

// HandlePayload calls f(payload).
func (f PayloadHandlerFunc) HandlePayload(payload []byte) error { return f(payload) }

// ScanSubmitter accepts decoded scans. *dispatch.Dispatcher implements it.
type ScanSubmitter interface {
	Submit(s *scan.RangeScan)
}

// ScanHandler decodes wire-format scans and submits them.
type ScanHandler struct {
	Submitter ScanSubmitter
}

// HandlePayload implements PayloadHandler.
func (h ScanHandler) HandlePayload(payload []byte) error {
	s, err := wire.UnmarshalScan(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	h.Submitter.Submit(s)
	return nil
}

// TransformStore accepts transform samples. *tf.Buffer implements it.
type TransformStore interface {
	Set(st tf.StampedTransform) error
	SetStatic(st tf.StampedTransform) error
}

// TransformHandler decodes transform batches into a TransformStore. A
// rejected record does not stop the rest of the batch.
type TransformHandler struct {
	Store TransformStore
}

// HandlePayload implements PayloadHandler.
func (h TransformHandler) HandlePayload(payload []byte) error {
	records, err := wire.UnmarshalTransformBatch(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	var errs []error
	for _, r := range records {
		if r.Static {
			err = h.Store.SetStatic(r.StampedTransform)
		} else {
			err = h.Store.Set(r.StampedTransform)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func isDecodeError(err error) bool {
	return errors.Is(err, ErrDecode)
}
