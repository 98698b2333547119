// Package admin attaches the converter's debug pages to an HTTP mux.
// Pages live under /debug/ and are served only to loopback or tailnet
// callers.
package admin

import (
	"net/http"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/scan2cloud/internal/httputil"
	"github.com/banshee-data/scan2cloud/internal/lidar/dispatch"
	"github.com/banshee-data/scan2cloud/internal/lidar/gate"
	"github.com/banshee-data/scan2cloud/internal/lidar/scan"
	"github.com/banshee-data/scan2cloud/internal/lidar/tf"
	"github.com/banshee-data/scan2cloud/internal/version"
)

// DispatchSource reports conversion counters. *dispatch.Dispatcher
// implements it.
type DispatchSource interface {
	Stats() dispatch.StatsSnapshot
	Pending() int
}

// GateSource reports the gate's current state. *gate.Gate implements it.
type GateSource interface {
	State() gate.State
	TargetFrame() string
}

// TransformSource exposes the transform tree. *tf.Buffer implements it.
type TransformSource interface {
	Frames() []tf.FrameInfo
	Lookup(source, target string, at time.Time) (tf.Transform, error)
}

// StreamSource reports cloud stream activity. *cloudstream.Server
// implements it.
type StreamSource interface {
	Subscribers() int
	Sent() uint64
	Skipped() uint64
}

// Routes bundles what the debug pages report on. Stream may be nil.
type Routes struct {
	Dispatch   DispatchSource
	Gate       GateSource
	Transforms TransformSource
	Stream     StreamSource
}

// StatusResponse is the body of /debug/scan2cloud-status.
type StatusResponse struct {
	Version     string                 `json:"version"`
	TargetFrame string                 `json:"target_frame"`
	GateState   string                 `json:"gate_state"`
	Pending     int                    `json:"pending"`
	Stats       dispatch.StatsSnapshot `json:"stats"`
	Dropped     int64                  `json:"dropped"`
	Stream      *StreamStatus          `json:"stream,omitempty"`
}

// StreamStatus summarises the cloud stream.
type StreamStatus struct {
	Subscribers int    `json:"subscribers"`
	Sent        uint64 `json:"sent"`
	Skipped     uint64 `json:"skipped"`
}

// LookupResponse is the body of /debug/tf-lookup.
type LookupResponse struct {
	Source      string     `json:"source"`
	Target      string     `json:"target"`
	At          time.Time  `json:"at"`
	Translation [3]float64 `json:"translation"`
	Rotation    [4]float64 `json:"rotation_xyzw"`
}

// AttachAdminRoutes registers the debug pages on mux.
func (rt Routes) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KV("Version", version.String())
	debug.KVFunc("Gate state", func() any { return rt.Gate.State().String() })
	debug.KVFunc("Scans pending", func() any { return rt.Dispatch.Pending() })

	debug.Handle("scan2cloud-status", "conversion counters and gate state (JSON)", http.HandlerFunc(rt.handleStatus))
	debug.Handle("tf-frames", "known transform frames (JSON)", http.HandlerFunc(rt.handleFrames))
	debug.HandleSilent("tf-lookup", http.HandlerFunc(rt.handleLookup))
}

func (rt Routes) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	stats := rt.Dispatch.Stats()
	resp := StatusResponse{
		Version:     version.Version,
		TargetFrame: rt.Gate.TargetFrame(),
		GateState:   rt.Gate.State().String(),
		Pending:     rt.Dispatch.Pending(),
		Stats:       stats,
		Dropped:     stats.Dropped(),
	}
	if rt.Stream != nil {
		resp.Stream = &StreamStatus{
			Subscribers: rt.Stream.Subscribers(),
			Sent:        rt.Stream.Sent(),
			Skipped:     rt.Stream.Skipped(),
		}
	}
	httputil.WriteJSONOK(w, resp)
}

func (rt Routes) handleFrames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, rt.Transforms.Frames())
}

// handleLookup resolves ?source=&target=[&at=RFC3339]. The target
// defaults to the gate's target frame and the time to now.
func (rt Routes) handleLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	source := scan.NormalizeFrame(q.Get("source"))
	if source == "" {
		httputil.WriteJSONError(w, http.StatusBadRequest, "missing source frame")
		return
	}
	target := scan.NormalizeFrame(q.Get("target"))
	if target == "" {
		target = scan.NormalizeFrame(rt.Gate.TargetFrame())
	}
	at := time.Now()
	if s := q.Get("at"); s != "" {
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			httputil.WriteJSONError(w, http.StatusBadRequest, "invalid at: "+err.Error())
			return
		}
		at = parsed
	}

	t, err := rt.Transforms.Lookup(source, target, at)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	qx, qy, qz, qw := t.Quaternion()
	httputil.WriteJSONOK(w, LookupResponse{
		Source:      source,
		Target:      target,
		At:          at,
		Translation: [3]float64{t.Translation.X, t.Translation.Y, t.Translation.Z},
		Rotation:    [4]float64{qx, qy, qz, qw},
	})
}
