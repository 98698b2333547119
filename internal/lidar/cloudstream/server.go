package cloudstream

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/banshee-data/scan2cloud/internal/lidar/dispatch"
	"github.com/banshee-data/scan2cloud/internal/lidar/scan"
	"github.com/banshee-data/scan2cloud/internal/monitoring"
)

const (
	// DefaultSubscriberBuffer is the per-subscriber queue when the request
	// does not name one.
	DefaultSubscriberBuffer = 4

	// MaxSubscriberBuffer bounds a subscriber's queue.
	MaxSubscriberBuffer = 64

	// maxMsgSize fits a full-resolution cloud with room to spare.
	maxMsgSize = 16 * 1024 * 1024

	subscribeMethod = "/scan2cloud.CloudStream/Subscribe"
)

// cloudStreamServer is the handler type checked by grpc.RegisterService.
type cloudStreamServer interface {
	subscribe(req *SubscribeRequest, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "scan2cloud.CloudStream",
	HandlerType: (*cloudStreamServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "scan2cloud/cloudstream",
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	req := new(SubscribeRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(cloudStreamServer).subscribe(req, stream)
}

// Server streams every published cloud to all subscribers. It implements
// dispatch.Sink; a subscriber that falls behind skips clouds instead of
// slowing the conversion worker.
type Server struct {
	fanout *dispatch.Fanout
	server *grpc.Server
	sent   atomic.Uint64
	logf   func(format string, v ...interface{})

	mu      sync.Mutex
	stopped bool
}

// NewServer creates a Server. Extra options are appended to the defaults.
func NewServer(opts ...grpc.ServerOption) *Server {
	s := &Server{
		fanout: dispatch.NewFanout(),
		logf:   monitoring.Prefixed("CloudStream"),
	}
	base := []grpc.ServerOption{
		grpc.MaxSendMsgSize(maxMsgSize),
		grpc.ForceServerCodec(Codec{}),
	}
	s.server = grpc.NewServer(append(base, opts...)...)
	s.server.RegisterService(&serviceDesc, s)
	return s
}

// Publish implements dispatch.Sink.
func (s *Server) Publish(cloud *scan.PointCloud) {
	s.fanout.Publish(cloud)
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logf("serving on %s", lis.Addr())
	err := s.server.Serve(lis)
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return nil
	}
	return err
}

// Stop closes every stream and the listener.
func (s *Server) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.server.Stop()
}

// Subscribers returns the number of open streams.
func (s *Server) Subscribers() int { return s.fanout.Len() }

// Sent returns the number of clouds delivered across all subscribers.
func (s *Server) Sent() uint64 { return s.sent.Load() }

// Skipped returns how many deliveries were skipped on full subscriber
// queues.
func (s *Server) Skipped() uint64 { return s.fanout.Dropped() }

func (s *Server) subscribe(req *SubscribeRequest, stream grpc.ServerStream) error {
	buffer := int(req.Buffer)
	switch {
	case buffer == 0:
		buffer = DefaultSubscriberBuffer
	case buffer > MaxSubscriberBuffer:
		return status.Errorf(codes.InvalidArgument, "buffer %d exceeds maximum %d", buffer, MaxSubscriberBuffer)
	}

	id, clouds := s.fanout.Subscribe(buffer)
	defer s.fanout.Unsubscribe(id)
	s.logf("subscriber %s connected (buffer %d)", id, buffer)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.logf("subscriber %s disconnected", id)
			return nil
		case cloud := <-clouds:
			if err := stream.SendMsg(cloud); err != nil {
				return fmt.Errorf("send to subscriber %s: %w", id, err)
			}
			s.sent.Add(1)
		}
	}
}
