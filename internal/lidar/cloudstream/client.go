package cloudstream

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/banshee-data/scan2cloud/internal/lidar/scan"
)

// Client subscribes to a remote CloudStream.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient creates a client for target. Callers supply transport
// credentials and any dialer through opts.
func NewClient(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append(opts, grpc.WithDefaultCallOptions(
		grpc.ForceCodec(Codec{}),
		grpc.MaxCallRecvMsgSize(maxMsgSize),
	))
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("cloudstream client for %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Subscription is an open cloud stream.
type Subscription struct {
	stream grpc.ClientStream
}

// Subscribe opens a stream. It ends when ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context, req *SubscribeRequest) (*Subscription, error) {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], subscribeMethod)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &Subscription{stream: stream}, nil
}

// Recv blocks for the next cloud.
func (s *Subscription) Recv() (*scan.PointCloud, error) {
	cloud := new(scan.PointCloud)
	if err := s.stream.RecvMsg(cloud); err != nil {
		return nil, err
	}
	return cloud, nil
}
