package dispatch

import (
	"context"
	"sync"

	"github.com/banshee-data/scan2cloud/internal/lidar/scan"
)

// DefaultBufferDepth matches the subscriber queue of the original node.
const DefaultBufferDepth = 2

// Inbox is a bounded, newest-preferred scan buffer. When full, admitting a
// new scan discards the oldest queued one.
type Inbox struct {
	mu    sync.Mutex
	items []*scan.RangeScan
	depth int
	ready chan struct{}
}

// NewInbox creates an Inbox holding at most depth scans (minimum 1).
func NewInbox(depth int) *Inbox {
	if depth < 1 {
		depth = 1
	}
	return &Inbox{
		items: make([]*scan.RangeScan, 0, depth),
		depth: depth,
		ready: make(chan struct{}, 1),
	}
}

// Push admits s and returns the scan it displaced, if any. It never blocks.
func (q *Inbox) Push(s *scan.RangeScan) (displaced *scan.RangeScan) {
	q.mu.Lock()
	if len(q.items) == q.depth {
		displaced = q.items[0]
		copy(q.items, q.items[1:])
		q.items = q.items[:len(q.items)-1]
	}
	q.items = append(q.items, s)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return displaced
}

// Pop removes and returns the oldest queued scan, blocking until one is
// available or ctx is done.
func (q *Inbox) Pop(ctx context.Context) (*scan.RangeScan, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			s := q.items[0]
			copy(q.items, q.items[1:])
			q.items[len(q.items)-1] = nil
			q.items = q.items[:len(q.items)-1]
			q.mu.Unlock()
			return s, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.ready:
		}
	}
}

// Len returns the number of queued scans.
func (q *Inbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Depth returns the capacity of the inbox.
func (q *Inbox) Depth() int {
	return q.depth
}
