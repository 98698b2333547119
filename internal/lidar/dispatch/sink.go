package dispatch

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/banshee-data/scan2cloud/internal/lidar/scan"
)

// Sink receives converted clouds. Publish must not block; the conversion
// worker does not wait for acknowledgement.
type Sink interface {
	Publish(cloud *scan.PointCloud)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(cloud *scan.PointCloud)

// Publish calls f(cloud).
func (f SinkFunc) Publish(cloud *scan.PointCloud) { f(cloud) }

// Fanout broadcasts clouds to any number of subscribers. A subscriber whose
// buffer is full misses the cloud rather than stalling the others.
type Fanout struct {
	mu      sync.RWMutex
	subs    map[string]chan *scan.PointCloud
	dropped atomic.Uint64
}

// NewFanout creates an empty Fanout.
func NewFanout() *Fanout {
	return &Fanout{subs: make(map[string]chan *scan.PointCloud)}
}

// Subscribe registers a subscriber with the given channel buffer (minimum
// 1) and returns its ID and receive channel.
func (f *Fanout) Subscribe(buffer int) (string, <-chan *scan.PointCloud) {
	if buffer < 1 {
		buffer = 1
	}
	id := uuid.NewString()
	ch := make(chan *scan.PointCloud, buffer)

	f.mu.Lock()
	f.subs[id] = ch
	f.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (f *Fanout) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[id]; ok {
		close(ch)
		delete(f.subs, id)
	}
}

// Publish implements Sink.
func (f *Fanout) Publish(cloud *scan.PointCloud) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subs {
		select {
		case ch <- cloud:
		default:
			f.dropped.Add(1)
		}
	}
}

// Len returns the number of subscribers.
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Dropped returns how many deliveries were skipped on full buffers.
func (f *Fanout) Dropped() uint64 {
	return f.dropped.Load()
}
