package tf

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/scan2cloud/internal/lidar/scan"
	"github.com/banshee-data/scan2cloud/internal/timeutil"
)

// DefaultCacheDuration is how much history each dynamic link retains.
const DefaultCacheDuration = 10 * time.Second

var (
	errInvalidTransform = errors.New("invalid transform")
)

// link is the edge from a child frame to its parent.
type link struct {
	parent  string
	static  bool
	fixed   Transform          // valid when static
	history []StampedTransform // ascending by Stamp
}

// FrameInfo summarises one frame for diagnostics.
type FrameInfo struct {
	Name    string    `json:"name"`
	Parent  string    `json:"parent,omitempty"`
	Static  bool      `json:"static"`
	Samples int       `json:"samples"`
	Oldest  time.Time `json:"oldest,omitempty"`
	Newest  time.Time `json:"newest,omitempty"`
}

// Buffer is an in-memory transform history organised as a forest of
// child→parent links. It implements Provider.
type Buffer struct {
	mu            sync.RWMutex
	links         map[string]*link // keyed by child frame
	frames        map[string]struct{}
	cacheDuration time.Duration
	clock         timeutil.Clock

	// notify is closed and replaced on every write so waiters re-check.
	notify chan struct{}
}

var _ Provider = (*Buffer)(nil)

// NewBuffer creates an empty Buffer. A non-positive cacheDuration selects
// DefaultCacheDuration; a nil clock selects the real clock.
func NewBuffer(cacheDuration time.Duration, clock timeutil.Clock) *Buffer {
	if cacheDuration <= 0 {
		cacheDuration = DefaultCacheDuration
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Buffer{
		links:         make(map[string]*link),
		frames:        make(map[string]struct{}),
		cacheDuration: cacheDuration,
		clock:         clock,
		notify:        make(chan struct{}),
	}
}

// Set records a dynamic transform sample.
func (b *Buffer) Set(st StampedTransform) error {
	return b.insert(st, false)
}

// SetStatic records a transform that is valid at every instant.
func (b *Buffer) SetStatic(st StampedTransform) error {
	return b.insert(st, true)
}

func (b *Buffer) insert(st StampedTransform, static bool) error {
	parent := scan.NormalizeFrame(st.Parent)
	child := scan.NormalizeFrame(st.Child)
	switch {
	case parent == "" || child == "":
		return fmt.Errorf("%w: empty frame name", errInvalidTransform)
	case parent == child:
		return fmt.Errorf("%w: frame %q cannot be its own parent", errInvalidTransform, child)
	case !static && st.Stamp.IsZero():
		return fmt.Errorf("%w: %s->%s has zero stamp", errInvalidTransform, parent, child)
	}
	st.Parent, st.Child = parent, child

	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.links[child]
	if ok {
		if l.parent != parent {
			return fmt.Errorf("%w: %q already has parent %q, got %q", errInvalidTransform, child, l.parent, parent)
		}
		if l.static != static {
			return fmt.Errorf("%w: %q mixes static and dynamic samples", errInvalidTransform, child)
		}
	} else {
		if b.isAncestorLocked(child, parent) {
			return fmt.Errorf("%w: %s->%s would create a cycle", errInvalidTransform, parent, child)
		}
		l = &link{parent: parent, static: static}
		b.links[child] = l
	}
	b.frames[parent] = struct{}{}
	b.frames[child] = struct{}{}

	if static {
		l.fixed = st.Transform
	} else {
		l.history = insertSample(l.history, st)
		l.history = prune(l.history, b.cacheDuration)
	}

	close(b.notify)
	b.notify = make(chan struct{})
	return nil
}

// isAncestorLocked reports whether candidate appears on the parent chain
// starting at frame (inclusive).
func (b *Buffer) isAncestorLocked(candidate, frame string) bool {
	for f := frame; ; {
		if f == candidate {
			return true
		}
		l, ok := b.links[f]
		if !ok {
			return false
		}
		f = l.parent
	}
}

func insertSample(history []StampedTransform, st StampedTransform) []StampedTransform {
	n := len(history)
	if n == 0 || history[n-1].Stamp.Before(st.Stamp) {
		return append(history, st)
	}
	i := sort.Search(n, func(i int) bool { return !history[i].Stamp.Before(st.Stamp) })
	if i < n && history[i].Stamp.Equal(st.Stamp) {
		history[i] = st
		return history
	}
	history = append(history, StampedTransform{})
	copy(history[i+1:], history[i:])
	history[i] = st
	return history
}

func prune(history []StampedTransform, keep time.Duration) []StampedTransform {
	if len(history) == 0 {
		return history
	}
	cutoff := history[len(history)-1].Stamp.Add(-keep)
	i := sort.Search(len(history), func(i int) bool { return !history[i].Stamp.Before(cutoff) })
	if i == 0 {
		return history
	}
	return append(history[:0], history[i:]...)
}

// Lookup implements Provider.
func (b *Buffer) Lookup(source, target string, at time.Time) (Transform, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lookupLocked(scan.NormalizeFrame(source), scan.NormalizeFrame(target), at)
}

// WaitUntilAvailable implements Provider.
func (b *Buffer) WaitUntilAvailable(ctx context.Context, source, target string, at time.Time, timeout time.Duration) (bool, error) {
	source, target = scan.NormalizeFrame(source), scan.NormalizeFrame(target)

	var expired <-chan time.Time
	if timeout > 0 {
		timer := b.clock.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C()
	}

	for {
		b.mu.RLock()
		_, err := b.lookupLocked(source, target, at)
		notify := b.notify
		b.mu.RUnlock()

		switch {
		case err == nil:
			return true, nil
		case !errors.Is(err, ErrNotAvailable):
			return false, err
		case expired == nil:
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-expired:
			return false, nil
		case <-notify:
		}
	}
}

func (b *Buffer) lookupLocked(source, target string, at time.Time) (Transform, error) {
	if source == target {
		return Identity(), nil
	}
	for _, f := range []string{source, target} {
		if _, ok := b.frames[f]; !ok {
			return Transform{}, fmt.Errorf("%w: %w %q", ErrLookup, ErrUnknownFrame, f)
		}
	}

	sourcePath := b.pathToRootLocked(source)
	targetPath := b.pathToRootLocked(target)

	depth := make(map[string]int, len(targetPath))
	for i, f := range targetPath {
		depth[f] = i
	}
	si, ti := -1, -1
	for i, f := range sourcePath {
		if j, ok := depth[f]; ok {
			si, ti = i, j
			break
		}
	}
	if si < 0 {
		return Transform{}, fmt.Errorf("%w: %w: %q and %q", ErrLookup, ErrDisconnected, source, target)
	}

	sourceToAncestor, err := b.chainLocked(sourcePath[:si+1], at)
	if err != nil {
		return Transform{}, err
	}
	targetToAncestor, err := b.chainLocked(targetPath[:ti+1], at)
	if err != nil {
		return Transform{}, err
	}
	return targetToAncestor.Inverse().Compose(sourceToAncestor), nil
}

// pathToRootLocked returns frame followed by each of its ancestors.
func (b *Buffer) pathToRootLocked(frame string) []string {
	path := []string{frame}
	for {
		l, ok := b.links[frame]
		if !ok {
			return path
		}
		frame = l.parent
		path = append(path, frame)
	}
}

// chainLocked composes the links along path (child first) into the
// transform from path[0] to path[len-1].
func (b *Buffer) chainLocked(path []string, at time.Time) (Transform, error) {
	out := Identity()
	for _, child := range path[:len(path)-1] {
		t, err := b.links[child].at(child, at)
		if err != nil {
			return Transform{}, err
		}
		out = t.Compose(out)
	}
	return out, nil
}

func (l *link) at(child string, at time.Time) (Transform, error) {
	if l.static {
		return l.fixed, nil
	}
	n := len(l.history)
	oldest, newest := l.history[0], l.history[n-1]
	switch {
	case at.After(newest.Stamp):
		return Transform{}, fmt.Errorf("%w: %s->%s at %s, latest %s",
			ErrNotAvailable, l.parent, child, at.Format(time.RFC3339Nano), newest.Stamp.Format(time.RFC3339Nano))
	case at.Before(oldest.Stamp):
		return Transform{}, fmt.Errorf("%w: %w: %s->%s at %s, oldest %s",
			ErrLookup, ErrExtrapolationPast, l.parent, child, at.Format(time.RFC3339Nano), oldest.Stamp.Format(time.RFC3339Nano))
	}

	i := sort.Search(n, func(i int) bool { return !l.history[i].Stamp.Before(at) })
	if l.history[i].Stamp.Equal(at) {
		return l.history[i].Transform, nil
	}
	prev, next := l.history[i-1], l.history[i]
	f := float64(at.Sub(prev.Stamp)) / float64(next.Stamp.Sub(prev.Stamp))
	return Interpolate(prev.Transform, next.Transform, f), nil
}

// Frames lists every known frame, sorted by name.
func (b *Buffer) Frames() []FrameInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]FrameInfo, 0, len(b.frames))
	for name := range b.frames {
		info := FrameInfo{Name: name}
		if l, ok := b.links[name]; ok {
			info.Parent = l.parent
			info.Static = l.static
			info.Samples = len(l.history)
			if n := len(l.history); n > 0 {
				info.Oldest = l.history[0].Stamp
				info.Newest = l.history[n-1].Stamp
			}
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
