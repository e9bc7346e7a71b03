package waiting

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/yourname/runmatch/internal/metrics"
	"github.com/yourname/runmatch/pkg/types"
)

var (
	ErrUnknownDistance = errors.New("waiting: unknown running distance")
	ErrOutOfSize       = errors.New("waiting: requested more than buffer size")
	ErrBufferFull      = errors.New("waiting: buffer is full")
)

// Buffer holds waiting user ids per distance in arrival order.
// An id lives in at most one partition and at most once within it.
type Buffer struct {
	mu       sync.Mutex
	queues   map[types.RunningDistance][]string
	index    map[string]types.RunningDistance
	capacity int
}

// NewBuffer creates a buffer for the given distances (types.Distances when none
// are passed). capacity bounds each partition; 0 means unbounded.
func NewBuffer(capacity int, distances ...types.RunningDistance) *Buffer {
	if len(distances) == 0 {
		distances = types.Distances
	}
	b := &Buffer{
		queues:   make(map[types.RunningDistance][]string, len(distances)),
		index:    make(map[string]types.RunningDistance),
		capacity: capacity,
	}
	for _, d := range distances {
		b.queues[d] = nil
	}
	return b
}

// Add appends the user to its distance partition. It returns false when the id
// was already waiting for that distance. An id waiting for another distance is
// moved to the back of the new partition.
func (b *Buffer) Add(u types.WaitingUser) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[u.Distance]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownDistance, u.Distance)
	}
	if cur, waiting := b.index[u.ID]; waiting {
		if cur == u.Distance {
			return false, nil
		}
		if b.full(q) {
			return false, fmt.Errorf("%w: %s", ErrBufferFull, u.Distance)
		}
		b.removeLocked(u.ID, cur)
	} else if b.full(q) {
		return false, fmt.Errorf("%w: %s", ErrBufferFull, u.Distance)
	}

	b.queues[u.Distance] = append(b.queues[u.Distance], u.ID)
	b.index[u.ID] = u.Distance
	metrics.WaitingUsers.WithLabelValues(string(u.Distance)).Set(float64(len(b.queues[u.Distance])))
	return true, nil
}

func (b *Buffer) full(q []string) bool {
	return b.capacity > 0 && len(q) >= b.capacity
}

// SatisfyCount reports whether at least n users wait for d.
func (b *Buffer) SatisfyCount(d types.RunningDistance, n int) bool {
	if n <= 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[d]) >= n
}

// Drain removes and returns the n oldest ids waiting for d.
func (b *Buffer) Drain(d types.RunningDistance, n int) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[d]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDistance, d)
	}
	if n <= 0 || n > len(q) {
		return nil, fmt.Errorf("%w: want %d, have %d", ErrOutOfSize, n, len(q))
	}

	out := make([]string, n)
	copy(out, q[:n])
	b.queues[d] = slices.Clone(q[n:])
	for _, id := range out {
		delete(b.index, id)
	}
	metrics.WaitingUsers.WithLabelValues(string(d)).Set(float64(len(b.queues[d])))
	return out, nil
}

func (b *Buffer) HasElement(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.index[id]
	return ok
}

// Remove evicts id from whichever partition holds it.
func (b *Buffer) Remove(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.index[id]
	if !ok {
		return false
	}
	b.removeLocked(id, d)
	return true
}

func (b *Buffer) removeLocked(id string, d types.RunningDistance) {
	b.queues[d] = slices.DeleteFunc(b.queues[d], func(v string) bool { return v == id })
	delete(b.index, id)
	metrics.WaitingUsers.WithLabelValues(string(d)).Set(float64(len(b.queues[d])))
}

func (b *Buffer) Len(d types.RunningDistance) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[d])
}

// Snapshot copies the current queues.
func (b *Buffer) Snapshot() map[types.RunningDistance][]string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[types.RunningDistance][]string, len(b.queues))
	for d, q := range b.queues {
		out[d] = slices.Clone(q)
	}
	return out
}
