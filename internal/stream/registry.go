package stream

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/yourname/runmatch/internal/metrics"
	"github.com/yourname/runmatch/pkg/types"
)

var (
	ErrNotOpen         = errors.New("stream: no open stream for user")
	ErrAlreadyAttached = errors.New("stream: already attached")
)

const minBufferSize = 2

type entry struct {
	id      string
	ch      chan types.WaitingEvent
	state   types.StreamState
	pending []types.WaitingEvent
}

// Registry owns one event channel per waiting user.
// All methods are safe for concurrent use; Send and Close never fail.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	size    int
	logger  *zap.Logger
}

func NewRegistry(bufferSize int, logger *zap.Logger) *Registry {
	if bufferSize < minBufferSize {
		bufferSize = minBufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]*entry),
		size:    bufferSize,
		logger:  logger.Named("stream"),
	}
}

// Open creates a fresh channel for id, replacing and closing any previous one.
func (r *Registry) Open(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.entries[id]; ok {
		r.closeLocked(old)
		r.logger.Debug("stream replaced", zap.String("user", id))
	}
	r.entries[id] = &entry{
		id:    id,
		ch:    make(chan types.WaitingEvent, r.size),
		state: types.StateAwaitingConnect,
	}
	metrics.OpenStreams.Inc()
}

// Attach marks the stream connected and returns its consumer side. CONNECT is
// always the first event, followed by anything sent while awaiting connect.
func (r *Registry) Attach(id string) (*Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, ErrNotOpen
	}
	if e.state != types.StateAwaitingConnect {
		return nil, ErrAlreadyAttached
	}

	e.state = types.StateConnected
	r.deliverLocked(e, types.EventConnect)
	for _, ev := range e.pending {
		r.deliverLocked(e, ev)
	}
	e.pending = nil

	r.logger.Debug("stream attached", zap.String("user", id))
	return &Stream{registry: r, e: e}, nil
}

// Send delivers ev to id's stream. Unknown or closed streams are ignored.
func (r *Registry) Send(id string, ev types.WaitingEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return
	}
	switch e.state {
	case types.StateAwaitingConnect:
		e.pending = append(e.pending, ev)
	case types.StateConnected:
		r.deliverLocked(e, ev)
	}
}

func (r *Registry) deliverLocked(e *entry, ev types.WaitingEvent) {
	select {
	case e.ch <- ev:
	default:
		metrics.DroppedEvents.Inc()
		r.logger.Warn("stream buffer full, dropping event",
			zap.String("user", e.id),
			zap.String("event", string(ev)),
		)
	}
}

func (r *Registry) Close(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[id]; ok {
		r.closeLocked(e)
	}
}

func (r *Registry) release(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked(e)
}

func (r *Registry) closeLocked(e *entry) {
	if e.state == types.StateClosed {
		return
	}
	e.state = types.StateClosed
	e.pending = nil
	close(e.ch)
	if cur, ok := r.entries[e.id]; ok && cur == e {
		delete(r.entries, e.id)
	}
	metrics.OpenStreams.Dec()
	r.logger.Debug("stream closed", zap.String("user", e.id))
}

// State returns the lifecycle state of id's stream; unknown ids are CLOSED.
func (r *Registry) State(id string) types.StreamState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[id]; ok {
		return e.state
	}
	return types.StateClosed
}

// ListConnected returns a sorted snapshot of connected user ids.
func (r *Registry) ListConnected() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.entries))
	for id, e := range r.entries {
		if e.state == types.StateConnected {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
