package stream

import (
	"context"
	"io"
	"sync"

	"github.com/yourname/runmatch/pkg/types"
)

// Stream is the single-consumer side of a registry entry. It ends by itself
// right after yielding the first event other than CONNECT.
type Stream struct {
	registry *Registry
	e        *entry
	done     bool
	once     sync.Once
}

func (s *Stream) ID() string { return s.e.id }

// Recv blocks for the next event. It returns io.EOF once the stream has ended.
func (s *Stream) Recv(ctx context.Context) (types.WaitingEvent, error) {
	if s.done {
		return "", io.EOF
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case ev, ok := <-s.e.ch:
		if !ok {
			s.done = true
			return "", io.EOF
		}
		if ev.Terminal() {
			s.done = true
			s.Close()
		}
		return ev, nil
	}
}

// Close releases the stream, e.g. when the client disconnects. It only
// affects this stream even if the user has since opened a new one.
func (s *Stream) Close() {
	s.once.Do(func() { s.registry.release(s.e) })
}
