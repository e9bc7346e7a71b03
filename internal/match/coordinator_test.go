package match

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourname/runmatch/internal/stream"
	"github.com/yourname/runmatch/internal/waiting"
	"github.com/yourname/runmatch/pkg/types"
)

type createCall struct {
	ids      []string
	distance types.RunningDistance
}

type fakeMatches struct {
	mu      sync.Mutex
	creates []createCall
	status  map[string][]bool
	err     error
}

func (f *fakeMatches) Create(_ context.Context, ids []string, d types.RunningDistance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, createCall{ids: append([]string(nil), ids...), distance: d})
	return f.err
}

func (f *fakeMatches) SetMemberStatus(_ context.Context, id string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status == nil {
		f.status = map[string][]bool{}
	}
	f.status[id] = append(f.status[id], active)
	return f.err
}

func (f *fakeMatches) calls() []createCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]createCall(nil), f.creates...)
}

// loopback publishes straight into the coordinator, like a broker with one subscriber.
type loopback struct {
	c       *Coordinator
	err     error
	onPub   func(types.WaitingUser)
	cancels []string
}

func (l *loopback) PublishRegistration(ctx context.Context, u types.WaitingUser) error {
	if l.err != nil {
		return l.err
	}
	if l.onPub != nil {
		l.onPub(u)
	}
	l.c.OnWaitingUser(ctx, u)
	return nil
}

func (l *loopback) PublishCancellation(ctx context.Context, id string) error {
	if l.err != nil {
		return l.err
	}
	l.cancels = append(l.cancels, id)
	l.c.OnCancel(ctx, id)
	return nil
}

type fixture struct {
	c        *Coordinator
	buffer   *waiting.Buffer
	registry *stream.Registry
	matches  *fakeMatches
	pub      *loopback
}

func newFixture(satisfy int) *fixture {
	f := &fixture{
		buffer:   waiting.NewBuffer(0),
		registry: stream.NewRegistry(8, nil),
		matches:  &fakeMatches{},
		pub:      &loopback{},
	}
	f.c = NewCoordinator(Options{
		Buffer:       f.buffer,
		Registry:     f.registry,
		Publisher:    f.pub,
		Matches:      f.matches,
		SatisfyCount: satisfy,
	})
	f.pub.c = f.c
	return f
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(2)

	_, err := f.c.Register(context.Background(), "u1", "MARATHON")
	assert.ErrorIs(t, err, ErrInvalidDistance)
	_, err = f.c.Register(context.Background(), "u1", "")
	assert.ErrorIs(t, err, ErrInvalidDistance)
	_, err = f.c.Register(context.Background(), "", "KM5")
	assert.ErrorIs(t, err, ErrMissingUser)

	assert.Equal(t, 0, f.registry.Len())
	assert.False(t, f.buffer.HasElement("u1"))
}

func TestRegisterOpensStreamBeforePublishing(t *testing.T) {
	f := newFixture(2)
	var stateAtPublish types.StreamState
	f.pub.onPub = func(u types.WaitingUser) { stateAtPublish = f.registry.State(u.ID) }

	resp, err := f.c.Register(context.Background(), "u1", "km5")
	require.NoError(t, err)
	assert.Equal(t, "u1 registered to waiting queue", resp.Message)
	assert.Equal(t, types.StateAwaitingConnect, stateAtPublish)
	assert.True(t, f.buffer.HasElement("u1"))
}

func TestRegisterPublishFailureClosesStream(t *testing.T) {
	f := newFixture(2)
	f.pub.err = errors.New("broker down")

	_, err := f.c.Register(context.Background(), "u1", "KM5")
	assert.Error(t, err)
	assert.Equal(t, types.StateClosed, f.registry.State("u1"))
}

func TestMatchesAreFIFO(t *testing.T) {
	f := newFixture(2)
	for _, id := range []string{"A", "B", "C", "D"} {
		_, err := f.c.Register(context.Background(), id, "KM5")
		require.NoError(t, err)
	}
	f.c.Wait()

	calls := f.matches.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"A", "B"}, calls[0].ids)
	assert.Equal(t, []string{"C", "D"}, calls[1].ids)
	assert.Equal(t, types.KM5, calls[0].distance)
}

func TestDistancesAreNeverMixed(t *testing.T) {
	f := newFixture(2)
	_, _ = f.c.Register(context.Background(), "a", "KM1")
	_, _ = f.c.Register(context.Background(), "b", "KM3")
	f.c.Wait()
	assert.Empty(t, f.matches.calls())

	_, _ = f.c.Register(context.Background(), "c", "KM3")
	f.c.Wait()
	calls := f.matches.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"b", "c"}, calls[0].ids)
	assert.True(t, f.buffer.HasElement("a"))
}

func TestEveryDistanceIsCheckedOnEachMessage(t *testing.T) {
	f := newFixture(2)
	// state that crossed the threshold without going through the coordinator
	_, _ = f.buffer.Add(types.WaitingUser{ID: "x", Distance: types.KM1})
	_, _ = f.buffer.Add(types.WaitingUser{ID: "y", Distance: types.KM1})

	f.c.OnWaitingUser(context.Background(), types.WaitingUser{ID: "z", Distance: types.KM10})
	f.c.Wait()

	calls := f.matches.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"x", "y"}, calls[0].ids)
	assert.True(t, f.buffer.HasElement("z"))
}

func TestDuplicateRegistrationOccupiesOneSlot(t *testing.T) {
	f := newFixture(2)
	f.c.OnWaitingUser(context.Background(), types.WaitingUser{ID: "a", Distance: types.KM3})
	f.c.OnWaitingUser(context.Background(), types.WaitingUser{ID: "a", Distance: types.KM3})
	f.c.Wait()

	assert.Empty(t, f.matches.calls())
	assert.Equal(t, 1, f.buffer.Len(types.KM3))
}

func TestNoDuplicateMatchUnderConcurrency(t *testing.T) {
	f := newFixture(2)
	const n = 200

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := types.Distances[i%len(types.Distances)]
			f.c.OnWaitingUser(context.Background(), types.WaitingUser{ID: fmt.Sprintf("u%d", i), Distance: d})
		}(i)
	}
	wg.Wait()
	f.c.Wait()

	seen := map[string]bool{}
	for _, call := range f.matches.calls() {
		require.Len(t, call.ids, 2)
		for _, id := range call.ids {
			assert.False(t, seen[id], "matched twice: %s", id)
			seen[id] = true
		}
	}
	assert.Len(t, seen, n)
	for _, d := range types.Distances {
		assert.Equal(t, 0, f.buffer.Len(d))
	}
}

func TestMatchedUsersReceiveMatchedEvent(t *testing.T) {
	f := newFixture(2)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var streams []*stream.Stream
	for _, id := range []string{"u1", "u2"} {
		_, err := f.c.Register(ctx, id, "KM3")
		require.NoError(t, err)
	}
	for _, id := range []string{"u1", "u2"} {
		s, err := f.c.Subscribe(id)
		require.NoError(t, err)
		streams = append(streams, s)
	}

	for _, s := range streams {
		ev, err := s.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, types.EventConnect, ev)
		ev, err = s.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, types.EventMatched, ev)
		_, err = s.Recv(ctx)
		assert.ErrorIs(t, err, io.EOF)
	}
	assert.Empty(t, f.registry.ListConnected())
}

func TestCreateFailureLeavesBufferConsistent(t *testing.T) {
	f := newFixture(2)
	f.matches.err = errors.New("match service down")

	_, _ = f.c.Register(context.Background(), "a", "KM1")
	_, _ = f.c.Register(context.Background(), "b", "KM1")
	f.c.Wait()

	assert.Len(t, f.matches.calls(), 1)
	assert.Equal(t, 0, f.buffer.Len(types.KM1))
	assert.False(t, f.buffer.HasElement("a"))
}

func TestSatisfyCountIsConfigurable(t *testing.T) {
	f := newFixture(3)
	for _, id := range []string{"a", "b"} {
		_, _ = f.c.Register(context.Background(), id, "KM10")
	}
	f.c.Wait()
	assert.Empty(t, f.matches.calls())

	_, _ = f.c.Register(context.Background(), "c", "KM10")
	f.c.Wait()
	calls := f.matches.calls()
	require.Len(t, calls, 1)
	ids := append([]string(nil), calls[0].ids...)
	sort.Strings(ids)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestCancelRemovesWaitingUser(t *testing.T) {
	f := newFixture(2)
	_, err := f.c.Register(context.Background(), "a", "KM5")
	require.NoError(t, err)

	resp, err := f.c.Cancel(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a left waiting queue", resp.Message)
	assert.False(t, f.buffer.HasElement("a"))
	assert.Equal(t, types.StateClosed, f.registry.State("a"))

	_, _ = f.c.Register(context.Background(), "b", "KM5")
	f.c.Wait()
	assert.Empty(t, f.matches.calls())
}

func TestSubscribeWithoutRegistration(t *testing.T) {
	f := newFixture(2)
	_, err := f.c.Subscribe("ghost")
	assert.ErrorIs(t, err, stream.ErrNotOpen)
	_, err = f.c.Subscribe("")
	assert.ErrorIs(t, err, ErrMissingUser)
}
