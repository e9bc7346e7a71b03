package waiting

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourname/runmatch/pkg/types"
)

func user(id string, d types.RunningDistance) types.WaitingUser {
	return types.WaitingUser{ID: id, Distance: d}
}

func TestDrainExactlyN(t *testing.T) {
	b := NewBuffer(0)
	for _, id := range []string{"a", "b", "c"} {
		_, err := b.Add(user(id, types.KM3))
		require.NoError(t, err)
	}

	require.True(t, b.SatisfyCount(types.KM3, 2))
	ids, err := b.Drain(types.KM3, 2)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.False(t, b.SatisfyCount(types.KM3, 2))
	assert.Equal(t, 1, b.Len(types.KM3))
}

func TestDrainIsFIFO(t *testing.T) {
	b := NewBuffer(0)
	for _, id := range []string{"A", "B", "C", "D"} {
		_, err := b.Add(user(id, types.KM5))
		require.NoError(t, err)
	}

	first, err := b.Drain(types.KM5, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, first)

	second, err := b.Drain(types.KM5, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "D"}, second)
}

func TestDrainOutOfSize(t *testing.T) {
	b := NewBuffer(0)
	_, err := b.Add(user("a", types.KM1))
	require.NoError(t, err)

	_, err = b.Drain(types.KM1, 2)
	assert.ErrorIs(t, err, ErrOutOfSize)
	_, err = b.Drain(types.KM1, 0)
	assert.ErrorIs(t, err, ErrOutOfSize)
	assert.Equal(t, 1, b.Len(types.KM1), "failed drain must not mutate")

	_, err = b.Drain("KM42", 1)
	assert.ErrorIs(t, err, ErrUnknownDistance)
}

func TestSatisfyCountNonPositive(t *testing.T) {
	b := NewBuffer(0)
	assert.False(t, b.SatisfyCount(types.KM1, 0))
	assert.False(t, b.SatisfyCount(types.KM1, -1))
}

func TestAddIsIdempotentPerDistance(t *testing.T) {
	b := NewBuffer(0)
	added, err := b.Add(user("a", types.KM3))
	require.NoError(t, err)
	assert.True(t, added)

	added, err = b.Add(user("a", types.KM3))
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, b.Len(types.KM3))
}

func TestAddMovesBetweenDistances(t *testing.T) {
	b := NewBuffer(0)
	_, _ = b.Add(user("a", types.KM3))
	_, _ = b.Add(user("b", types.KM3))

	added, err := b.Add(user("a", types.KM10))
	require.NoError(t, err)
	assert.True(t, added)

	snap := b.Snapshot()
	assert.Equal(t, []string{"b"}, snap[types.KM3])
	assert.Equal(t, []string{"a"}, snap[types.KM10])
}

func TestAddRejectsUnknownDistance(t *testing.T) {
	b := NewBuffer(0)
	_, err := b.Add(user("a", "MARATHON"))
	assert.ErrorIs(t, err, ErrUnknownDistance)
	assert.False(t, b.HasElement("a"))
}

func TestAddRespectsCapacity(t *testing.T) {
	b := NewBuffer(1)
	_, err := b.Add(user("a", types.KM1))
	require.NoError(t, err)
	_, err = b.Add(user("b", types.KM1))
	assert.ErrorIs(t, err, ErrBufferFull)

	// other partitions are bounded independently
	_, err = b.Add(user("b", types.KM3))
	assert.NoError(t, err)
}

func TestHasElementAndRemove(t *testing.T) {
	b := NewBuffer(0)
	_, _ = b.Add(user("a", types.KM1))
	_, _ = b.Add(user("b", types.KM1))

	assert.True(t, b.HasElement("a"))
	assert.True(t, b.Remove("a"))
	assert.False(t, b.HasElement("a"))
	assert.False(t, b.Remove("a"))

	ids, err := b.Drain(types.KM1, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
	assert.False(t, b.HasElement("b"))
}

func TestConcurrentAddAndDrain(t *testing.T) {
	b := NewBuffer(0)
	const n = 200

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = b.Add(user(fmt.Sprintf("u%d", i), types.KM5))
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for b.SatisfyCount(types.KM5, 2) {
		ids, err := b.Drain(types.KM5, 2)
		require.NoError(t, err)
		for _, id := range ids {
			assert.False(t, seen[id], "drained twice: %s", id)
			seen[id] = true
		}
	}
	assert.Len(t, seen, n)
}
