package live

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](5)

	require.False(t, q.Push(1))
	require.False(t, q.Push(2))
	require.False(t, q.Push(3))
	require.Equal(t, 3, q.Len())
	require.Equal(t, 5, q.Cap())

	for want := 1; want <= 3; want++ {
		got, ok := q.Pop()
		require.True(t, ok)
		require.Equal(t, want, got)
	}

	_, ok := q.Pop()
	require.False(t, ok)
	require.Zero(t, q.Len())
}

func TestQueue_EvictsOldestWhenFull(t *testing.T) {
	t.Parallel()

	q := NewQueue[string](2)

	require.False(t, q.Push("a"))
	require.False(t, q.Push("b"))
	require.True(t, q.Push("c"), "third push must evict")
	require.Equal(t, 2, q.Len())

	got, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, "b", got, "oldest entry is gone")

	got, ok = q.Pop()
	require.True(t, ok)
	require.Equal(t, "c", got)
}

func TestQueue_ZeroCapacityClamped(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](0)
	require.Equal(t, 1, q.Cap())

	q.Push(1)
	require.True(t, q.Push(2))

	got, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, 2, got)
}

func TestQueue_ConcurrentPushPop(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](100)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				q.Push(base*100 + j)
				q.Pop()
			}
		}(i)
	}
	wg.Wait()

	require.LessOrEqual(t, q.Len(), q.Cap())
}
