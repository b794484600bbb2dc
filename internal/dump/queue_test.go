package dump

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePreservesFIFOOrder(t *testing.T) {
	q := NewQueue(0)
	q.Push(1)
	q.Push(2)
	q.Push(3)

	for _, want := range []int{1, 2, 3} {
		item, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, item)
	}
}

func TestQueueDropsOldestWhenAtCapacity(t *testing.T) {
	q := NewQueue(2)
	q.Push(1)
	q.Push(2)
	q.Push(3)

	assert.Equal(t, uint64(1), q.Dropped)

	item, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 2, item)

	item, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, 3, item)
}

func TestQueueStopDrainsThenReturnsFalse(t *testing.T) {
	q := NewQueue(0)
	q.Push("a")
	q.Stop()

	item, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "a", item)

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestQueuePopBlocksUntilPushOrStop(t *testing.T) {
	q := NewQueue(0)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, ok := q.Pop()
		assert.False(t, ok)
	}()
	q.Stop()
	<-done
}
