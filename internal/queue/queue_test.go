package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityOrder(t *testing.T) {
	q := NewInMemoryQueue()

	require.NoError(t, q.Push(&Task{ID: "low-1", Priority: 0}))
	require.NoError(t, q.Push(&Task{ID: "high", Priority: 5}))
	require.NoError(t, q.Push(&Task{ID: "low-2", Priority: 0}))

	ctx := context.Background()
	var got []string
	for i := 0; i < 3; i++ {
		task, err := q.Pop(ctx)
		require.NoError(t, err)
		got = append(got, task.ID)
	}

	assert.Equal(t, []string{"high", "low-1", "low-2"}, got)
	assert.Equal(t, 0, q.Size())
}

func TestPushStampsCreatedAt(t *testing.T) {
	q := NewInMemoryQueue()
	task := &Task{ID: "a"}
	require.NoError(t, q.Push(task))
	assert.False(t, task.CreatedAt.IsZero())
}

func TestPopWaitsForPush(t *testing.T) {
	q := NewInMemoryQueue()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Push(&Task{ID: "late"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	task, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "late", task.ID)
}

func TestPopHonoursContext(t *testing.T) {
	q := NewInMemoryQueue()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseDrainsThenFails(t *testing.T) {
	q := NewInMemoryQueue()
	require.NoError(t, q.Push(&Task{ID: "a"}))
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Push(&Task{ID: "b"}), ErrQueueClosed)

	task, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", task.ID)

	_, err = q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestCloseWakesWaiters(t *testing.T) {
	q := NewInMemoryQueue()
	errc := make(chan error, 1)

	go func() {
		_, err := q.Pop(context.Background())
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Close")
	}
}

func TestBoundedQueueRejectsOverflow(t *testing.T) {
	q := NewBoundedQueue(2)
	require.NoError(t, q.Push(&Task{ID: "a"}))
	require.NoError(t, q.Push(&Task{ID: "b"}))
	assert.ErrorIs(t, q.Push(&Task{ID: "c"}), ErrQueueFull)

	_, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.NoError(t, q.Push(&Task{ID: "c"}))
}
