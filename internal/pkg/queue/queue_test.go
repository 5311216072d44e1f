package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return client, cleanup
}

func TestQueue_PushSetsEnqueuedAt(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	q := NewQueue(client, "memory_queue")
	ctx := context.Background()

	job := &MemoryIndexJob{OwnerKey: "42", Mode: "Lovely", MessageIDs: []string{"a", "b"}}
	require.NoError(t, q.Push(ctx, job))
	assert.NotZero(t, job.EnqueuedAt)

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)
}

func TestQueue_Pop(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		q := NewQueue(client, "test_pop_queue")

		require.NoError(t, q.Push(ctx, &MemoryIndexJob{
			OwnerKey:   "guest_abc",
			Mode:       "Mystic",
			MessageIDs: []string{"u1", "a1"},
			EnqueuedAt: 1700000000,
		}))

		job, err := q.Pop(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, job)

		assert.Equal(t, "guest_abc", job.OwnerKey)
		assert.Equal(t, "Mystic", job.Mode)
		assert.Equal(t, []string{"u1", "a1"}, job.MessageIDs)
		assert.Equal(t, int64(1700000000), job.EnqueuedAt)
	})

	t.Run("pop FIFO order", func(t *testing.T) {
		q := NewQueue(client, "test_fifo_queue")

		for _, owner := range []string{"1", "2", "3"} {
			require.NoError(t, q.Push(ctx, &MemoryIndexJob{OwnerKey: owner}))
		}

		for _, owner := range []string{"1", "2", "3"} {
			job, err := q.Pop(ctx, time.Second)
			require.NoError(t, err)
			require.NotNil(t, job)
			assert.Equal(t, owner, job.OwnerKey)
		}
	})

	t.Run("pop from empty queue times out", func(t *testing.T) {
		q := NewQueue(client, "test_empty_queue")

		job, err := q.Pop(ctx, 10*time.Millisecond)

		// miniredis 对 BRPop 超时支持不完整，只在无错误时断言
		if err == nil {
			assert.Nil(t, job)
		}
	})

	t.Run("malformed payload", func(t *testing.T) {
		q := NewQueue(client, "test_bad_queue")
		require.NoError(t, client.LPush(ctx, "test_bad_queue", "{not json").Err())

		_, err := q.Pop(ctx, time.Second)
		assert.Error(t, err)
	})
}

func TestQueue_MultipleQueues(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()

	q1 := NewQueue(client, "queue_1")
	q2 := NewQueue(client, "queue_2")

	require.NoError(t, q1.Push(ctx, &MemoryIndexJob{OwnerKey: "1"}))
	require.NoError(t, q2.Push(ctx, &MemoryIndexJob{OwnerKey: "2"}))

	len1, _ := q1.Length(ctx)
	len2, _ := q2.Length(ctx)
	assert.Equal(t, int64(1), len1)
	assert.Equal(t, int64(1), len2)

	r1, _ := q1.Pop(ctx, time.Second)
	r2, _ := q2.Pop(ctx, time.Second)
	assert.Equal(t, "1", r1.OwnerKey)
	assert.Equal(t, "2", r2.OwnerKey)
}
