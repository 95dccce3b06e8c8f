package queue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	q, err := newWithOptions(&redis.Options{Addr: mr.Addr()})
	require.NoError(t, err)

	return q, mr
}

func TestNew_EmptyURLDisablesQueue(t *testing.T) {
	q, err := New("")
	assert.NoError(t, err)
	assert.Nil(t, q)

	// A nil Queue must behave as a no-op, not panic.
	q.Push(context.Background(), "room-1", "hello")
	_, ok := q.PopOne(context.Background(), "room-1")
	assert.False(t, ok)
}

func TestPushThenPop_FIFO(t *testing.T) {
	q, mr := newTestQueue(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()

	ctx := context.Background()
	q.Push(ctx, "lobby", "first")
	q.Push(ctx, "lobby", "second")

	msg, ok := q.PopOne(ctx, "lobby")
	require.True(t, ok)
	assert.Equal(t, "first", msg)

	msg, ok = q.PopOne(ctx, "lobby")
	require.True(t, ok)
	assert.Equal(t, "second", msg)

	_, ok = q.PopOne(ctx, "lobby")
	assert.False(t, ok, "backlog should be empty after draining")
}

func TestPopOne_EmptyRoom(t *testing.T) {
	q, mr := newTestQueue(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()

	_, ok := q.PopOne(context.Background(), "never-used")
	assert.False(t, ok)
}

func TestPush_TTLRefreshed(t *testing.T) {
	q, mr := newTestQueue(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()

	q.Push(context.Background(), "ttl-room", "msg")
	ttl := mr.TTL(key("ttl-room"))
	assert.Equal(t, backlogTTL, ttl)
}

func TestPopOne_RepeatedEmptyDoesNotTripBreaker(t *testing.T) {
	q, mr := newTestQueue(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()

	ctx := context.Background()

	// A run of joins into quiet rooms pops an empty list every time; this
	// must never be mistaken for a store outage and trip the breaker.
	for i := 0; i < 20; i++ {
		_, ok := q.PopOne(ctx, "quiet-room")
		assert.False(t, ok)
	}

	q.Push(ctx, "quiet-room", "m1")
	msg, ok := q.PopOne(ctx, "quiet-room")
	require.True(t, ok, "breaker must still be closed after many empty pops")
	assert.Equal(t, "m1", msg)
}

func TestQueue_GracefulOnStoreDown(t *testing.T) {
	q, mr := newTestQueue(t)
	mr.Close()

	ctx := context.Background()

	// Must not panic even though the store is unreachable.
	q.Push(ctx, "room-1", "msg")
	_, ok := q.PopOne(ctx, "room-1")
	assert.False(t, ok)
}
