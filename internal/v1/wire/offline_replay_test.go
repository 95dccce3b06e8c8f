package wire

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/relaywire/server/internal/v1/queue"
)

// newRedisBackedRegistry builds a Registry wired to a real *queue.Queue
// backed by miniredis, exercising the offline-queue fallback end to end.
func newRedisBackedRegistry(t *testing.T) (*Registry, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}

	q, err := queue.New("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}

	return NewRegistry(q), func() {
		q.Close()
		mr.Close()
	}
}

func TestOfflineReplay_BroadcastToEmptyRoomThenJoin(t *testing.T) {
	r, cleanup := newRedisBackedRegistry(t)
	defer cleanup()
	ctx := context.Background()

	r.BroadcastToRoom(ctx, "r3", "m1")

	id := NewClientID()
	out := make(chan []byte, 4)
	r.AddClient(id, out)
	r.JoinRoom(ctx, "r3", id)

	select {
	case msg := <-out:
		if string(msg) != "m1" {
			t.Fatalf("got %q, want m1", msg)
		}
	default:
		t.Fatal("expected the queued backlog to replay on join")
	}

	select {
	case msg := <-out:
		t.Fatalf("backlog should be drained after one replay, got extra message %q", msg)
	default:
	}
}

// TestOfflineReplay_ManyEmptyJoinsThenRealBroadcast guards against the
// offline queue's circuit breaker mistaking a run of ordinary joins into
// quiet rooms (each popping an empty backlog) for a store outage: a
// subsequent broadcast to a now-empty room must still be queued and
// replayed on the next join, not dropped by an open breaker.
func TestOfflineReplay_ManyEmptyJoinsThenRealBroadcast(t *testing.T) {
	r, cleanup := newRedisBackedRegistry(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		id := NewClientID()
		out := make(chan []byte, 4)
		r.AddClient(id, out)
		r.JoinRoom(ctx, "r4", id)
		r.LeaveRoom("r4", id)
		r.RemoveClient(id)
	}

	r.BroadcastToRoom(ctx, "r4", "m2")

	id := NewClientID()
	out := make(chan []byte, 4)
	r.AddClient(id, out)
	r.JoinRoom(ctx, "r4", id)

	select {
	case msg := <-out:
		if string(msg) != "m2" {
			t.Fatalf("got %q, want m2", msg)
		}
	default:
		t.Fatal("expected the queued backlog to replay after many empty joins")
	}
}
