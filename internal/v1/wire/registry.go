// Package wire implements the connection admission engine: the in-memory
// client/room registry and the per-connection lifecycle built around an
// upgraded frame socket.
package wire

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/relaywire/server/internal/v1/logging"
	"github.com/relaywire/server/internal/v1/metrics"
	"github.com/relaywire/server/internal/v1/queue"
)

// ClientID is a stable, opaque identifier for one live connection. It is a
// monotonically increasing counter rather than the remote peer address, so
// multiple clients behind the same NAT never collide.
type ClientID uint64

// nextID hands out ClientIDs. Starting at zero and incrementing atomically
// keeps allocation lock-free even under heavy concurrent upgrades.
var nextID atomic.Uint64

// NewClientID returns the next unused ClientID.
func NewClientID() ClientID {
	return ClientID(nextID.Add(1))
}

// outboundBuffer is the size of a client's delivery channel. It is large
// enough to absorb a burst of broadcasts between sender wake-ups without
// blocking the registry's single guard; a full channel degrades to the
// requeue-on-send-failure path rather than blocking the broadcaster.
const outboundBuffer = 256

// offlineQueue is the subset of *queue.Queue the registry depends on.
// Narrowing to an interface keeps the registry's offline-queue fallback
// substitutable in tests without reaching into the queue package's
// unexported constructors.
type offlineQueue interface {
	Push(ctx context.Context, room, message string)
	PopOne(ctx context.Context, room string) (string, bool)
}

// Registry is the in-memory, mutex-guarded map of live clients and room
// membership. A single mutex serializes every operation, which is also what
// gives broadcast delivery its per-room ordering guarantee: each channel
// write happens while the guard is held.
type Registry struct {
	mu      sync.Mutex
	clients map[ClientID]chan []byte
	rooms   map[string][]ClientID
	queue   offlineQueue
}

// NewRegistry builds an empty Registry. q may be nil, in which case the
// offline-queue fallback is a no-op.
func NewRegistry(q *queue.Queue) *Registry {
	reg := &Registry{
		clients: make(map[ClientID]chan []byte),
		rooms:   make(map[string][]ClientID),
	}
	if q != nil {
		reg.queue = q
	}
	return reg
}

// AddClient inserts id into the client map. A duplicate id overwrites the
// prior channel (last writer wins); the displaced channel is closed, so its
// owning sender goroutine observes the closure on its next read from it.
func (r *Registry) AddClient(id ClientID, out chan []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.clients[id]; ok && prev != out {
		close(prev)
	}
	r.clients[id] = out
	metrics.IncConnection()
}

// RemoveClient deletes id from the client map. It does not touch room
// membership; callers are responsible for also calling LeaveRoom for every
// room the client joined, which the handler's Closing state does on every
// exit path.
func (r *Registry) RemoveClient(id ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[id]; !ok {
		return
	}
	delete(r.clients, id)
	metrics.DecConnection()
}

// JoinRoom appends id to room's membership if it is not already present,
// then drains any backlog queued for room while it was empty, re-broadcasting
// each message in turn. The drain happens under the same guard acquisition
// as the join, so no other client can join or leave mid-drain: each popped
// message reaches whoever is in the room at the moment of that pop, which is
// the joiner plus any members already present -- not only the client that
// triggered the drain. The backlog is a best-effort replay, not a per-client
// inbox.
func (r *Registry) JoinRoom(ctx context.Context, room string, id ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[room]
	found := false
	for _, m := range members {
		if m == id {
			found = true
			break
		}
	}
	if !found {
		r.rooms[room] = append(members, id)
	}
	metrics.RoomMembers.WithLabelValues(room).Set(float64(len(r.rooms[room])))
	if !found && len(r.rooms[room]) == 1 {
		metrics.ActiveRooms.Inc()
	}

	if r.queue == nil {
		return
	}
	for {
		msg, ok := r.queue.PopOne(ctx, room)
		if !ok {
			return
		}
		r.broadcastLocked(ctx, room, msg)
	}
}

// LeaveRoom removes id from room's membership. If membership becomes empty
// the room entry is deleted outright: empty rooms do not persist.
func (r *Registry) LeaveRoom(room string, id ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[room]
	for i, m := range members {
		if m == id {
			members = append(members[:i], members[i+1:]...)
			break
		}
	}

	if len(members) == 0 {
		delete(r.rooms, room)
		metrics.RoomMembers.DeleteLabelValues(room)
		metrics.ActiveRooms.Dec()
		return
	}
	r.rooms[room] = members
	metrics.RoomMembers.WithLabelValues(room).Set(float64(len(members)))
}

// BroadcastToRoom fans message out to every live member of room. If room has
// no members it falls through to the offline queue. A per-member send
// failure (a full delivery channel: a slow peer, or one already being torn
// down) is requeued rather than propagated -- the broadcast endpoint always
// succeeds once authorization passes.
func (r *Registry) BroadcastToRoom(ctx context.Context, room, message string) {
	start := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(ctx, room, message)
	metrics.BroadcastDuration.WithLabelValues("delivered").Observe(time.Since(start).Seconds())
}

// broadcastLocked is BroadcastToRoom's body, callable while the guard is
// already held (used by JoinRoom's backlog drain).
func (r *Registry) broadcastLocked(ctx context.Context, room, message string) {
	members, ok := r.rooms[room]
	if !ok || len(members) == 0 {
		r.enqueue(ctx, room, message)
		metrics.BroadcastsTotal.WithLabelValues("queued").Inc()
		return
	}

	delivered := 0
	for _, id := range members {
		out, ok := r.clients[id]
		if !ok {
			continue
		}
		select {
		case out <- []byte(message):
			delivered++
		default:
			logging.Warn(ctx, "dropping message to slow or closed client, requeueing", zap.String("room", room), zap.Uint64("client", uint64(id)))
			r.enqueue(ctx, room, message)
		}
	}
	metrics.BroadcastsTotal.WithLabelValues("delivered").Add(float64(delivered))
}

// enqueue pushes message to the offline queue. A nil queue makes this a
// no-op, matching single-instance deployments without an offline store.
func (r *Registry) enqueue(ctx context.Context, room, message string) {
	if r.queue == nil {
		return
	}
	r.queue.Push(ctx, room, message)
}

// Stats reports the live connection and room counts for the /stats endpoint.
func (r *Registry) Stats() (connections, rooms int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients), len(r.rooms)
}

// AtCapacity reports whether the registry already holds at least limit
// clients. The check and any subsequent registration are not atomic; this is
// accepted, not a bug.
func (r *Registry) AtCapacity(limit int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients) >= limit
}
