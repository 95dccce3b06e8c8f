// Package queue implements the offline-message fallback for rooms that have
// no live members (or a member whose delivery channel is full). Messages
// pushed here are replayed, in order, to the room's members on the next join.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/relaywire/server/internal/v1/logging"
	"github.com/relaywire/server/internal/v1/metrics"
)

// backlogTTL is refreshed on every push so a room that keeps receiving
// broadcasts while empty doesn't have its backlog expire mid-stream.
const backlogTTL = 24 * time.Hour

// Queue is a circuit-broken, best-effort FIFO backed by a Redis list per
// room. A nil *Queue (or a Queue built without a Redis URL) is valid and
// behaves as a no-op, matching single-instance / Redis-less deployments.
type Queue struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// New connects to the external store at rawURL and verifies it with a PING.
// An empty rawURL returns a nil *Queue, not an error: the caller is expected
// to treat a nil Queue as "offline queue disabled".
func New(rawURL string) (*Queue, error) {
	if rawURL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	return newWithOptions(opts)
}

// newWithOptions builds a Queue from already-parsed options. Exercised
// directly by tests, which point it at a miniredis instance instead of a
// URL string.
func newWithOptions(opts *redis.Options) (*Queue, error) {
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to offline queue store: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "offline-queue",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		IsSuccessful: func(err error) bool {
			// redis.Nil means "list empty" -- the ordinary outcome of popping
			// a room with no backlog, not a store failure. Counting it as a
			// trip condition would open the breaker on nothing but a run of
			// joins into quiet rooms.
			return err == nil || err == redis.Nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("offline_queue").Set(stateVal)
		},
	}

	logging.Info(context.Background(), "connected to offline queue store")
	return &Queue{client: client, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

func key(room string) string {
	return fmt.Sprintf("messages:%s", room)
}

// Push appends message to the tail of room's backlog and refreshes its TTL.
// Failures (including an open circuit) are logged and swallowed: the
// offline queue is a best-effort convenience, never a hard dependency.
func (q *Queue) Push(ctx context.Context, room, message string) {
	if q == nil || q.client == nil {
		return
	}

	start := time.Now()
	_, err := q.cb.Execute(func() (interface{}, error) {
		pipe := q.client.TxPipeline()
		pipe.RPush(ctx, key(room), message)
		pipe.Expire(ctx, key(room), backlogTTL)
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	metrics.QueueOperationDuration.WithLabelValues("push").Observe(time.Since(start).Seconds())

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("offline_queue").Inc()
			metrics.QueueOperationsTotal.WithLabelValues("push", "circuit_open").Inc()
			logging.Warn(ctx, "offline queue circuit open: dropping message", zap.String("room", room))
			return
		}
		metrics.QueueOperationsTotal.WithLabelValues("push", "error").Inc()
		logging.Error(ctx, "offline queue push failed", zap.String("room", room), zap.Error(err))
		return
	}
	metrics.QueueOperationsTotal.WithLabelValues("push", "success").Inc()
}

// PopOne removes and returns the oldest backlogged message for room, if any.
// The second return value is false when the store is unconfigured, the
// circuit is open, or the backlog is empty.
func (q *Queue) PopOne(ctx context.Context, room string) (string, bool) {
	if q == nil || q.client == nil {
		return "", false
	}

	start := time.Now()
	res, err := q.cb.Execute(func() (interface{}, error) {
		return q.client.LPop(ctx, key(room)).Result()
	})
	metrics.QueueOperationDuration.WithLabelValues("pop").Observe(time.Since(start).Seconds())

	if err != nil {
		if err == redis.Nil {
			metrics.QueueOperationsTotal.WithLabelValues("pop", "empty").Inc()
			return "", false
		}
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("offline_queue").Inc()
			metrics.QueueOperationsTotal.WithLabelValues("pop", "circuit_open").Inc()
			return "", false
		}
		metrics.QueueOperationsTotal.WithLabelValues("pop", "error").Inc()
		logging.Error(ctx, "offline queue pop failed", zap.String("room", room), zap.Error(err))
		return "", false
	}

	metrics.QueueOperationsTotal.WithLabelValues("pop", "success").Inc()
	return res.(string), true
}

// Close releases the underlying client. A no-op on a nil or disabled Queue.
func (q *Queue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
