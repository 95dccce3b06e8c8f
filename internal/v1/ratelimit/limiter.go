// Package ratelimit enforces per-IP request limits in front of the
// authenticated HTTP surface (/broadcast, /sign-wire).
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/relaywire/server/internal/v1/logging"
	"github.com/relaywire/server/internal/v1/metrics"
)

// Limiter holds the per-endpoint limiter instances, all backed by the same
// store.
type Limiter struct {
	api       *limiter.Limiter
	broadcast *limiter.Limiter
}

// New builds a Limiter. apiRate and broadcastRate are formatted rate
// strings understood by limiter.NewRateFromFormatted (e.g. "300-M"). A nil
// redisClient falls back to an in-process memory store, which is correct
// for a single-instance deployment but does not share limit state across
// replicas.
func New(apiRate, broadcastRate string, redisClient *redis.Client) (*Limiter, error) {
	apiR, err := limiter.NewRateFromFormatted(apiRate)
	if err != nil {
		return nil, fmt.Errorf("invalid API rate limit: %w", err)
	}
	broadcastR, err := limiter.NewRateFromFormatted(broadcastRate)
	if err != nil {
		return nil, fmt.Errorf("invalid broadcast rate limit: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "relaywire:ratelimit:"})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis rate-limit store: %w", err)
		}
		store = s
	} else {
		store = memory.NewStore()
	}

	return &Limiter{
		api:       limiter.New(store, apiR),
		broadcast: limiter.New(store, broadcastR),
	}, nil
}

// Middleware returns a Gin middleware keyed by endpoint name and client IP,
// enforcing the named limiter ("api" or "broadcast"), so each endpoint's
// quota is counted separately in the shared store. Store failures fail
// open: a rate-limit outage must never take down the fan-out path.
func (l *Limiter) Middleware(name string) gin.HandlerFunc {
	var inst *limiter.Limiter
	switch name {
	case "broadcast":
		inst = l.broadcast
	default:
		inst = l.api
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := name + ":" + c.ClientIP()

		result, err := inst.Get(ctx, key)
		if err != nil {
			logging.Error(ctx, "rate limiter store failed, failing open", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.Reset, 10))

		metrics.RateLimitRequests.WithLabelValues(name).Inc()

		if result.Reached {
			metrics.RateLimitExceeded.WithLabelValues(name, "ip").Inc()
			c.Header("Retry-After", strconv.FormatInt(result.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"retry_after": result.Reset,
			})
			return
		}

		c.Next()
	}
}
