package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RateLimiter throttles submissions per document with a fixed
// one-second window in Redis. Ingestion availability beats strictness:
// any Redis failure allows the request.
type RateLimiter struct {
	client *redis.Client
	limit  int
	now    func() time.Time
}

func NewRateLimiter(client *redis.Client, limit int, clock func() time.Time) *RateLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &RateLimiter{client: client, limit: limit, now: clock}
}

// Allow reports whether the document is under its per-second budget.
func (r *RateLimiter) Allow(ctx context.Context, documentID string) bool {
	if r.client == nil || r.limit <= 0 {
		return true
	}

	key := fmt.Sprintf("ratelimit:doc:%s:%d", documentID, r.now().Unix())
	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("document_id", documentID).Msg("Rate limit check failed, allowing")
		return true
	}
	return incr.Val() <= int64(r.limit)
}
