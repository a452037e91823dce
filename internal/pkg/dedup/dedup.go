package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Client is the subset of redis.Cmdable the guard needs.
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Guard drops repeated gateway notifications before they reach the
// database. It is only a fast path: the database stays authoritative, so a
// Redis outage lets everything through.
type Guard struct {
	client Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewGuard(client Client, ttl time.Duration, logger zerolog.Logger) *Guard {
	return &Guard{client: client, ttl: ttl, logger: logger}
}

func WebhookKey(paymentRef, event string, amountCents int64) string {
	return fmt.Sprintf("webhook:%s:%s:%d", paymentRef, event, amountCents)
}

// Acquire reports whether key is seen for the first time.
func (g *Guard) Acquire(ctx context.Context, key string) bool {
	if g == nil || g.client == nil {
		return true
	}
	ok, err := g.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		g.logger.Warn().Err(err).Str("key", key).Msg("dedup unavailable, processing anyway")
		return true
	}
	return ok
}

// Release forgets key so a failed delivery can be retried.
func (g *Guard) Release(ctx context.Context, key string) {
	if g == nil || g.client == nil {
		return
	}
	if err := g.client.Del(ctx, key).Err(); err != nil {
		g.logger.Warn().Err(err).Str("key", key).Msg("failed to release dedup key")
	}
}
