package database

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// NewRedis returns (nil, nil) when addr is empty. Redis is optional: without
// it webhook dedup falls back to the database.
func NewRedis(addr, password string, db int, logger zerolog.Logger) (*redis.Client, error) {
	if addr == "" {
		logger.Warn().Msg("REDIS_ADDR not configured, running without Redis")
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info().Str("addr", addr).Msg("connected to Redis")
	return client, nil
}

func CloseRedis(client *redis.Client, logger zerolog.Logger) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		logger.Error().Err(err).Msg("error closing Redis connection")
	}
}
