package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/asascience/matos/internal/config"
)

// NewRedis parses the configured URL and waits for the server the same way
// NewMariaDB does. Sessions and rate-limit counters live here; both are
// small single-key operations, so short socket timeouts apply.
func NewRedis(cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second

	client := redis.NewClient(opts)
	ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	if err := pingWithBackoff("redis", ping, 5); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
