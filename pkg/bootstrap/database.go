package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"natsgate/internal/config"
	"natsgate/internal/logger"
)

// InitRedis connects when Redis is configured. A nil client means Redis is
// disabled.
func InitRedis(ctx context.Context, cfg config.RedisConfig, log logger.Logger) (*redis.Client, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	log.InfowCtx(ctx, "Redis connected successfully", "host", cfg.Host, "port", cfg.Port)
	return rdb, nil
}

func ShutdownRedis(rdb *redis.Client) []error {
	if rdb == nil {
		return nil
	}
	if err := rdb.Close(); err != nil {
		return []error{fmt.Errorf("redis close error: %w", err)}
	}
	return nil
}
