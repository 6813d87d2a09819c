package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/slime-worlds/internal/config"
	"github.com/annel0/slime-worlds/internal/logging"
)

// RedisHot - Hot поверх Redis. Ключ: <prefix><name>.
type RedisHot struct {
	client *redis.Client
	prefix string
}

// NewRedisHot подключается к Redis и проверяет соединение
func NewRedisHot(ctx context.Context, cfg config.CacheConfig) (*RedisHot, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     10,
		PoolTimeout:  30 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Info("🔥 Redis cache initialized: %s", cfg.RedisAddr)
	return &RedisHot{client: client, prefix: cfg.KeyPrefix}, nil
}

func (r *RedisHot) Get(ctx context.Context, name string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.prefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get error: %w", err)
	}
	return val, nil
}

func (r *RedisHot) Set(ctx context.Context, name string, data []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+name, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

func (r *RedisHot) Delete(ctx context.Context, name string) error {
	if err := r.client.Del(ctx, r.prefix+name).Err(); err != nil {
		return fmt.Errorf("redis del error: %w", err)
	}
	return nil
}

func (r *RedisHot) Close() error {
	return r.client.Close()
}
