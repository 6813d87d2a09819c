package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/slime-worlds/internal/config"
)

// RedisLoader stores each world under <prefix><name>. SET replaces the value atomically.
type RedisLoader struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisLoader connects and pings Redis.
func NewRedisLoader(ctx context.Context, cfg config.RedisConfig) (*RedisLoader, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "slime:world:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, &ConnectionError{Backend: "redis", Err: fmt.Errorf("failed to connect to Redis: %w", err)}
	}

	return &RedisLoader{client: client, keyPrefix: cfg.KeyPrefix}, nil
}

func (r *RedisLoader) key(name string) string {
	return r.keyPrefix + name
}

func (r *RedisLoader) Exists(ctx context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	n, err := r.client.Exists(ctx, r.key(name)).Result()
	if err != nil {
		return false, ioErr("exists", name, err)
	}
	return n > 0, nil
}

// List walks the keyspace with SCAN instead of KEYS to avoid blocking the server.
func (r *RedisLoader) List(ctx context.Context) ([]string, error) {
	var names []string
	iter := r.client.Scan(ctx, 0, r.keyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		names = append(names, strings.TrimPrefix(iter.Val(), r.keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, ioErr("list", "", err)
	}
	return names, nil
}

func (r *RedisLoader) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	data, err := r.client.Get(ctx, r.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, ioErr("read", name, err)
	}
	return data, nil
}

func (r *RedisLoader) Write(ctx context.Context, name string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(name), data, 0).Err(); err != nil {
		return ioErr("write", name, err)
	}
	return nil
}

func (r *RedisLoader) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	n, err := r.client.Del(ctx, r.key(name)).Result()
	if err != nil {
		return ioErr("delete", name, err)
	}
	if n == 0 {
		return notFound(name)
	}
	return nil
}

func (r *RedisLoader) Close() error {
	return r.client.Close()
}
