package blobstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store keeping values as plain Redis strings named "<bucket>/<key>".
type Redis struct {
	client *redis.Client
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &Redis{client: rdb}, nil
}

func (r *Redis) Read(ctx context.Context, bucket, key string) (string, error) {
	v, err := r.client.Get(ctx, objectName(bucket, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", objectName(bucket, key), err)
	}
	return v, nil
}

func (r *Redis) Write(ctx context.Context, bucket, key, value string) error {
	if err := r.client.Set(ctx, objectName(bucket, key), value, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", objectName(bucket, key), err)
	}
	return nil
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
