package repository

import (
	"context"
	"fmt"
	"time"

	"notisync/internal/config"

	"github.com/redis/go-redis/v9"
)

type RedisSentCounter struct {
	client *redis.Client
	window time.Duration
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisSentCounter(client *redis.Client, window time.Duration) *RedisSentCounter {
	if window <= 0 {
		window = time.Hour
	}
	return &RedisSentCounter{client: client, window: window}
}

func sentKey(recipientID int64) string {
	return fmt.Sprintf("sent_hour:%d", recipientID)
}

func (r *RedisSentCounter) SentLastHour(ctx context.Context, recipientID int64) (int, error) {
	if r.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	count, err := r.client.Get(ctx, sentKey(recipientID)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read sent counter: %w", err)
	}
	return count, nil
}

func (r *RedisSentCounter) RecordSent(ctx context.Context, recipientID int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	key := sentKey(recipientID)
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to increment sent counter: %w", err)
	}
	if count == 1 {
		r.client.Expire(ctx, key, r.window)
	}
	return nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
