package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"merchant-verify-client/internal/domain/auth/model"
)

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	key    string
}

// NewRedis constructs a redis-backed store.
func NewRedis(cfg Config) (Store, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis configuration missing")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = "verify-client"
	}
	return &redisStore{
		client: client,
		ttl:    cfg.Redis.TTL,
		key:    prefix + ":credentials",
	}, nil
}

func (s *redisStore) Store(ctx context.Context, username, secret string) error {
	data, err := sonic.Marshal(model.Credentials{Username: username, Secret: secret, SavedAt: time.Now()})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key, data, s.ttl).Err()
}

func (s *redisStore) Get(ctx context.Context) (model.Credentials, bool, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Credentials{}, false, nil
	}
	if err != nil {
		return model.Credentials{}, false, err
	}
	var creds model.Credentials
	if err := sonic.Unmarshal(data, &creds); err != nil {
		return model.Credentials{}, false, fmt.Errorf("decode credentials: %w", err)
	}
	return creds, true, nil
}

func (s *redisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

func (s *redisStore) Has(ctx context.Context) (bool, error) {
	n, err := s.client.Exists(ctx, s.key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *redisStore) Close(context.Context) error {
	return s.client.Close()
}
