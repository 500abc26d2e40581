package store

import (
	"context"
	"time"

	"merchant-verify-client/internal/domain/auth/model"
)

// Store keeps at most one remembered credential pair.
type Store interface {
	Store(ctx context.Context, username, secret string) error
	// Get reports false when nothing is stored.
	Get(ctx context.Context) (model.Credentials, bool, error)
	Clear(ctx context.Context) error
	Has(ctx context.Context) (bool, error)
	Close(ctx context.Context) error
}

// Config describes the store selection parameters.
type Config struct {
	Driver string
	Redis  *RedisConfig
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
	// TTL of zero keeps the credential until cleared.
	TTL time.Duration
}
