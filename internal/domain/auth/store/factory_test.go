package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchant-verify-client/internal/platform/storage"
)

func newDrivers(t *testing.T) map[string]Store {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "creds.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })

	mr := miniredis.RunT(t)

	drivers := map[string]Store{}
	for _, cfg := range []Config{
		{Driver: DriverMemory},
		{Driver: DriverSQLite},
		{Driver: DriverRedis, Redis: &RedisConfig{Addr: mr.Addr(), Prefix: "test"}},
	} {
		s, err := New(cfg, Dependencies{SQLiteDB: db})
		require.NoError(t, err, cfg.Driver)
		t.Cleanup(func() { _ = s.Close(context.Background()) })
		drivers[cfg.Driver] = s
	}
	return drivers
}

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, s := range newDrivers(t) {
		t.Run(name, func(t *testing.T) {
			has, err := s.Has(ctx)
			require.NoError(t, err)
			assert.False(t, has)

			_, ok, err := s.Get(ctx)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Store(ctx, "operator", "first-secret"))
			require.NoError(t, s.Store(ctx, "operator2", "second-secret"))

			creds, ok, err := s.Get(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "operator2", creds.Username)
			assert.Equal(t, "second-secret", creds.Secret)
			assert.WithinDuration(t, time.Now(), creds.SavedAt, time.Minute)

			has, err = s.Has(ctx)
			require.NoError(t, err)
			assert.True(t, has)

			require.NoError(t, s.Clear(ctx))
			has, err = s.Has(ctx)
			require.NoError(t, err)
			assert.False(t, has)
		})
	}
}

func TestRedisTTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	s, err := New(Config{Driver: DriverRedis, Redis: &RedisConfig{Addr: mr.Addr(), TTL: time.Minute}}, Dependencies{})
	require.NoError(t, err)
	defer s.Close(ctx)

	require.NoError(t, s.Store(ctx, "operator", "secret"))
	mr.FastForward(2 * time.Minute)

	_, ok, err := s.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFactoryErrors(t *testing.T) {
	_, err := New(Config{Driver: DriverSQLite}, Dependencies{})
	assert.Error(t, err)

	_, err = New(Config{Driver: DriverRedis}, Dependencies{})
	assert.Error(t, err)

	_, err = New(Config{Driver: "keyring"}, Dependencies{})
	assert.Error(t, err)

	s, err := New(Config{}, Dependencies{})
	require.NoError(t, err)
	assert.NoError(t, s.Close(context.Background()))
}
