package testing

import (
	"io"
	"path/filepath"
	"testing"

	"merchant-verify-client/internal/domain/eventbus"
	"merchant-verify-client/internal/platform/config"
	"merchant-verify-client/internal/platform/logging"
)

// SetupTestConfig returns defaults pointed at a throwaway directory with
// every network surface disabled.
func SetupTestConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Server.BaseURL = "http://127.0.0.1:1/api"
	cfg.Server.RetryAttempts = 0
	cfg.Realtime.Enabled = false
	cfg.ControlAPI.Enabled = false
	cfg.Auth.AutoRefresh = false
	cfg.Storage.Enabled = true
	cfg.Storage.DSN = filepath.Join(dir, "verify-client.db")
	cfg.CredentialStore.Type = "memory"
	cfg.Log = config.LogConfig{
		Level: "DEBUG",
		Dir:   filepath.Join(dir, "logs"),
		File:  "test.log",
	}
	return cfg
}

func SetupTestLogger(t *testing.T) *logging.Logger {
	t.Helper()

	cfg := SetupTestConfig(t)
	logger, err := logging.New(logging.Config{
		Level:    cfg.Log.Level,
		Dir:      cfg.Log.Dir,
		Filename: cfg.Log.File,
		Console:  io.Discard,
	})
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })

	return logger
}

// SetupTestBus returns a bus closed at the end of the test.
func SetupTestBus(t *testing.T) *eventbus.Bus {
	t.Helper()

	bus := eventbus.New(nil, 2)
	t.Cleanup(bus.Close)
	return bus
}

func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}

func AssertEqual(t *testing.T, expected, actual interface{}) {
	t.Helper()
	if expected != actual {
		t.Fatalf("expected %v, got %v", expected, actual)
	}
}
