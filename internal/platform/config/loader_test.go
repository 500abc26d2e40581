package config

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_Load(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "client.yaml")

	configContent := `
server:
  api_base_url: "https://verify.example.com/api"
  timeout: 10s
  retry_attempts: 2
auth:
  use_token_expiry: true
log:
  log_level: "DEBUG"
  log_dir: "/tmp/logs"
credential_store:
  type: sqlite
`
	require.NoError(t, os.WriteFile(configFile, []byte(configContent), 0o644))

	res, err := NewLoader().WithDotEnv(false).WithPath(configFile).Load()
	require.NoError(t, err)

	cfg := res.Config
	assert.Equal(t, configFile, res.Path)
	assert.Equal(t, "https://verify.example.com/api", cfg.Server.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Server.Timeout)
	assert.Equal(t, 2, cfg.Server.RetryAttempts)
	assert.True(t, cfg.Auth.UseTokenExpiry)
	assert.Equal(t, "DEBUG", cfg.Log.Level)
	assert.Equal(t, "sqlite", cfg.CredentialStore.Type)
	// untouched sections keep defaults
	assert.Equal(t, 5, cfg.Verification.MaxAttempts)
	assert.Equal(t, 25*time.Second, cfg.Realtime.PingInterval)
}

func TestLoader_MissingDefaultFileUsesDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv(PathEnv, "")

	res, err := NewLoader().WithDotEnv(false).Load()
	require.NoError(t, err)
	assert.Empty(t, res.Path)
	assert.Equal(t, DefaultConfig().Server.BaseURL, res.Config.Server.BaseURL)
}

func TestLoader_ExplicitMissingFileFails(t *testing.T) {
	_, err := NewLoader().WithDotEnv(false).WithPath(filepath.Join(t.TempDir(), "nope.yaml")).Load()
	assert.Error(t, err)
}

func TestLoader_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv(PathEnv, "")
	t.Setenv("API_BASE_URL", "http://10.0.0.4:8000/api")
	t.Setenv("API_TIMEOUT", "12.5")
	t.Setenv("API_RETRY_ATTEMPTS", "5")
	t.Setenv("SESSION_TIMEOUT", "600")
	t.Setenv("LOG_LEVEL", "WARN")

	res, err := NewLoader().WithDotEnv(false).Load()
	require.NoError(t, err)

	cfg := res.Config
	assert.Equal(t, "http://10.0.0.4:8000/api", cfg.Server.BaseURL)
	assert.Equal(t, 12500*time.Millisecond, cfg.Server.Timeout)
	assert.Equal(t, 5, cfg.Server.RetryAttempts)
	assert.Equal(t, 600*time.Second, cfg.Auth.SessionTimeout)
	assert.Equal(t, "WARN", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "relative base url", mutate: func(c *Config) { c.Server.BaseURL = "/api" }, wantErr: true},
		{name: "ftp base url", mutate: func(c *Config) { c.Server.BaseURL = "ftp://host/api" }, wantErr: true},
		{name: "zero timeout", mutate: func(c *Config) { c.Server.Timeout = 0 }, wantErr: true},
		{name: "invalid control port", mutate: func(c *Config) { c.ControlAPI.Port = 70000 }, wantErr: true},
		{name: "disabled control api ignores port", mutate: func(c *Config) {
			c.ControlAPI.Enabled = false
			c.ControlAPI.Port = 0
		}},
		{name: "unknown store", mutate: func(c *Config) { c.CredentialStore.Type = "keyring" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRealtimeURL(t *testing.T) {
	tests := []struct {
		base, want, origin string
	}{
		{"http://localhost:8000/api", "ws://localhost:8000/ws/auth/42/?token=abc", "http://localhost:8000"},
		{"https://verify.example.com/api/", "wss://verify.example.com/ws/auth/42/?token=abc", "https://verify.example.com"},
		{"https://verify.example.com/v2/api", "wss://verify.example.com/v2/ws/auth/42/?token=abc", "https://verify.example.com"},
	}
	for _, tt := range tests {
		s := ServerConfig{BaseURL: tt.base}
		got, err := s.RealtimeURL("42", "abc")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)

		origin, err := s.Origin()
		require.NoError(t, err)
		assert.Equal(t, tt.origin, origin)
	}
}

func TestRealtimeURLEscapesUserIDOnce(t *testing.T) {
	s := ServerConfig{BaseURL: "http://localhost:8000/api"}
	tests := []struct{ id, want string }{
		{"a b", "ws://localhost:8000/ws/auth/a%20b/?token=t%2B1"},
		{"a/b", "ws://localhost:8000/ws/auth/a%2Fb/?token=t%2B1"},
		{"50%", "ws://localhost:8000/ws/auth/50%25/?token=t%2B1"},
	}
	for _, tt := range tests {
		got, err := s.RealtimeURL(tt.id, "t+1")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)

		u, err := url.Parse(got)
		require.NoError(t, err)
		assert.Equal(t, "/ws/auth/"+tt.id+"/", u.Path)
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
