package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"merchant-verify-client/internal/platform/errors"
)

const (
	// DefaultConfigFile is read from the working directory when present.
	DefaultConfigFile = ".config.yaml"
	// PathEnv overrides the config file location.
	PathEnv = "VERIFY_CLIENT_CONFIG"
)

// Loader assembles configuration from defaults, a yaml file, .env and the environment.
type Loader struct {
	useDotEnv bool
	path      string
}

// NewLoader creates a loader with .env support enabled.
func NewLoader() *Loader {
	return &Loader{useDotEnv: true}
}

// WithDotEnv toggles loading variables from a .env file before reading the environment.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath forces a config file path.
func (l *Loader) WithPath(path string) *Loader {
	l.path = path
	return l
}

// Result captures the loaded configuration and the file it came from, if any.
type Result struct {
	Config *Config
	Path   string
}

// envOverrides lists the variables honoured on top of the file. Durations are in seconds.
type envOverrides struct {
	APIBaseURL       *string  `env:"API_BASE_URL"`
	APITimeout       *float64 `env:"API_TIMEOUT"`
	APIRetryAttempts *int     `env:"API_RETRY_ATTEMPTS"`
	APIRetryDelay    *float64 `env:"API_RETRY_DELAY"`
	SessionTimeout   *float64 `env:"SESSION_TIMEOUT"`
	LogLevel         *string  `env:"LOG_LEVEL"`
	LogDir           *string  `env:"LOG_DIR"`
	LogFile          *string  `env:"LOG_FILE"`
	CredentialStore  *string  `env:"CREDENTIAL_STORE"`
	RedisAddr        *string  `env:"REDIS_ADDR"`
	ControlPort      *int     `env:"CONTROL_API_PORT"`
	Locale           *string  `env:"VERIFY_CLIENT_LOCALE"`
}

func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		// A missing .env is normal; the process environment is used instead.
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()
	path := l.resolvePath()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrap(errors.KindConfig, "config.load", "decode "+path, err)
			}
		case os.IsNotExist(err) && l.path == "":
			path = ""
		default:
			return nil, errors.Wrap(errors.KindConfig, "config.load", "read "+path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, errors.Wrap(errors.KindConfig, "config.load", "environment overrides", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return &Result{Config: cfg, Path: path}, nil
}

func (l *Loader) resolvePath() string {
	if l.path != "" {
		return l.path
	}
	if p := strings.TrimSpace(os.Getenv(PathEnv)); p != "" {
		return p
	}
	return DefaultConfigFile
}

func applyEnv(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if o.APIBaseURL != nil {
		cfg.Server.BaseURL = *o.APIBaseURL
	}
	if o.APITimeout != nil {
		cfg.Server.Timeout = seconds(*o.APITimeout)
	}
	if o.APIRetryAttempts != nil {
		cfg.Server.RetryAttempts = *o.APIRetryAttempts
	}
	if o.APIRetryDelay != nil {
		cfg.Server.RetryDelay = seconds(*o.APIRetryDelay)
	}
	if o.SessionTimeout != nil {
		cfg.Auth.SessionTimeout = seconds(*o.SessionTimeout)
	}
	if o.LogLevel != nil {
		cfg.Log.Level = *o.LogLevel
	}
	if o.LogDir != nil {
		cfg.Log.Dir = *o.LogDir
	}
	if o.LogFile != nil {
		cfg.Log.File = *o.LogFile
	}
	if o.CredentialStore != nil {
		cfg.CredentialStore.Type = *o.CredentialStore
	}
	if o.RedisAddr != nil {
		cfg.CredentialStore.Redis.Addr = *o.RedisAddr
	}
	if o.ControlPort != nil {
		cfg.ControlAPI.Port = *o.ControlPort
	}
	if o.Locale != nil {
		cfg.Locale = *o.Locale
	}
	return nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// Validate rejects configurations the client cannot run with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New(errors.KindConfig, "config.validate", "config is nil")
	}
	u, err := url.Parse(cfg.Server.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New(errors.KindConfig, "config.validate",
			fmt.Sprintf("api_base_url must be an absolute http(s) URL, got %q", cfg.Server.BaseURL))
	}
	if cfg.Server.Timeout <= 0 {
		return errors.New(errors.KindConfig, "config.validate", "server.timeout must be positive")
	}
	if cfg.Server.RetryAttempts < 0 {
		return errors.New(errors.KindConfig, "config.validate", "server.retry_attempts must not be negative")
	}
	if cfg.Auth.SessionTimeout <= 0 || cfg.Auth.TokenTTL <= 0 {
		return errors.New(errors.KindConfig, "config.validate", "auth timeouts must be positive")
	}
	if cfg.Verification.MaxAttempts <= 0 || cfg.Verification.CodeLength <= 0 {
		return errors.New(errors.KindConfig, "config.validate", "verification limits must be positive")
	}
	if cfg.ControlAPI.Enabled && (cfg.ControlAPI.Port <= 0 || cfg.ControlAPI.Port > 65535) {
		return errors.New(errors.KindConfig, "config.validate",
			fmt.Sprintf("invalid control_api.port: %d", cfg.ControlAPI.Port))
	}
	switch strings.ToLower(cfg.CredentialStore.Type) {
	case "", "memory", "sqlite", "redis":
	default:
		return errors.New(errors.KindConfig, "config.validate",
			fmt.Sprintf("unsupported credential_store.type %q", cfg.CredentialStore.Type))
	}
	return nil
}
