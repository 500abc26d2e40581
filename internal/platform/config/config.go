package config

import (
	"time"
)

type Config struct {
	Server          ServerConfig          `yaml:"server"`
	Auth            AuthConfig            `yaml:"auth"`
	Realtime        RealtimeConfig        `yaml:"realtime"`
	Verification    VerificationConfig    `yaml:"verification"`
	Dispatcher      DispatcherConfig      `yaml:"dispatcher"`
	Merchant        MerchantConfig        `yaml:"merchant"`
	Storage         StorageConfig         `yaml:"storage"`
	CredentialStore CredentialStoreConfig `yaml:"credential_store"`
	ControlAPI      ControlAPIConfig      `yaml:"control_api"`
	Log             LogConfig             `yaml:"log"`
	Locale          string                `yaml:"locale"`
}

// ServerConfig describes the remote verification API.
type ServerConfig struct {
	BaseURL       string        `yaml:"api_base_url"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	RetryMaxDelay time.Duration `yaml:"retry_max_delay"`
	RetryStatuses []int         `yaml:"retry_statuses"`
	// RetryMethods lists the HTTP methods eligible for retry. Empty means all.
	RetryMethods []string `yaml:"retry_methods"`
}

type AuthConfig struct {
	RefreshThreshold     time.Duration `yaml:"refresh_threshold"`
	RefreshCheckInterval time.Duration `yaml:"refresh_check_interval"`
	SessionTimeout       time.Duration `yaml:"session_timeout"`
	TokenTTL             time.Duration `yaml:"token_ttl"`
	UseTokenExpiry       bool          `yaml:"use_token_expiry"`
	AutoRefresh          bool          `yaml:"auto_refresh"`
}

type RealtimeConfig struct {
	Enabled              bool          `yaml:"enabled"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
}

type VerificationConfig struct {
	MaxAttempts      int `yaml:"max_attempts"`
	CodeLength       int `yaml:"code_length"`
	MaxTargetIDChars int `yaml:"max_target_id_chars"`
}

type DispatcherConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

type MerchantConfig struct {
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	CacheSize      int           `yaml:"cache_size"`
	MinQueryLength int           `yaml:"min_query_length"`
	PageSize       int           `yaml:"page_size"`
}

// StorageConfig configures the local sqlite database holding the journal.
type StorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

type CredentialStoreConfig struct {
	Type   string           `yaml:"type"`
	Redis  RedisStoreConfig `yaml:"redis,omitempty"`
	SQLite SQLiteStoreCfg   `yaml:"sqlite,omitempty"`
}

type RedisStoreConfig struct {
	Addr     string        `yaml:"addr"`
	Username string        `yaml:"username,omitempty"`
	Password string        `yaml:"password,omitempty"`
	DB       int           `yaml:"db,omitempty"`
	Prefix   string        `yaml:"prefix,omitempty"`
	TTL      time.Duration `yaml:"ttl,omitempty"`
}

type SQLiteStoreCfg struct {
	// DSN is only used when no shared database is available.
	DSN string `yaml:"dsn,omitempty"`
}

type ControlAPIConfig struct {
	Enabled      bool     `yaml:"enabled"`
	IP           string   `yaml:"ip"`
	Port         int      `yaml:"port"`
	StaticDir    string   `yaml:"static_dir"`
	AllowOrigins []string `yaml:"allow_origins"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
}
