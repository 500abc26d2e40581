package config

import "time"

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:       "http://localhost:8000/api",
			Timeout:       30 * time.Second,
			RetryAttempts: 3,
			RetryDelay:    time.Second,
			RetryMaxDelay: 30 * time.Second,
			RetryStatuses: []int{429, 500, 502, 503, 504},
		},
		Auth: AuthConfig{
			RefreshThreshold:     300 * time.Second,
			RefreshCheckInterval: 60 * time.Second,
			SessionTimeout:       3600 * time.Second,
			TokenTTL:             3600 * time.Second,
			AutoRefresh:          true,
		},
		Realtime: RealtimeConfig{
			Enabled:              true,
			ReconnectDelay:       5 * time.Second,
			MaxReconnectAttempts: 10,
			PingInterval:         25 * time.Second,
			HandshakeTimeout:     10 * time.Second,
		},
		Verification: VerificationConfig{
			MaxAttempts:      5,
			CodeLength:       6,
			MaxTargetIDChars: 50,
		},
		Dispatcher: DispatcherConfig{
			Workers:   4,
			QueueSize: 64,
		},
		Merchant: MerchantConfig{
			CacheTTL:       30 * time.Second,
			CacheSize:      100,
			MinQueryLength: 2,
			PageSize:       20,
		},
		Storage: StorageConfig{
			Enabled: true,
			DSN:     "data/verify-client.db",
		},
		CredentialStore: CredentialStoreConfig{
			Type: "memory",
			Redis: RedisStoreConfig{
				Addr:   "127.0.0.1:6379",
				Prefix: "verify-client",
			},
		},
		ControlAPI: ControlAPIConfig{
			Enabled:      true,
			IP:           "127.0.0.1",
			Port:         8090,
			AllowOrigins: []string{"*"},
		},
		Log: LogConfig{
			Level: "INFO",
			Dir:   "data/logs",
			File:  "verify-client.log",
		},
		Locale: "en",
	}
}
