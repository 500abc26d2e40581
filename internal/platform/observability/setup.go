package observability

import (
	"context"
	"log/slog"
	"sync"
)

// Config captures observability toggles.
type Config struct {
	Enabled bool
	// LogSpans emits a debug record per span in addition to aggregating it.
	LogSpans bool
}

// ShutdownFunc tears down observability and returns the final snapshot to the logger.
type ShutdownFunc func(context.Context) error

var (
	stateMu sync.RWMutex
	obsLog  *slog.Logger
	obsCfg  Config
)

func current() (*slog.Logger, Config) {
	stateMu.RLock()
	defer stateMu.RUnlock()
	return obsLog, obsCfg
}

// Setup installs the logger used for spans and metrics and resets the counters.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (ShutdownFunc, error) {
	stateMu.Lock()
	obsLog = logger
	obsCfg = cfg
	stateMu.Unlock()
	Reset()

	if logger != nil {
		if cfg.Enabled {
			logger.InfoContext(ctx, "[OBSERVABILITY] enabled")
		} else {
			logger.InfoContext(ctx, "[OBSERVABILITY] disabled")
		}
	}

	return func(ctx context.Context) error {
		logger, cfg := current()
		if logger != nil && cfg.Enabled {
			snap := Snapshot()
			logger.InfoContext(ctx, "[OBSERVABILITY] final counters",
				slog.Int("counters", len(snap.Counters)),
				slog.Int("spans", len(snap.Spans)),
			)
		}
		return nil
	}, nil
}
