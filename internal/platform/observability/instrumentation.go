package observability

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// SpanStats aggregates finished spans of one component/operation pair.
type SpanStats struct {
	Count     int64         `json:"count"`
	Errors    int64         `json:"errors"`
	Total     time.Duration `json:"total_ns"`
	Max       time.Duration `json:"max_ns"`
	LastError string        `json:"last_error,omitempty"`
}

// MetricsSnapshot is a point-in-time copy of every counter and span aggregate.
type MetricsSnapshot struct {
	Counters map[string]float64   `json:"counters"`
	Spans    map[string]SpanStats `json:"spans"`
}

var (
	metricsMu sync.Mutex
	counters  = map[string]float64{}
	spans     = map[string]*SpanStats{}
)

// Enabled reports whether observability has been toggled on.
func Enabled() bool {
	_, cfg := current()
	return cfg.Enabled
}

// Reset clears all aggregates.
func Reset() {
	metricsMu.Lock()
	counters = map[string]float64{}
	spans = map[string]*SpanStats{}
	metricsMu.Unlock()
}

// StartSpan times an operation. The returned func must be called exactly once with its outcome.
func StartSpan(ctx context.Context, component, operation string) (context.Context, func(error)) {
	if !Enabled() {
		return ctx, func(error) {}
	}
	logger, cfg := current()
	start := time.Now()
	key := component + "." + operation

	return ctx, func(err error) {
		elapsed := time.Since(start)

		metricsMu.Lock()
		st, ok := spans[key]
		if !ok {
			st = &SpanStats{}
			spans[key] = st
		}
		st.Count++
		st.Total += elapsed
		if elapsed > st.Max {
			st.Max = elapsed
		}
		if err != nil {
			st.Errors++
			st.LastError = err.Error()
		}
		metricsMu.Unlock()

		if logger == nil || !cfg.LogSpans {
			return
		}
		level := slog.LevelDebug
		attrs := []slog.Attr{
			slog.String("component", component),
			slog.String("operation", operation),
			slog.Duration("duration", elapsed),
		}
		if err != nil {
			level = slog.LevelWarn
			attrs = append(attrs, slog.Any("error", err))
		}
		logger.LogAttrs(ctx, level, "obs span end", attrs...)
	}
}

// RecordMetric adds value to the counter identified by name and labels.
func RecordMetric(ctx context.Context, name string, value float64, labels map[string]string) {
	if !Enabled() {
		return
	}
	key := metricKey(name, labels)

	metricsMu.Lock()
	counters[key] += value
	metricsMu.Unlock()

	logger, cfg := current()
	if logger != nil && cfg.LogSpans {
		logger.LogAttrs(ctx, slog.LevelDebug, "obs metric",
			slog.String("metric", key),
			slog.Float64("value", value),
		)
	}
}

// Snapshot copies the current aggregates.
func Snapshot() MetricsSnapshot {
	metricsMu.Lock()
	defer metricsMu.Unlock()

	out := MetricsSnapshot{
		Counters: make(map[string]float64, len(counters)),
		Spans:    make(map[string]SpanStats, len(spans)),
	}
	for k, v := range counters {
		out.Counters[k] = v
	}
	for k, v := range spans {
		out.Spans[k] = *v
	}
	return out
}

// metricKey renders name{a=1,b=2} with labels sorted by key.
func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}
