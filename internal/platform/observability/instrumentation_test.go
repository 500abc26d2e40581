package observability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpansAndCounters(t *testing.T) {
	ctx := context.Background()
	shutdown, err := Setup(ctx, Config{Enabled: true, LogSpans: true}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer shutdown(ctx)

	_, end := StartSpan(ctx, "rest", "call")
	end(nil)
	_, end = StartSpan(ctx, "rest", "call")
	end(errors.New("boom"))

	RecordMetric(ctx, "rest_requests_total", 1, map[string]string{"status": "200", "method": "GET"})
	RecordMetric(ctx, "rest_requests_total", 1, map[string]string{"method": "GET", "status": "200"})

	snap := Snapshot()
	assert.Equal(t, 2.0, snap.Counters["rest_requests_total{method=GET,status=200}"])

	st := snap.Spans["rest.call"]
	assert.Equal(t, int64(2), st.Count)
	assert.Equal(t, int64(1), st.Errors)
	assert.Equal(t, "boom", st.LastError)
}

func TestDisabledIsNoop(t *testing.T) {
	ctx := context.Background()
	_, err := Setup(ctx, Config{}, nil)
	require.NoError(t, err)

	_, end := StartSpan(ctx, "ws", "dial")
	end(nil)
	RecordMetric(ctx, "ws_frames_total", 1, nil)

	snap := Snapshot()
	assert.Empty(t, snap.Counters)
	assert.Empty(t, snap.Spans)
}
