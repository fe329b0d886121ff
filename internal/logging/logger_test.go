package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesJSONWithBaseAndContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "debug", ServiceName: "routeopt", Environment: "test", Version: "v1", Output: &buf})

	ctx := ContextWithRunID(ContextWithRequestID(context.Background(), "req-1"), "run-9")
	l.WithComponent("engine").WithError(errors.New("boom")).
		Performance(ctx, "optimize", 1500*time.Millisecond, false, map[string]any{"algorithm": "ga"})

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "routeopt", rec["service"])
	assert.Equal(t, "engine", rec["component"])
	assert.Equal(t, "boom", rec["error"])
	assert.Equal(t, "req-1", rec["requestId"])
	assert.Equal(t, "run-9", rec["runId"])
	assert.Equal(t, "WARN", rec["level"])
	assert.EqualValues(t, 1500, rec["durationMs"])
}

func TestLoggerLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "error", ServiceName: "routeopt", Output: &buf})
	l.Info("ignored")
	assert.Zero(t, buf.Len())
}
