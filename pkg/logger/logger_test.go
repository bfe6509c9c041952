package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		entry := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		out = append(out, entry)
	}
	return out
}

func TestErrorCarriesScopedFieldsAndStack(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: zerolog.DebugLevel, Output: buf})

	ctx := log.WithRequestID(context.Background(), "req-123")
	ctx = log.WithOrderID(ctx, "order-9")
	ctx = log.WithProductID(ctx, "prod-1")
	log.Error(ctx, "reserve failed", errors.New("boom"))

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "order-9", entry["order_id"])
	assert.Equal(t, "prod-1", entry["product_id"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "test", entry["service"])
	assert.NotEmpty(t, entry["stack"])
}

func TestStaticFieldsOnEveryEntry(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "api", Output: buf, Fields: map[string]any{"instance": "api@host"}})

	log.Info(context.Background(), "one")
	log.Info(log.WithStockItemID(context.Background(), "si-1"), "two")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 2)
	for _, entry := range entries {
		assert.Equal(t, "api@host", entry["instance"])
	}
	assert.Equal(t, "si-1", entries[1]["stock_item_id"])
}

func TestWithFieldsAreKeyOrdered(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})
	log.Info(log.WithFields(context.Background(), map[string]any{"zeta": 1, "alpha": 2, "mid": 3}), "x")

	line := buf.String()
	assert.Less(t, strings.Index(line, `"alpha"`), strings.Index(line, `"mid"`))
	assert.Less(t, strings.Index(line, `"mid"`), strings.Index(line, `"zeta"`))
}

func TestWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	New(Options{ServiceName: "test", Output: buf, WarnStack: true}).Warn(context.Background(), "warny")
	assert.Contains(t, buf.String(), `"stack"`)

	buf.Reset()
	New(Options{ServiceName: "test", Output: buf}).Warn(context.Background(), "warny")
	assert.NotContains(t, buf.String(), `"stack"`)
}

func TestLevelFiltersEntries(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: zerolog.WarnLevel, Output: buf})
	log.Debug(context.Background(), "hidden")
	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")
	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "shown", entries[0]["message"])
}

func TestNilLoggerIsSafe(t *testing.T) {
	var log *Logger
	ctx := log.WithOrderID(context.Background(), "o-1")
	assert.NotPanics(t, func() {
		log.Info(ctx, "ignored")
		log.Error(ctx, "ignored", errors.New("boom"))
		log.Warn(log.WithFields(ctx, map[string]any{"a": 1}), "ignored")
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("invalid"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
}
