package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithLogFields_Merges(t *testing.T) {
	ctx := WithLogFields(context.Background(), zap.String("session_id", "s1"))
	ctx = WithLogFields(ctx, zap.Int("attempt", 2))

	fields := LogFields(ctx)
	require.Len(t, fields, 2)
	assert.Equal(t, "session_id", fields[0].Key)
	assert.Equal(t, "attempt", fields[1].Key)

	// Returned slice is a copy.
	fields[0] = zap.String("other", "x")
	assert.Equal(t, "session_id", LogFields(ctx)[0].Key)
}

func TestLogFields_Empty(t *testing.T) {
	assert.Nil(t, LogFields(context.Background()))
}

func TestLoggerFor_AddsFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := WithLogFields(context.Background(), zap.String("tier", "advanced"))
	loggerFor(ctx, base).Info("hello")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "advanced", entries[0].ContextMap()["tier"])
}
