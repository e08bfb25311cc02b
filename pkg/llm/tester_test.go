package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProbeCompleter(t *testing.T) {
	ok := &MockCompleter{ModelName: "gpt-4o", Responses: []MockResponse{{Text: "ok"}}}
	result := ProbeCompleter(context.Background(), "standard", ok, time.Second)
	assert.True(t, result.Success)
	assert.Equal(t, "gpt-4o", result.Model)
	assert.Empty(t, result.ErrorType)

	denied := &MockCompleter{Responses: []MockResponse{{Err: errors.New("401 unauthorized")}}}
	result = ProbeCompleter(context.Background(), "advanced", denied, time.Second)
	assert.False(t, result.Success)
	assert.Equal(t, ErrorTypeAuth, result.ErrorType)
	assert.Contains(t, result.Message, "advanced")
}

func TestProbeEmbedder(t *testing.T) {
	result := ProbeEmbedder(context.Background(), "embeddings", NewMockEmbedder(16), time.Second)
	assert.True(t, result.Success)

	failing := NewMockEmbedder(16)
	failing.Err = errors.New("dial tcp: connection refused")
	result = ProbeEmbedder(context.Background(), "embeddings", failing, time.Second)
	assert.False(t, result.Success)
	assert.Equal(t, ErrorTypeEndpoint, result.ErrorType)
}
