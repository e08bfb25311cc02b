// Package llm provides the generation and embedding backends used to turn
// questions into queries.
package llm

import (
	"context"
)

// Completer produces a single chat completion from a system and user message.
// Use this interface for dependency injection to enable mocking in tests.
type Completer interface {
	Complete(ctx context.Context, systemMessage, prompt string) (string, error)

	// Model returns the configured model name.
	Model() string
}

// Embedder turns text into fixed-length vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

var (
	_ Completer = (*Client)(nil)
	_ Embedder  = (*Client)(nil)
	_ Completer = (*AnthropicClient)(nil)
	_ Embedder  = (*ResilientEmbedder)(nil)
)
