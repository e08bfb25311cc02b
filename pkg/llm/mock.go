package llm

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
)

// MockCompleter is a configurable Completer for tests. Responses are served in
// order; once exhausted the last one repeats. CompleteFunc, when set, takes
// precedence.
type MockCompleter struct {
	mu sync.Mutex

	CompleteFunc func(ctx context.Context, systemMessage, prompt string) (string, error)
	Responses    []MockResponse
	ModelName    string

	// Call tracking for verification
	Calls   int
	Prompts []string
}

// MockResponse is one scripted reply.
type MockResponse struct {
	Text string
	Err  error
}

// NewMockCompleter creates a mock that replies with the given texts in order.
func NewMockCompleter(model string, texts ...string) *MockCompleter {
	m := &MockCompleter{ModelName: model}
	for _, t := range texts {
		m.Responses = append(m.Responses, MockResponse{Text: t})
	}
	return m
}

// Complete implements Completer.
func (m *MockCompleter) Complete(ctx context.Context, systemMessage, prompt string) (string, error) {
	m.mu.Lock()
	idx := m.Calls
	m.Calls++
	m.Prompts = append(m.Prompts, prompt)
	fn := m.CompleteFunc
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if fn != nil {
		return fn(ctx, systemMessage, prompt)
	}
	if len(m.Responses) == 0 {
		return "", nil
	}
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	r := m.Responses[idx]
	return r.Text, r.Err
}

// Model implements Completer.
func (m *MockCompleter) Model() string {
	if m.ModelName == "" {
		return "mock-model"
	}
	return m.ModelName
}

// CallCount returns the number of Complete calls so far.
func (m *MockCompleter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

// MockEmbedder produces deterministic bag-of-words vectors so that texts
// sharing words score higher under cosine similarity. Err, when set, is
// returned from every call.
type MockEmbedder struct {
	mu sync.Mutex

	Dimensions int
	Err        error

	Calls       int
	EmbeddedLen int // total number of texts embedded
}

// NewMockEmbedder creates a mock producing vectors of the given length.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions < 1 {
		dimensions = 64
	}
	return &MockEmbedder{Dimensions: dimensions}
}

// Embed implements Embedder.
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

// EmbedBatch implements Embedder.
func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.Calls++
	err := m.Err
	if err == nil {
		m.EmbeddedLen += len(texts)
	}
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = m.vector(text)
	}
	return out, nil
}

// SetErr changes the error returned by subsequent calls.
func (m *MockEmbedder) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

// Embedded returns the total number of texts embedded so far.
func (m *MockEmbedder) Embedded() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.EmbeddedLen
}

func (m *MockEmbedder) vector(text string) []float32 {
	v := make([]float32, m.Dimensions)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:¿?¡!()'\"")
		if word == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		v[int(h.Sum32())%m.Dimensions]++
	}
	return v
}
