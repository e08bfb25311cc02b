package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rotosaurio/iacandy/pkg/retry"
)

// ResilientEmbedder wraps an Embedder with batching, retries and a circuit
// breaker. When the breaker is open every call fails fast with ErrCircuitOpen
// so callers can switch to lexical retrieval.
type ResilientEmbedder struct {
	inner     Embedder
	breaker   *CircuitBreaker
	retry     *retry.Config
	batchSize int
	logger    *zap.Logger
}

// NewResilientEmbedder wraps inner. A nil retry config uses retry.DefaultConfig.
func NewResilientEmbedder(inner Embedder, breaker *CircuitBreaker, retryCfg *retry.Config, batchSize int, logger *zap.Logger) *ResilientEmbedder {
	if breaker == nil {
		breaker = NewCircuitBreaker(DefaultCircuitBreakerConfig())
	}
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}
	if batchSize < 1 {
		batchSize = 64
	}
	return &ResilientEmbedder{
		inner:     inner,
		breaker:   breaker,
		retry:     retryCfg,
		batchSize: batchSize,
		logger:    logger.Named("embedder"),
	}
}

// Embed embeds a single text.
func (e *ResilientEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.call(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch splits texts into batches of the configured size. The first
// failing batch aborts the whole call.
func (e *ResilientEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		vectors, err := e.call(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// Available reports whether the breaker currently lets calls through without
// consuming the half-open probe.
func (e *ResilientEmbedder) Available() bool {
	return e.breaker.State() == CircuitClosed
}

func (e *ResilientEmbedder) call(ctx context.Context, texts []string) ([][]float32, error) {
	if allowed, err := e.breaker.Allow(); !allowed {
		return nil, err
	}

	start := time.Now()
	vectors, err := retry.DoWithResultIfRetryable(ctx, e.retry, func() ([][]float32, error) {
		v, err := e.inner.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, ClassifyError(err)
		}
		if len(v) != len(texts) {
			return nil, &Error{
				Type:      ErrorTypeEmpty,
				Message:   fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(v)),
				Retryable: true,
			}
		}
		return v, nil
	})
	if err != nil {
		e.breaker.RecordFailure()
		e.logger.Warn("Embedding call failed",
			zap.Int("texts", len(texts)),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("circuit", e.breaker.State().String()),
			zap.Error(err))
		return nil, err
	}

	e.breaker.RecordSuccess()
	return vectors, nil
}
