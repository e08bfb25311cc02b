package llm

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// WorkerPoolConfig configures the worker pool.
type WorkerPoolConfig struct {
	MaxConcurrent int // Maximum concurrent calls (default: 8)
}

// DefaultWorkerPoolConfig returns sensible defaults.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		MaxConcurrent: 8,
	}
}

// WorkerPool runs backend calls (catalog sampling, LLM requests) with bounded
// parallelism.
type WorkerPool struct {
	config WorkerPoolConfig
	logger *zap.Logger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(config WorkerPoolConfig, logger *zap.Logger) *WorkerPool {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 8
	}
	return &WorkerPool{
		config: config,
		logger: logger.Named("worker-pool"),
	}
}

// WorkItem represents a unit of work to be processed.
type WorkItem[T any] struct {
	ID      string                               // For logging/tracking
	Execute func(ctx context.Context) (T, error) // The work to be executed
}

// WorkResult represents the result of a work item. Index is the position of
// the item in the submitted slice.
type WorkResult[T any] struct {
	ID     string
	Index  int
	Result T
	Err    error
}

// Process executes all work items with bounded parallelism and returns the
// results in submission order. A panicking item is reported as an error for
// that item only; the remaining items still run.
func Process[T any](
	ctx context.Context,
	pool *WorkerPool,
	items []WorkItem[T],
	onProgress func(completed, total int),
) []WorkResult[T] {
	if len(items) == 0 {
		return nil
	}

	results := make([]WorkResult[T], len(items))
	resultsChan := make(chan WorkResult[T], len(items))
	sem := make(chan struct{}, pool.config.MaxConcurrent)

	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		go func(i int, item WorkItem[T]) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				resultsChan <- WorkResult[T]{ID: item.ID, Index: i, Err: ctx.Err()}
				return
			}

			result, err := runItem(ctx, pool.logger, item)
			resultsChan <- WorkResult[T]{
				ID:     item.ID,
				Index:  i,
				Result: result,
				Err:    err,
			}
		}(i, item)
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	completed := 0
	for result := range resultsChan {
		results[result.Index] = result
		completed++
		if onProgress != nil {
			onProgress(completed, len(items))
		}
	}

	return results
}

func runItem[T any](ctx context.Context, logger *zap.Logger, item WorkItem[T]) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Work item panicked",
				zap.String("id", item.ID),
				zap.Any("panic", r))
			err = fmt.Errorf("work item %s panicked: %v", item.ID, r)
		}
	}()
	return item.Execute(ctx)
}
