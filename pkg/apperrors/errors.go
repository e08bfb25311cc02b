package apperrors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rotosaurio/iacandy/pkg/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrSessionNotFound   = errors.New("session not found")
	ErrRetrievalDegraded = errors.New("retrieval degraded: embedding backend unavailable")
	ErrNoSQLGenerated    = errors.New("no SQL statement in generation output")
	ErrNotReadOnly       = errors.New("only read-only SELECT statements are allowed")
)

// ExecutionError is returned when the backing store rejects or fails a query.
type ExecutionError struct {
	SQL   string
	Cause error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed: %v", e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// GenerationError is returned when the generation backend fails or produces
// output that cannot be used as a query.
type GenerationError struct {
	Tier  models.ModelTier
	Cause error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed (%s tier): %v", e.Tier, e.Cause)
}

func (e *GenerationError) Unwrap() error { return e.Cause }

// ExhaustedRetriesError is terminal for a turn. It carries the whole attempt
// chain and the last concrete error.
type ExhaustedRetriesError struct {
	Attempts []models.GenerationAttempt
	Last     error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("gave up after %d attempt(s): %v", len(e.Attempts), e.Last)
}

func (e *ExhaustedRetriesError) Unwrap() error { return e.Last }

// Summary renders a human-readable explanation of the failed chain.
func (e *ExhaustedRetriesError) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "The query could not be completed after %d attempt(s).", len(e.Attempts))
	if e.Last != nil {
		fmt.Fprintf(&b, " Last error: %s", e.Last.Error())
	}
	return b.String()
}

// CacheBuildError is returned when schema introspection or indexing fails
// while rebuilding the schema cache.
type CacheBuildError struct {
	Stage string
	Cause error
}

func (e *CacheBuildError) Error() string {
	return fmt.Sprintf("schema cache build failed at %s: %v", e.Stage, e.Cause)
}

func (e *CacheBuildError) Unwrap() error { return e.Cause }

// IsCacheBuildError reports whether err is or wraps a CacheBuildError.
func IsCacheBuildError(err error) bool {
	var cbe *CacheBuildError
	return errors.As(err, &cbe)
}
