package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rotosaurio/iacandy/pkg/models"
)

func TestExhaustedRetriesError_UnwrapsLastError(t *testing.T) {
	last := &ExecutionError{SQL: "SELECT 1", Cause: errors.New("column FOO not found")}
	err := fmt.Errorf("answer: %w", &ExhaustedRetriesError{
		Attempts: []models.GenerationAttempt{{Index: 1}, {Index: 2}},
		Last:     last,
	})

	var exhausted *ExhaustedRetriesError
	require.True(t, errors.As(err, &exhausted))
	assert.Len(t, exhausted.Attempts, 2)

	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "SELECT 1", execErr.SQL)
	assert.Contains(t, exhausted.Summary(), "2 attempt(s)")
	assert.Contains(t, exhausted.Summary(), "column FOO not found")
}

func TestGenerationError_Message(t *testing.T) {
	err := &GenerationError{Tier: models.TierAdvanced, Cause: ErrNoSQLGenerated}

	assert.ErrorIs(t, err, ErrNoSQLGenerated)
	assert.Contains(t, err.Error(), "advanced tier")
}

func TestIsCacheBuildError(t *testing.T) {
	wrapped := fmt.Errorf("startup: %w", &CacheBuildError{Stage: "list_tables", Cause: errors.New("login failed")})

	assert.True(t, IsCacheBuildError(wrapped))
	assert.False(t, IsCacheBuildError(errors.New("other")))
	assert.Contains(t, wrapped.Error(), "list_tables")
}
