package datasource

import (
	"context"

	sqlguard "github.com/rotosaurio/iacandy/pkg/sql"
)

// ReadOnlyExecutor rejects anything but a single SELECT before delegating.
type ReadOnlyExecutor struct {
	inner QueryExecutor
}

// NewReadOnlyExecutor wraps inner with the read-only guard.
func NewReadOnlyExecutor(inner QueryExecutor) *ReadOnlyExecutor {
	return &ReadOnlyExecutor{inner: inner}
}

// Query validates sqlQuery and runs the normalized form.
func (e *ReadOnlyExecutor) Query(ctx context.Context, sqlQuery string, limit int) (*QueryExecutionResult, error) {
	normalized, err := sqlguard.ValidateReadOnly(sqlQuery)
	if err != nil {
		return nil, err
	}
	return e.inner.Query(ctx, normalized, limit)
}

var _ QueryExecutor = (*ReadOnlyExecutor)(nil)
