package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rotosaurio/iacandy/pkg/apperrors"
)

func errorPayload(t *testing.T, result *mcp.CallToolResult) ErrorResponse {
	t.Helper()
	require.NotNil(t, result)
	require.True(t, result.IsError)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(text.Text), &resp))
	return resp
}

func TestNewErrorResultWithDetails(t *testing.T) {
	resp := errorPayload(t, NewErrorResultWithDetails("bad", "nope", map[string]any{"field": "question"}))

	assert.True(t, resp.Error)
	assert.Equal(t, "bad", resp.Code)
	assert.Equal(t, "nope", resp.Message)
	assert.Equal(t, map[string]any{"field": "question"}, resp.Details)
}

func TestAsToolError(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"invalid input", fmt.Errorf("%w: question is empty", apperrors.ErrInvalidInput), "invalid_input"},
		{"unknown session", fmt.Errorf("append: %w", apperrors.ErrSessionNotFound), "session_not_found"},
		{"cache build", fmt.Errorf("load: %w", &apperrors.CacheBuildError{Stage: "embed", Cause: errors.New("quota")}), "schema_unavailable"},
		{"timeout", fmt.Errorf("answer: %w", context.DeadlineExceeded), "timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.wantCode, errorPayload(t, AsToolError(tc.err)).Code)
		})
	}

	assert.Nil(t, AsToolError(nil))
	assert.Nil(t, AsToolError(errors.New("connection reset")))
}
