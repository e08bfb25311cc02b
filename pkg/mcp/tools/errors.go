package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rotosaurio/iacandy/pkg/apperrors"
)

// ErrorResponse represents a structured error in tool results. Errors the
// caller can act on are returned as a successful tool result carrying this
// payload, so the client sees the details instead of a bare protocol error.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
//
// Do NOT use this for system failures; those should still return Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// AsToolError maps errors the caller can act on to a structured result. It
// returns nil for anything else, which the tool should return as a Go error.
func AsToolError(err error) *mcp.CallToolResult {
	var cbe *apperrors.CacheBuildError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperrors.ErrInvalidInput):
		return NewErrorResult("invalid_input", err.Error())
	case errors.Is(err, apperrors.ErrSessionNotFound):
		return NewErrorResult("session_not_found", err.Error())
	case errors.As(err, &cbe):
		return NewErrorResultWithDetails("schema_unavailable",
			"the database schema could not be loaded; retry later",
			map[string]string{"stage": cbe.Stage, "cause": cbe.Cause.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		return NewErrorResult("timeout", "the request timed out")
	}
	return nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}
