package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/rotosaurio/iacandy/pkg/models"
)

// Assistant is the part of the assistant service exposed as MCP tools.
type Assistant interface {
	Answer(ctx context.Context, sessionID, question string, forceRefresh bool) (*models.AnswerResult, error)
	GetCacheStatus() models.CacheStatus
	RefreshCache(ctx context.Context) error
	GetModelUsageStats() map[string]int64
}

// AssistantToolDeps holds dependencies for the assistant tools.
type AssistantToolDeps struct {
	Assistant Assistant
	Logger    *zap.Logger
}

// RegisterAssistantTools adds answer_question, cache_status and model_usage.
func RegisterAssistantTools(s *server.MCPServer, deps *AssistantToolDeps) {
	registerAnswerQuestionTool(s, deps)
	registerCacheStatusTool(s, deps)
	registerModelUsageTool(s, deps)
}

func registerAnswerQuestionTool(s *server.MCPServer, deps *AssistantToolDeps) {
	tool := mcp.NewTool(
		"answer_question",
		mcp.WithDescription(
			"Answer a business question in natural language (Spanish or English) by generating "+
				"and running a read-only SQL query against the store database. "+
				"Returns the SQL, the rows, every generation attempt and a short narrative. "+
				"Pass the returned session_id on follow-up questions to keep conversational context."),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("The question, e.g. \"¿Cuáles fueron los 10 artículos más vendidos este mes?\"")),
		mcp.WithString("session_id",
			mcp.Description("Conversation to continue; omit to start a new one")),
		mcp.WithBoolean("force_refresh",
			mcp.Description("Rebuild the schema cache before answering (slow)")),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return NewErrorResult("invalid_input", err.Error()), nil
		}
		sessionID := trimString(getOptionalString(req, "session_id"))
		force := getOptionalBool(req, "force_refresh", false)

		result, err := deps.Assistant.Answer(ctx, sessionID, trimString(question), force)
		if err != nil {
			if toolErr := AsToolError(err); toolErr != nil {
				deps.Logger.Debug("answer_question rejected", zap.Error(err))
				return toolErr, nil
			}
			return nil, fmt.Errorf("answer question: %w", err)
		}
		return jsonResult(result)
	})
}

func registerCacheStatusTool(s *server.MCPServer, deps *AssistantToolDeps) {
	tool := mcp.NewTool(
		"cache_status",
		mcp.WithDescription(
			"Report the schema cache state: when it was built, whether it is still valid, "+
				"how many tables and procedures it holds and whether retrieval is degraded. "+
				"Set refresh to rebuild it first."),
		mcp.WithBoolean("refresh",
			mcp.Description("Rebuild the schema cache before reporting")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if getOptionalBool(req, "refresh", false) {
			if err := deps.Assistant.RefreshCache(ctx); err != nil {
				if toolErr := AsToolError(err); toolErr != nil {
					return toolErr, nil
				}
				return nil, fmt.Errorf("refresh schema cache: %w", err)
			}
		}
		return jsonResult(deps.Assistant.GetCacheStatus())
	})
}

func registerModelUsageTool(s *server.MCPServer, deps *AssistantToolDeps) {
	tool := mcp.NewTool(
		"model_usage",
		mcp.WithDescription("Number of questions routed to each model tier since the server started"),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(deps.Assistant.GetModelUsageStats())
	})
}
