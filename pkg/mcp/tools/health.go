package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rotosaurio/iacandy/pkg/models"
)

type healthResult struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Cache   string `json:"cache"`
	Tables  int    `json:"tables"`
}

// RegisterHealthTool adds a health check tool to the MCP server.
// status may be nil, in which case the cache is reported as unknown.
func RegisterHealthTool(s *server.MCPServer, version string, status func() models.CacheStatus) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health status, version and schema cache state"),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result := healthResult{Status: "ok", Version: version, Cache: "unknown"}
		if status != nil {
			cs := status()
			result.Tables = cs.TableCount
			switch {
			case cs.BuiltAt == nil:
				result.Cache = "empty"
			case cs.Degraded:
				result.Cache = "degraded"
				result.Status = "degraded"
			case cs.Valid:
				result.Cache = "valid"
			default:
				result.Cache = "stale"
			}
		}
		return jsonResult(result)
	})
}
