package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rotosaurio/iacandy/pkg/models"
)

func TestRegisterHealthTool(t *testing.T) {
	mcpServer := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	RegisterHealthTool(mcpServer, "test-version", nil)

	result := mcpServer.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`))
	resultBytes, err := json.Marshal(result)
	require.NoError(t, err)

	var response struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(resultBytes, &response))

	var names []string
	for _, tool := range response.Result.Tools {
		names = append(names, tool.Name)
	}
	assert.Contains(t, names, "health")
}

func TestHealthTool_Execute(t *testing.T) {
	built := time.Now()
	cases := []struct {
		name       string
		status     func() models.CacheStatus
		wantStatus string
		wantCache  string
	}{
		{"no cache source", nil, "ok", "unknown"},
		{"empty", func() models.CacheStatus { return models.CacheStatus{} }, "ok", "empty"},
		{"valid", func() models.CacheStatus {
			return models.CacheStatus{BuiltAt: &built, Valid: true, TableCount: 12}
		}, "ok", "valid"},
		{"stale", func() models.CacheStatus { return models.CacheStatus{BuiltAt: &built} }, "ok", "stale"},
		{"degraded", func() models.CacheStatus {
			return models.CacheStatus{BuiltAt: &built, Valid: true, Degraded: true}
		}, "degraded", "degraded"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mcpServer := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
			RegisterHealthTool(mcpServer, `1.2.3-beta"x`, tc.status)

			var health healthResult
			decodeText(t, callTool(t, mcpServer, "health", nil), &health)
			assert.Equal(t, tc.wantStatus, health.Status)
			assert.Equal(t, tc.wantCache, health.Cache)
			assert.Equal(t, `1.2.3-beta"x`, health.Version)
		})
	}
}
