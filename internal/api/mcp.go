package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kassym/agrozone/internal/chat"
	"github.com/kassym/agrozone/internal/features"
	"github.com/kassym/agrozone/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store   *storage.Store
	Chat    *chat.Service
	Weather ExternalContext // optional; nil disables external chat context
}

// ExternalContext supplies the cached weather/news blob for a zone.
type ExternalContext interface {
	Get(zoneID string) map[string]any
}

// NewMCPServer creates an MCP server with the agrozone tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"agrozone",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("agrozone — crop suitability recommendations and agronomy chat for sensor-instrumented field zones."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("get_recommendation",
			mcp.WithDescription("Fetch a crop recommendation by id, including its status, ranked crops, and the data snapshot it was generated from."),
			mcp.WithString("recommendation_id", mcp.Description("Recommendation id"), mcp.Required()),
		),
		mcpGetRecommendation(deps),
	)

	s.AddTool(
		mcp.NewTool("get_zone_conditions",
			mcp.WithDescription("Aggregate a zone's recent sensor readings into per-field statistics, categories, and nutrient ratios."),
			mcp.WithString("zone_id", mcp.Description("Zone id"), mcp.Required()),
			mcp.WithNumber("hours", mcp.Description("Trailing window in hours (default 24)")),
		),
		mcpGetZoneConditions(deps),
	)

	s.AddTool(
		mcp.NewTool("ask_agronomist",
			mcp.WithDescription("Ask the agronomy assistant a question about a zone. Keeps per-zone conversation context."),
			mcp.WithString("zone_id", mcp.Description("Zone id"), mcp.Required()),
			mcp.WithString("message", mcp.Description("The question to ask"), mcp.Required()),
		),
		mcpAskAgronomist(deps),
	)

	return s
}

func mcpGetRecommendation(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("recommendation_id")
		if err != nil {
			return mcpError("recommendation_id is required"), nil
		}

		rec, err := deps.Store.GetRecommendation(id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load recommendation: %v", err)), nil
		}

		b, err := json.Marshal(toRecommendationResponse(rec))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal recommendation: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetZoneConditions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		zoneID, err := req.RequireString("zone_id")
		if err != nil {
			return mcpError("zone_id is required"), nil
		}

		hours := req.GetInt("hours", 24)
		if hours <= 0 {
			hours = 24
		}
		if hours > 366*24 {
			hours = 366 * 24
		}

		if _, err := deps.Store.GetZone(zoneID); err != nil {
			return mcpError(fmt.Sprintf("failed to load zone: %v", err)), nil
		}

		end := time.Now().UTC()
		readings, err := deps.Store.ReadingsInWindow(zoneID, end.Add(-time.Duration(hours)*time.Hour), end)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load readings: %v", err)), nil
		}

		b, err := json.Marshal(map[string]any{
			"zone_id":  zoneID,
			"hours":    hours,
			"readings": len(readings),
			"features": features.Aggregate(readings),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal conditions: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAskAgronomist(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		zoneID, err := req.RequireString("zone_id")
		if err != nil {
			return mcpError("zone_id is required"), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		zone, err := deps.Store.GetZone(zoneID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load zone: %v", err)), nil
		}

		in := buildZoneChatInput(AppDeps{Store: deps.Store}, zone, message)
		if deps.Weather != nil {
			in.External = deps.Weather.Get(zone.ID)
		}

		reply, err := deps.Chat.Handle(ctx, chat.ZoneKey(zone.ID), in)
		if err != nil {
			return mcpError(fmt.Sprintf("chat failed: %v", err)), nil
		}
		return mcpText(reply), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
