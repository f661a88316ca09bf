package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/nextmove/internal/decision"
	"github.com/kalambet/nextmove/internal/domain"
	"github.com/kalambet/nextmove/internal/plan"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Plans    PlanBuilder
	Engine   NextMover
	Calendar Calendar
}

// NewMCPServer creates an MCP server with the planning tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"nextmove",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("nextmove picks the next relationship action to take and builds capacity-aware daily plans."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("get_next_move",
			mcp.WithDescription("Return the single best next action for a user, with every scored candidate."),
			mcp.WithString("user_id", mcp.Description("User to evaluate"), mcp.Required()),
			mcp.WithString("date", mcp.Description("Reference day as YYYY-MM-DD (default today)")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of candidates returned (default 5)")),
		),
		mcpGetNextMove(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_daily_plan",
			mcp.WithDescription("Build the daily plan for a user. Without persist the plan is a dry run and nothing is written."),
			mcp.WithString("user_id", mcp.Description("User to plan for"), mcp.Required()),
			mcp.WithString("date", mcp.Description("Plan day as YYYY-MM-DD (default today)")),
			mcp.WithBoolean("persist", mcp.Description("Store the plan (default false)")),
			mcp.WithNumber("max_duration_minutes", mcp.Description("Skip actions estimated above this many minutes")),
		),
		mcpGenerateDailyPlan(deps),
	)

	s.AddTool(
		mcp.NewTool("get_free_busy",
			mcp.WithDescription("Return merged busy intervals and free working minutes across a user's calendars."),
			mcp.WithString("user_id", mcp.Description("User whose calendars to read"), mcp.Required()),
			mcp.WithString("date", mcp.Description("Day as YYYY-MM-DD (default today)")),
		),
		mcpGetFreeBusy(deps),
	)

	return s
}

func mcpGetNextMove(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		ref, err := resolveDate(deps.Calendar, userID, req.GetString("date", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		res, err := deps.Engine.Run(ctx, userID, decision.Options{ReferenceDate: ref})
		if err != nil {
			return mcpError(fmt.Sprintf("evaluation failed: %v", err)), nil
		}
		if len(res.Candidates) > limit {
			res.Candidates = res.Candidates[:limit]
		}
		return mcpJSON(res)
	}
}

func mcpGenerateDailyPlan(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		date, err := resolveDate(deps.Calendar, userID, req.GetString("date", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		out, err := deps.Plans.Build(ctx, userID, date, plan.Options{
			Persist:            req.GetBool("persist", false),
			MaxDurationMinutes: max(req.GetInt("max_duration_minutes", 0), 0),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("plan failed: %v", err)), nil
		}
		if out.Failure != nil && out.Plan == nil {
			return mcpError(out.Failure.Message), nil
		}

		resp := BuildPlanResponse{
			State:   out.State,
			Date:    date.Format(domain.DateLayout),
			Plan:    out.Plan,
			Budget:  out.Budget,
			Failure: out.Failure,
		}
		if out.Decision != nil {
			resp.Best = out.Decision.Best
		}
		return mcpJSON(resp)
	}
}

func mcpGetFreeBusy(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		date, err := resolveDate(deps.Calendar, userID, req.GetString("date", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		l, err := deps.Calendar.FreeBusy(ctx, userID, date)
		if err != nil {
			return mcpError(fmt.Sprintf("free/busy failed: %v", err)), nil
		}
		if l.Result == nil {
			return mcpText("No calendar data for this day."), nil
		}
		return mcpJSON(newFreeBusyResponse(date, l))
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
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
