package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/zenflow/internal/calendar"
	"github.com/kalambet/zenflow/internal/pipeline"
	"github.com/kalambet/zenflow/internal/session"
	"github.com/kalambet/zenflow/internal/theme"
	"github.com/kalambet/zenflow/internal/usage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Pipeline       Analyzer
	Sessions       SessionStore
	Gate           UsageGate
	Feedback       FeedbackStore
	Calendar       calendar.Source // optional
	CalendarNotice string
}

// NewMCPServer creates an MCP server with all zenflow tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"zenflow",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("zenflow recommends a yoga flow for the day based on how busy the user's calendar is."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("score_schedule",
			mcp.WithDescription("Score how busy a day's schedule is (0-100) without calling the AI or using a free recommendation."),
			mcp.WithString("schedule", mcp.Description("Schedule text, one event per line with times like 9:00 AM"), mcp.Required()),
		),
		mcpScoreSchedule(),
	)

	s.AddTool(
		mcp.NewTool("recommend_flow",
			mcp.WithDescription("Analyze a schedule and recommend a yoga flow, sample pose, and videos. Uses one free recommendation unless subscribed."),
			mcp.WithString("schedule", mcp.Description("Schedule text for the day"), mcp.Required()),
		),
		mcpRecommendFlow(deps),
	)

	s.AddTool(
		mcp.NewTool("get_session",
			mcp.WithDescription("Return the most recent saved recommendation."),
		),
		mcpGetSession(deps),
	)

	s.AddTool(
		mcp.NewTool("clear_session",
			mcp.WithDescription("Forget the saved recommendation and its image."),
		),
		mcpClearSession(deps),
	)

	s.AddTool(
		mcp.NewTool("usage_status",
			mcp.WithDescription("Report free recommendations used and remaining, whether the user is subscribed, and whether a session is saved."),
		),
		mcpUsageStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("share_to_unlock",
			mcp.WithDescription("Reset the free recommendation counter in exchange for sharing ZenFlow. Returns the share text and link."),
		),
		mcpShare(deps),
	)

	s.AddTool(
		mcp.NewTool("subscribe",
			mcp.WithDescription("Unlock unlimited recommendations."),
		),
		mcpSubscribe(deps),
	)

	s.AddTool(
		mcp.NewTool("set_theme",
			mcp.WithDescription("Set the color theme: emerald, ocean, sunset, or custom."),
			mcp.WithString("name", mcp.Description("Theme name"), mcp.Required()),
			mcp.WithString("primary", mcp.Description("Primary color #rrggbb (custom only)")),
			mcp.WithString("accent", mcp.Description("Accent color #rrggbb (custom only)")),
		),
		mcpSetTheme(deps),
	)

	s.AddTool(
		mcp.NewTool("give_feedback",
			mcp.WithDescription("Record whether the last recommendation was helpful."),
			mcp.WithString("sentiment", mcp.Description("positive or negative"), mcp.Required()),
			mcp.WithString("notes", mcp.Description("Optional free-form comment")),
		),
		mcpGiveFeedback(deps),
	)

	s.AddTool(
		mcp.NewTool("sync_calendar",
			mcp.WithDescription("Fetch today's events from the connected calendar as schedule text."),
		),
		mcpSyncCalendar(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"zenflow://session",
			"Saved Session",
			mcp.WithResourceDescription("Most recent recommendation as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSession(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"zenflow://usage",
			"Usage",
			mcp.WithResourceDescription("Free recommendation usage and subscription state"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceUsage(deps),
	)

	return s
}

func mcpScoreSchedule() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		schedule, err := req.RequireString("schedule")
		if err != nil {
			return mcpError("schedule is required"), nil
		}
		return mcpJSON(busynessView(schedule)), nil
	}
}

func mcpRecommendFlow(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		schedule := req.GetString("schedule", "")

		res, err := deps.Pipeline.Analyze(ctx, schedule)
		if err != nil {
			var limitErr *pipeline.LimitError
			if errors.As(err, &limitErr) {
				v := usageView(limitErr.State)
				return mcpError(fmt.Sprintf("%s Share: %s", pipeline.UserMessage(err), v.ShareURL)), nil
			}
			return mcpError(pipeline.UserMessage(err)), nil
		}
		return mcpJSON(analyzeView(res)), nil
	}
}

func mcpGetSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		snap, err := deps.Sessions.LoadSnapshot()
		if errors.Is(err, session.ErrNoSnapshot) {
			return mcpText("No saved session."), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load session: %v", err)), nil
		}
		return mcpJSON(sessionView(snap)), nil
	}
}

func mcpClearSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := deps.Sessions.ClearSnapshot(); err != nil {
			return mcpError(fmt.Sprintf("failed to clear session: %v", err)), nil
		}
		return mcpText("Session cleared."), nil
	}
}

func mcpUsageStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpJSON(currentUsage(deps.Gate, deps.Sessions)), nil
	}
}

func mcpShare(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		state, err := deps.Gate.ResetUsage()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to reset usage: %v", err)), nil
		}
		v := usageView(state)
		v.ShareText = usage.ShareText
		v.ShareURL = usage.ShareURL()
		return mcpJSON(v), nil
	}
}

func mcpSubscribe(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		state, err := deps.Gate.GrantSubscription()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to subscribe: %v", err)), nil
		}
		return mcpJSON(usageView(state)), nil
	}
}

func mcpSetTheme(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}
		p, err := theme.Resolve(name, req.GetString("primary", ""), req.GetString("accent", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}
		if err := deps.Sessions.SaveTheme(p); err != nil {
			return mcpError(fmt.Sprintf("failed to save theme: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Theme set to %s", p.Name)), nil
	}
}

func mcpGiveFeedback(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sentiment, err := req.RequireString("sentiment")
		if err != nil {
			return mcpError("sentiment is required"), nil
		}
		f, err := session.RecordFeedback(deps.Sessions, deps.Feedback, sentiment, req.GetString("notes", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to record feedback: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Thanks! Recorded %s feedback %s", f.Sentiment, f.ID)), nil
	}
}

func mcpSyncCalendar(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Calendar == nil {
			msg := deps.CalendarNotice
			if msg == "" {
				msg = calendar.MessageNotConfigured
			}
			return mcpError(msg), nil
		}
		text, err := deps.Calendar.ListTodaysEvents(ctx)
		if err != nil {
			return mcpError(calendar.UserMessage(err)), nil
		}
		return mcpText(text), nil
	}
}

func mcpResourceSession(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		snap, err := deps.Sessions.LoadSnapshot()
		if errors.Is(err, session.ErrNoSnapshot) {
			return jsonResource(req.Params.URI, map[string]any{})
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
		return jsonResource(req.Params.URI, sessionView(snap))
	}
}

func mcpResourceUsage(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return jsonResource(req.Params.URI, currentUsage(deps.Gate, deps.Sessions))
	}
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func mcpJSON(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return mcpText(string(b))
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
