package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/zenflow/internal/advisor"
	"github.com/kalambet/zenflow/internal/calendar"
	"github.com/kalambet/zenflow/internal/theme"
	"github.com/kalambet/zenflow/internal/usage"
)

// --- helpers ---

func (e *testEnv) mcpDeps() MCPDeps {
	return MCPDeps{
		Pipeline: e.pipeline(),
		Sessions: e.sessions,
		Gate:     e.gate,
		Feedback: e.db,
		Calendar: e.cal,
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func callOK(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), req mcp.CallToolRequest) string {
	t.Helper()
	result, err := h(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	return toolText(t, result)
}

// --- tests ---

func TestMCPServer_Builds(t *testing.T) {
	if s := NewMCPServer(newTestEnv(t).mcpDeps()); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_ScoreSchedule(t *testing.T) {
	text := callOK(t, mcpScoreSchedule(), makeCallToolRequest("score_schedule", map[string]interface{}{
		"schedule": busySchedule,
	}))
	var v BusynessView
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if v.Score != 50 || v.Label != "Looks moderately busy" {
		t.Errorf("view = %+v", v)
	}

	result, _ := mcpScoreSchedule()(context.Background(), makeCallToolRequest("score_schedule", nil))
	if !result.IsError {
		t.Error("expected error without schedule")
	}
}

func TestMCPTool_RecommendFlow(t *testing.T) {
	env := newTestEnv(t)
	text := callOK(t, mcpRecommendFlow(env.mcpDeps()), makeCallToolRequest("recommend_flow", map[string]interface{}{
		"schedule": "9:00 AM standup",
	}))

	var v AnalyzeView
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if v.Session.Recommendation.BusynessLevel != advisor.Busy || v.Usage.Count != 1 {
		t.Errorf("view = %+v", v)
	}
	if has, _ := env.sessions.HasSnapshot(); !has {
		t.Error("snapshot not saved")
	}
}

func TestMCPTool_RecommendFlow_Errors(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		env := newTestEnv(t)
		result, err := mcpRecommendFlow(env.mcpDeps())(context.Background(), makeCallToolRequest("recommend_flow", map[string]interface{}{
			"schedule": "",
		}))
		if err != nil {
			t.Fatal(err)
		}
		if !result.IsError {
			t.Fatal("expected tool error")
		}
	})

	t.Run("limit", func(t *testing.T) {
		env := newTestEnv(t)
		for i := 0; i < usage.Limit; i++ {
			env.gate.RecordUsage()
		}
		result, _ := mcpRecommendFlow(env.mcpDeps())(context.Background(), makeCallToolRequest("recommend_flow", map[string]interface{}{
			"schedule": "9:00 AM x",
		}))
		if !result.IsError || !strings.Contains(toolText(t, result), "twitter.com/intent/tweet") {
			t.Errorf("result = %+v", result)
		}
	})

	t.Run("backend", func(t *testing.T) {
		env := newTestEnv(t)
		env.rec = func(context.Context, string) (advisor.Recommendation, error) {
			return advisor.Recommendation{}, errors.New("gemini api error: bad key")
		}
		result, _ := mcpRecommendFlow(env.mcpDeps())(context.Background(), makeCallToolRequest("recommend_flow", map[string]interface{}{
			"schedule": "9:00 AM x",
		}))
		if !result.IsError || toolText(t, result) != "gemini api error: bad key" {
			t.Errorf("result = %q", toolText(t, result))
		}
	})
}

func TestMCPTool_SessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	deps := env.mcpDeps()

	if got := callOK(t, mcpGetSession(deps), makeCallToolRequest("get_session", nil)); got != "No saved session." {
		t.Errorf("get_session before run = %q", got)
	}

	callOK(t, mcpRecommendFlow(deps), makeCallToolRequest("recommend_flow", map[string]interface{}{"schedule": "9:00 AM x"}))

	text := callOK(t, mcpGetSession(deps), makeCallToolRequest("get_session", nil))
	if !strings.Contains(text, "Restorative Yoga") {
		t.Errorf("get_session = %s", text)
	}

	callOK(t, mcpClearSession(deps), makeCallToolRequest("clear_session", nil))
	if has, _ := env.sessions.HasSnapshot(); has {
		t.Error("snapshot still present after clear_session")
	}
}

func TestMCPTool_UsageActions(t *testing.T) {
	env := newTestEnv(t)
	deps := env.mcpDeps()
	env.gate.RecordUsage()
	env.gate.RecordUsage()

	var v UsageView
	json.Unmarshal([]byte(callOK(t, mcpUsageStatus(deps), makeCallToolRequest("usage_status", nil))), &v)
	if v.Count != 2 || v.Remaining != 1 || v.HasSavedSession {
		t.Errorf("usage_status = %+v", v)
	}

	json.Unmarshal([]byte(callOK(t, mcpShare(deps), makeCallToolRequest("share_to_unlock", nil))), &v)
	if v.Count != 0 || v.ShareURL == "" {
		t.Errorf("share_to_unlock = %+v", v)
	}

	json.Unmarshal([]byte(callOK(t, mcpSubscribe(deps), makeCallToolRequest("subscribe", nil))), &v)
	if !v.Subscribed {
		t.Errorf("subscribe = %+v", v)
	}
}

func TestMCPTool_SetTheme(t *testing.T) {
	env := newTestEnv(t)
	deps := env.mcpDeps()

	callOK(t, mcpSetTheme(deps), makeCallToolRequest("set_theme", map[string]interface{}{"name": "sunset"}))
	p, err := env.sessions.LoadTheme()
	if err != nil || p.Name != theme.Sunset {
		t.Errorf("theme = %+v, %v", p, err)
	}

	result, _ := mcpSetTheme(deps)(context.Background(), makeCallToolRequest("set_theme", map[string]interface{}{
		"name":    "custom",
		"primary": "green",
	}))
	if !result.IsError {
		t.Error("expected error for invalid custom color")
	}
}

func TestMCPTool_GiveFeedback(t *testing.T) {
	env := newTestEnv(t)
	deps := env.mcpDeps()

	callOK(t, mcpGiveFeedback(deps), makeCallToolRequest("give_feedback", map[string]interface{}{
		"sentiment": "negative",
		"notes":     "too intense",
	}))
	items, err := env.db.ListFeedback(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Sentiment != "negative" || items[0].Notes != "too intense" {
		t.Errorf("feedback = %+v", items)
	}

	result, _ := mcpGiveFeedback(deps)(context.Background(), makeCallToolRequest("give_feedback", map[string]interface{}{
		"sentiment": "neutral",
	}))
	if !result.IsError {
		t.Error("expected error for invalid sentiment")
	}
}

func TestMCPTool_SyncCalendar(t *testing.T) {
	env := newTestEnv(t)
	deps := env.mcpDeps()

	if got := callOK(t, mcpSyncCalendar(deps), makeCallToolRequest("sync_calendar", nil)); got != busySchedule {
		t.Errorf("sync_calendar = %q", got)
	}

	env.cal.list = func(context.Context) (string, error) { return "", calendar.ErrPermissionDenied }
	result, _ := mcpSyncCalendar(deps)(context.Background(), makeCallToolRequest("sync_calendar", nil))
	if !result.IsError || toolText(t, result) != calendar.MessagePermissionDenied {
		t.Errorf("result = %q", toolText(t, result))
	}

	deps.Calendar = nil
	result, _ = mcpSyncCalendar(deps)(context.Background(), makeCallToolRequest("sync_calendar", nil))
	if !result.IsError || toolText(t, result) != calendar.MessageNotConfigured {
		t.Errorf("result without calendar = %q", toolText(t, result))
	}
}

func TestMCPResources(t *testing.T) {
	env := newTestEnv(t)
	deps := env.mcpDeps()

	contents, err := mcpResourceSession(deps)(context.Background(), makeReadResourceRequest("zenflow://session"))
	if err != nil {
		t.Fatalf("session resource: %v", err)
	}
	if got := contents[0].(mcp.TextResourceContents).Text; got != "{}" {
		t.Errorf("empty session resource = %q", got)
	}

	contents, err = mcpResourceUsage(deps)(context.Background(), makeReadResourceRequest("zenflow://usage"))
	if err != nil {
		t.Fatalf("usage resource: %v", err)
	}
	trc := contents[0].(mcp.TextResourceContents)
	if trc.URI != "zenflow://usage" || trc.MIMEType != "application/json" || !strings.Contains(trc.Text, `"limit":3`) {
		t.Errorf("usage resource = %+v", trc)
	}
}
