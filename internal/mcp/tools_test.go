package mcp_test

import (
	"context"
	"encoding/json"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	drmcp "github.com/deepresearch-mcp/orchestrator/internal/mcp"
)

func newTestServer(t *testing.T) *drmcp.Server {
	t.Helper()
	eng := newFakeEngineHarness(t)
	return drmcp.NewServer(drmcp.ServerConfig{Name: "test", Version: "0.1.0"}, drmcp.ServerDeps{Engine: eng})
}

func callTool(t *testing.T, s *drmcp.Server, name string, args map[string]any) map[string]any {
	t.Helper()
	tools := s.MCPServer().ListTools()
	tool, ok := tools[name]
	if !ok {
		t.Fatalf("tool %q not registered", name)
	}

	result, err := tool.Handler(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool %q returned an error result: %v", name, result.Content)
	}

	text, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(text.Text), &out); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return out
}

func TestToolRegistration(t *testing.T) {
	s := newTestServer(t)
	tools := s.MCPServer().ListTools()

	for _, name := range []string{"start", "status", "get", "cancel", "estimate", "save"} {
		if _, ok := tools[name]; !ok {
			t.Errorf("expected tool %q to be registered", name)
		}
	}
	if len(tools) != 6 {
		t.Errorf("expected exactly 6 tools, got %d", len(tools))
	}
}

func TestHandleStartAndStatusAndGet(t *testing.T) {
	s := newTestServer(t)

	startResp := callTool(t, s, "start", map[string]any{"query": "what is the speed of light in a vacuum"})
	if startResp["mode"] != "sync" {
		t.Fatalf("expected sync mode, got %v", startResp["mode"])
	}
	taskID, _ := startResp["task_id"].(string)
	if taskID == "" {
		t.Fatal("expected a task_id")
	}

	statusResp := callTool(t, s, "status", map[string]any{"task_id": taskID})
	if statusResp["status"] != "completed" {
		t.Fatalf("expected completed status, got %v", statusResp["status"])
	}

	getResp := callTool(t, s, "get", map[string]any{"task_id": taskID})
	if getResp["report"] == "" || getResp["report"] == nil {
		t.Fatalf("expected a non-empty report, got %v", getResp["report"])
	}
}

func TestHandleStartMissingQueryIsError(t *testing.T) {
	s := newTestServer(t)
	tools := s.MCPServer().ListTools()
	tool := tools["start"]

	result, err := tool.Handler(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: "start", Arguments: map[string]any{}},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result for a missing query")
	}
}

func TestHandleEstimate(t *testing.T) {
	s := newTestServer(t)
	resp := callTool(t, s, "estimate", map[string]any{"query": "a research question about deep sea ecosystems"})
	if resp["complexity"] == "" || resp["complexity"] == nil {
		t.Fatalf("expected a complexity classification, got %v", resp["complexity"])
	}
	if _, ok := resp["duration"]; !ok {
		t.Fatal("expected a duration field")
	}
}

func TestHandleCancelUnknownTaskIsError(t *testing.T) {
	s := newTestServer(t)
	tools := s.MCPServer().ListTools()
	tool := tools["cancel"]

	result, err := tool.Handler(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: "cancel", Arguments: map[string]any{"task_id": "no-such-task"}},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result for an unknown task_id")
	}
}
