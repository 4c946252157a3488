package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/deepresearch-mcp/orchestrator/internal/domain"
	"github.com/deepresearch-mcp/orchestrator/internal/domain/research"
)

// registerTools registers the six deep-research tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.startTool(),
		s.statusTool(),
		s.getTool(),
		s.cancelTool(),
		s.estimateTool(),
		s.saveTool(),
	)
}

func (s *Server) startTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("start",
		mcplib.WithDescription("Start a new deep research task; returns immediately, either with a completed result or a task_id to poll"),
		mcplib.WithString("query", mcplib.Required(), mcplib.Description("The research question, 3 to 10000 characters")),
		mcplib.WithBoolean("notify_on_done", mcplib.Description("Send a desktop notification when the task finishes"), mcplib.DefaultBool(true)),
		mcplib.WithNumber("max_wait_hours", mcplib.Description("Abandon the task if it runs longer than this many hours (1-24)"), mcplib.DefaultNumber(8)),
		mcplib.WithString("model", mcplib.Description("Provider model identifier; when omitted, the task is submitted with an empty model (the configured provider default_model is not applied)")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleStart}
}

func (s *Server) statusTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("status",
		mcplib.WithDescription("Check the current progress of a research task without waiting for completion"),
		mcplib.WithString("task_id", mcplib.Required(), mcplib.Description("The task_id returned by start")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleStatus}
}

func (s *Server) getTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get",
		mcplib.WithDescription("Retrieve the report and sources for a completed or cancelled research task"),
		mcplib.WithString("task_id", mcplib.Required(), mcplib.Description("The task_id returned by start")),
		mcplib.WithBoolean("include_sources", mcplib.Description("Include the sources list in the response"), mcplib.DefaultBool(true)),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGet}
}

func (s *Server) cancelTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("cancel",
		mcplib.WithDescription("Cancel a running research task"),
		mcplib.WithString("task_id", mcplib.Required(), mcplib.Description("The task_id returned by start")),
		mcplib.WithBoolean("save_partial", mcplib.Description("Persist the best-available partial result before cancelling"), mcplib.DefaultBool(true)),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleCancel}
}

func (s *Server) estimateTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("estimate",
		mcplib.WithDescription("Estimate the likely duration and cost of a research query before starting it"),
		mcplib.WithString("query", mcplib.Required(), mcplib.Description("The research question to estimate")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleEstimate}
}

func (s *Server) saveTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("save",
		mcplib.WithDescription("Render a completed task's result to a markdown file on disk"),
		mcplib.WithString("task_id", mcplib.Required(), mcplib.Description("The task_id returned by start")),
		mcplib.WithString("output_dir", mcplib.Required(), mcplib.Description("Directory under which a YYYY-MM subdirectory is created")),
		mcplib.WithString("filename_prefix", mcplib.Description("Prefix for the generated filename"), mcplib.DefaultString("research")),
		mcplib.WithBoolean("include_metadata", mcplib.Description("Include the metadata section in the rendered file"), mcplib.DefaultBool(true)),
		mcplib.WithBoolean("include_sources", mcplib.Description("Include the sources section in the rendered file"), mcplib.DefaultBool(true)),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleSave}
}

func (s *Server) handleStart(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()
	query, _ := args["query"].(string)
	if query == "" {
		return toolError("query is required", nil), nil
	}

	startReq := research.StartRequest{
		Query:        query,
		Model:        stringArg(args, "model", ""),
		NotifyOnDone: boolArg(args, "notify_on_done", true),
		MaxWaitHours: intArg(args, "max_wait_hours", 0),
	}

	outcome, err := s.deps.Engine.Start(ctx, startReq)
	if err != nil {
		return toolError(fmt.Sprintf("failed to start task %s", describeErr(err)), err), nil
	}

	resp := map[string]any{
		"mode":    outcome.Mode,
		"status":  string(outcome.Status),
		"task_id": outcome.Task.TaskID,
	}
	if outcome.Result != nil {
		resp["results"] = map[string]any{
			"report":   outcome.Result.Report,
			"sources":  outcome.Result.Sources,
			"metadata": outcome.Result.Metadata,
		}
	}
	return jsonResult(resp)
}

func (s *Server) handleStatus(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	taskID, ok := requiredStringArg(req, "task_id")
	if !ok {
		return toolError("task_id is required", nil), nil
	}

	st, err := s.deps.Engine.GetStatus(ctx, taskID)
	if err != nil {
		return toolError(fmt.Sprintf("failed to get status for %s", taskID), err), nil
	}

	resp := map[string]any{
		"task_id":         st.TaskID,
		"status":          string(st.TaskStatus),
		"progress":        st.Progress,
		"current_action":  st.CurrentAction,
		"elapsed_minutes": st.ElapsedMinutes,
		"tokens":          st.Tokens,
		"cost_so_far":     st.CostSoFar,
	}
	if st.EstimatedCompletionMinutes != nil {
		resp["estimated_completion_minutes"] = *st.EstimatedCompletionMinutes
	}
	return jsonResult(resp)
}

func (s *Server) handleGet(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()
	taskID, ok := requiredStringArg(req, "task_id")
	if !ok {
		return toolError("task_id is required", nil), nil
	}
	includeSources := boolArg(args, "include_sources", true)

	task, result, err := s.deps.Engine.GetResult(ctx, taskID, includeSources)
	if err != nil {
		return toolError(fmt.Sprintf("failed to get result for %s", taskID), err), nil
	}

	resp := map[string]any{
		"task_id":  task.TaskID,
		"query":    task.Query,
		"report":   result.Report,
		"metadata": result.Metadata,
	}
	if includeSources {
		resp["sources"] = result.Sources
	}
	return jsonResult(resp)
}

func (s *Server) handleCancel(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()
	taskID, ok := requiredStringArg(req, "task_id")
	if !ok {
		return toolError("task_id is required", nil), nil
	}
	savePartial := boolArg(args, "save_partial", true)

	outcome, err := s.deps.Engine.Cancel(ctx, taskID, savePartial)
	if err != nil {
		return toolError(fmt.Sprintf("failed to cancel %s", taskID), err), nil
	}

	task, taskErr := s.deps.Engine.GetStatus(ctx, taskID)
	progress, cost := 0, 0.0
	if taskErr == nil {
		progress, cost = task.Progress, task.CostSoFar
	}

	resp := map[string]any{
		"status":                   "cancelled",
		"partial_results_saved":    outcome.PartialSaved,
		"progress_at_cancellation": progress,
		"cost_usd":                 cost,
	}
	return jsonResult(resp)
}

func (s *Server) handleEstimate(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	query, ok := requiredStringArg(req, "query")
	if !ok {
		return toolError("query is required", nil), nil
	}

	est := s.deps.Engine.Estimate(query)
	resp := map[string]any{
		"complexity": string(est.Complexity),
		"duration": map[string]float64{
			"min":    est.MinMinutes,
			"max":    est.MaxMinutes,
			"likely": est.LikelyMinutes,
		},
		"cost": map[string]float64{
			"min":    est.MinUSD,
			"max":    est.MaxUSD,
			"likely": est.LikelyUSD,
		},
		"will_likely_go_async": est.WillLikelyGoAsync,
		"recommendation":       est.Recommendation,
	}
	return jsonResult(resp)
}

func (s *Server) handleSave(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()
	taskID, ok := requiredStringArg(req, "task_id")
	if !ok {
		return toolError("task_id is required", nil), nil
	}
	outDir, ok := args["output_dir"].(string)
	if !ok || outDir == "" {
		return toolError("output_dir is required", nil), nil
	}

	result, err := s.deps.Engine.SaveToMarkdown(
		ctx, taskID, outDir,
		stringArg(args, "filename_prefix", "research"),
		boolArg(args, "include_metadata", true),
		boolArg(args, "include_sources", true),
	)
	if err != nil {
		return toolError(fmt.Sprintf("failed to save %s", taskID), err), nil
	}

	sections := []string{"report"}
	if boolArg(args, "include_metadata", true) {
		sections = append(sections, "metadata")
	}
	if boolArg(args, "include_sources", true) {
		sections = append(sections, "sources")
	}

	resp := map[string]any{
		"file_path":         result.FilePath,
		"filename":          filepath.Base(result.FilePath),
		"file_size_kb":      result.SizeKB,
		"sections_included": sections,
	}
	return jsonResult(resp)
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return toolError("failed to marshal response", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func requiredStringArg(req mcplib.CallToolRequest, name string) (string, bool) { //nolint:gocritic // hugeParam: mcp-go handler signature
	v, ok := req.GetArguments()[name].(string)
	return v, ok && v != ""
}

func stringArg(args map[string]any, name, def string) string {
	if v, ok := args[name].(string); ok && v != "" {
		return v
	}
	return def
}

func boolArg(args map[string]any, name string, def bool) bool {
	if v, ok := args[name].(bool); ok {
		return v
	}
	return def
}

func intArg(args map[string]any, name string, def int) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func describeErr(err error) string {
	return string(domain.KindOf(err))
}
