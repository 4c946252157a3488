package render

import (
	"strings"
	"testing"
	"time"

	"github.com/deepresearch-mcp/orchestrator/internal/domain/research"
)

func sampleTask() research.Task {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return research.Task{
		TaskID:      "11111111-1111-1111-1111-111111111111",
		Query:       "What are the economic effects of remote work?",
		Model:       "gemini-2.0-flash-thinking-exp",
		Status:      research.StatusCompleted,
		TokensIn:    1200,
		TokensOut:   3400,
		CostUSD:     0.0148,
		CreatedAt:   now,
		CompletedAt: now.Add(8 * time.Minute),
	}
}

func sampleResult() research.Result {
	return research.Result{
		TaskID: "11111111-1111-1111-1111-111111111111",
		Report: "Remote work has shifted commercial real estate demand...",
		Sources: []research.Source{
			{Title: "BLS Report", URL: "https://bls.gov/x", Snippet: "Labor stats", RelevanceScore: 0.9},
		},
	}
}

func TestRenderIncludesAllSections(t *testing.T) {
	out, err := Render(sampleTask(), sampleResult(), Options{IncludeMetadata: true, IncludeSources: true}, "2026-01-01T12:10:00Z")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"## Metadata", "## Findings", "## Sources", "BLS Report", "template v" + TemplateVersion} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestRenderOmitsGatedSections(t *testing.T) {
	out, err := Render(sampleTask(), sampleResult(), Options{IncludeMetadata: false, IncludeSources: false}, "2026-01-01T12:10:00Z")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, "## Metadata") {
		t.Error("expected metadata section to be omitted")
	}
	if strings.Contains(out, "## Sources") {
		t.Error("expected sources section to be omitted")
	}
}

func TestRenderOmitsSourcesWhenEmpty(t *testing.T) {
	result := sampleResult()
	result.Sources = nil
	out, err := Render(sampleTask(), result, Options{IncludeMetadata: true, IncludeSources: true}, "2026-01-01T12:10:00Z")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, "## Sources") {
		t.Error("expected sources section to be omitted when there are no sources")
	}
}

func TestRenderTitleTruncation(t *testing.T) {
	task := sampleTask()
	task.Query = strings.Repeat("a", 100)
	out, err := Render(task, sampleResult(), Options{}, "2026-01-01T12:10:00Z")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, strings.Repeat("a", 77)+"...") {
		t.Error("expected title to be truncated to 77 chars plus ellipsis")
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	out1, _ := Render(sampleTask(), sampleResult(), Options{IncludeMetadata: true, IncludeSources: true}, "2026-01-01T12:10:00Z")
	out2, _ := Render(sampleTask(), sampleResult(), Options{IncludeMetadata: true, IncludeSources: true}, "2026-01-01T12:10:00Z")
	if out1 != out2 {
		t.Error("expected Render to be a pure function of its inputs")
	}
}
