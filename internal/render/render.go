// Package render deterministically renders a research Result (plus its
// Task's metadata) into a fixed, version-stamped markdown document.
// Rendering is a pure function of its inputs; output file placement is the
// engine's responsibility, not this package's.
package render

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/deepresearch-mcp/orchestrator/internal/domain/research"
)

// TemplateVersion is stamped into the footer of every rendered document so
// reports remain traceable to the renderer that produced them.
const TemplateVersion = "1"

const reportTemplate = `# {{.Title}}

**Task ID:** {{.TaskID}}
**Status:** {{.Status}}
**Query:** {{.Query}}

{{if .IncludeMetadata -}}
## Metadata

- Model: {{.Model}}
- Created: {{.CreatedAt}}
- Completed: {{.CompletedAt}}
- Duration: {{printf "%.2f" .DurationMinutes}} minutes
- Cost: ${{printf "%.4f" .CostUSD}}
- Tokens in/out: {{.TokensIn}} / {{.TokensOut}}

{{end -}}
## Findings

{{.Report}}

{{if and .IncludeSources .Sources -}}
## Sources

{{range .Sources}}- [{{.Title}}]({{.URL}}){{if .Snippet}} — {{.Snippet}}{{end}}
{{end}}
{{end -}}
---
_Generated by deepresearch-mcp orchestrator, template v{{.Version}}, saved {{.SavedAt}}_
`

var tmpl = template.Must(template.New("research_report").Parse(reportTemplate))

// Options control which optional sections are included.
type Options struct {
	IncludeMetadata bool
	IncludeSources  bool
}

type context struct {
	Title           string
	TaskID          string
	Status          string
	Query           string
	Report          string
	Sources         []research.Source
	Model           string
	CreatedAt       string
	CompletedAt     string
	DurationMinutes float64
	CostUSD         float64
	TokensIn        int
	TokensOut       int
	IncludeMetadata bool
	IncludeSources  bool
	SavedAt         string
	Version         string
}

// Render produces the markdown document for task/result under opts. savedAt
// is the RFC3339 timestamp stamped as the render time, supplied by the
// caller so this function stays a pure function of its arguments.
func Render(task research.Task, result research.Result, opts Options, savedAt string) (string, error) {
	ctx := context{
		Title:           title(task.Query),
		TaskID:          task.TaskID,
		Status:          string(task.Status),
		Query:           task.Query,
		Report:          result.Report,
		Sources:         result.Sources,
		Model:           task.Model,
		CreatedAt:       formatTime(task.CreatedAt),
		CompletedAt:     formatTime(task.CompletedAt),
		DurationMinutes: durationMinutes(task),
		CostUSD:         task.CostUSD,
		TokensIn:        task.TokensIn,
		TokensOut:       task.TokensOut,
		IncludeMetadata: opts.IncludeMetadata,
		IncludeSources:  opts.IncludeSources,
		SavedAt:         savedAt,
		Version:         TemplateVersion,
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, ctx); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return sb.String(), nil
}

func title(query string) string {
	if len(query) > 80 {
		return query[:77] + "..."
	}
	return query
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func durationMinutes(task research.Task) float64 {
	if task.CreatedAt.IsZero() || task.CompletedAt.IsZero() {
		return 0
	}
	return task.CompletedAt.Sub(task.CreatedAt).Minutes()
}
