// Package estimator analyzes a research query's text to produce a
// pre-submission cost and duration estimate, without invoking any provider.
package estimator

import (
	"strings"
	"unicode"

	"github.com/deepresearch-mcp/orchestrator/internal/domain/research"
)

var complexKeywords = []string{
	"comprehensive", "detailed", "in-depth", "thorough", "extensive",
	"analysis", "compare", "contrast", "evaluate", "synthesize",
	"implications", "geopolitical", "historical", "trends", "forecast",
}

var multiDomainIndicators = []string{
	"and", "vs", "versus", "between", "across", "multiple",
	"different", "various", "compare", "relation",
}

var temporalIndicators = []string{
	"history", "evolution", "timeline", "past", "future",
	"trends", "forecast", "prediction", "development", "changes",
}

type durationEstimate struct {
	min, max, likely float64
}

var durationEstimates = map[research.Complexity]durationEstimate{
	research.ComplexitySimple:  {0.5, 3, 1},
	research.ComplexityMedium:  {3, 20, 8},
	research.ComplexityComplex: {15, 60, 35},
}

type costEstimate struct {
	min, max, likely float64
}

var costEstimates = map[research.Complexity]costEstimate{
	research.ComplexitySimple:  {0.10, 0.50, 0.25},
	research.ComplexityMedium:  {0.50, 2.00, 1.00},
	research.ComplexityComplex: {1.50, 6.00, 3.00},
}

// Estimate analyzes query and returns a CostEstimate. It is a pure function
// of the query text; no state, no I/O.
func Estimate(query string) research.CostEstimate {
	complexity := analyzeComplexity(query)
	dur := durationEstimates[complexity]
	cost := costEstimates[complexity]

	return research.CostEstimate{
		Complexity:        complexity,
		MinMinutes:        dur.min,
		MaxMinutes:        dur.max,
		LikelyMinutes:     dur.likely,
		MinUSD:            cost.min,
		MaxUSD:            cost.max,
		LikelyUSD:         cost.likely,
		WillLikelyGoAsync: dur.likely > 1,
		Recommendation:    recommendation(complexity, query),
	}
}

func analyzeComplexity(query string) research.Complexity {
	lower := strings.ToLower(query)
	words := strings.Fields(query)
	score := 0

	switch {
	case len(words) > 50:
		score += 3
	case len(words) > 25:
		score += 2
	case len(words) > 10:
		score += 1
	}

	score += min(countContains(lower, complexKeywords), 4)
	score += min(countContains(lower, multiDomainIndicators), 3)
	score += min(countContains(lower, temporalIndicators), 2)

	questionMarks := strings.Count(query, "?")
	switch {
	case questionMarks > 2:
		score += 2
	case questionMarks > 1:
		score += 1
	}

	score += min(properNounCount(words)/2, 2)

	switch {
	case score >= 8:
		return research.ComplexityComplex
	case score >= 4:
		return research.ComplexityMedium
	default:
		return research.ComplexitySimple
	}
}

func countContains(lower string, terms []string) int {
	n := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			n++
		}
	}
	return n
}

// properNounCount counts capitalized words that don't follow a sentence
// boundary, a rough signal for named entities and technical terms.
func properNounCount(words []string) int {
	n := 0
	for i := 1; i < len(words); i++ {
		w := words[i]
		prev := words[i-1]
		if w == "" {
			continue
		}
		if !unicode.IsUpper([]rune(w)[0]) {
			continue
		}
		if endsInSentenceBoundary(prev) {
			continue
		}
		n++
	}
	return n
}

func endsInSentenceBoundary(w string) bool {
	if w == "" {
		return false
	}
	last := w[len(w)-1]
	return last == '.' || last == '?' || last == '!'
}

func recommendation(complexity research.Complexity, query string) string {
	var base string
	switch complexity {
	case research.ComplexitySimple:
		base = "Simple query detected. Should complete quickly (under 2 minutes) " +
			"and stay within synchronous execution."
	case research.ComplexityComplex:
		base = "Complex multi-domain query detected. Will likely require 30+ minutes " +
			"and switch to async mode. Consider breaking into smaller focused " +
			"queries if time is critical, or enable notifications for completion alert."
	default:
		base = "Medium complexity query. May take 5-15 minutes and could switch " +
			"to async mode if initial processing exceeds 30 seconds. " +
			"Consider enabling notifications for status updates."
	}

	lower := strings.ToLower(query)
	var sb strings.Builder
	sb.WriteString(base)

	if strings.Contains(lower, "compare") || strings.Contains(lower, "vs") {
		sb.WriteString(" Comparative analysis typically requires extensive source gathering.")
	}
	for _, geo := range []string{"geopolitical", "international", "global"} {
		if strings.Contains(lower, geo) {
			sb.WriteString(" Geopolitical topics often involve diverse perspectives and may take longer.")
			break
		}
	}
	if len(strings.Fields(query)) > 100 {
		sb.WriteString(" Very long query - consider summarizing or focusing on key aspects.")
	}

	return sb.String()
}
