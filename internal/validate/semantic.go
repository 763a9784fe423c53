package validate

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"alainkit/internal/llm"
	"alainkit/internal/logging"
	"alainkit/internal/notebook"
)

// Gate statuses shared by the semantic validator and the QA gate.
const (
	StatusPass = "pass"
	StatusWarn = "warn"
	StatusFail = "fail"
)

// SemanticReport is the advisory critique verdict. It never blocks a build:
// a skipped or failed critique degrades to warn.
type SemanticReport struct {
	Status          string   `json:"status"`
	Issues          []string `json:"issues"`
	FillerSections  []string `json:"filler_sections"`
	Recommendations []string `json:"recommendations"`
	Skipped         bool     `json:"skipped,omitempty"`
}

// SemanticValidator sends notebook excerpts through one critique completion.
// A nil client disables the check entirely.
type SemanticValidator struct {
	client llm.Client
	retry  llm.RetryPolicy
	logger *zap.Logger
}

// NewSemanticValidator builds a validator. client may be nil.
func NewSemanticValidator(client llm.Client, retry llm.RetryPolicy, logger *zap.Logger) *SemanticValidator {
	return &SemanticValidator{
		client: client,
		retry:  retry,
		logger: logging.Or(logger).Named("semantic"),
	}
}

// Evaluate runs the critique. Advisory only: missing client and request or
// parse failures all come back as warn, never as an error.
func (v *SemanticValidator) Evaluate(ctx context.Context, outline *notebook.Outline, sections []*notebook.Section) SemanticReport {
	if v.client == nil {
		v.logger.Warn("semantic QA skipped: no reviewer client configured")
		return SemanticReport{
			Status:          StatusWarn,
			Issues:          []string{"Semantic QA skipped: no reviewer client configured."},
			Recommendations: []string{"Configure a reviewer model to enable semantic QA."},
			Skipped:         true,
		}
	}

	raw, err := v.retry.Complete(ctx, v.client, llm.Request{
		System:      "You are a rigorous notebook quality reviewer. Respond ONLY with JSON matching the response schema.",
		Prompt:      buildCritiquePrompt(outline, sections),
		Temperature: 0,
		MaxTokens:   400,
	})
	if err != nil {
		v.logger.Error("semantic QA request failed", zap.Error(err))
		return SemanticReport{
			Status:          StatusWarn,
			Issues:          []string{fmt.Sprintf("Semantic QA request failed: %v", err)},
			Recommendations: []string{"Retry semantic QA once network/service is available."},
		}
	}

	var parsed SemanticReport
	if err := llm.DecodeObject(raw, &parsed); err != nil {
		return SemanticReport{
			Status:          StatusWarn,
			Issues:          []string{"Semantic QA returned an unparseable response."},
			Recommendations: []string{"Inspect notebook manually for filler content."},
		}
	}

	switch parsed.Status {
	case StatusPass, StatusWarn, StatusFail:
	default:
		parsed.Status = StatusWarn
	}
	return parsed
}

func buildCritiquePrompt(outline *notebook.Outline, sections []*notebook.Section) string {
	objectives := "Not provided"
	if len(outline.Objectives) > 0 {
		limit := len(outline.Objectives)
		if limit > 6 {
			limit = 6
		}
		objectives = strings.Join(outline.Objectives[:limit], "\n- ")
	}

	var summaries []string
	for _, s := range sections {
		var markdown []string
		for _, cell := range s.Content {
			if cell.CellType == "markdown" {
				markdown = append(markdown, cell.Source)
			}
		}
		excerpt := truncate(strings.Join(markdown, "\n"), 800)
		excerpt = strings.Join(strings.Fields(excerpt), " ")
		title := s.Title
		if title == "" {
			title = "Untitled"
		}
		summaries = append(summaries, fmt.Sprintf("Section %d: %s\nExcerpt: %s", s.SectionNumber, title, excerpt))
	}

	return fmt.Sprintf(`You are auditing a generated Jupyter notebook intended for production.
Notebook Title: %s
Objectives:
- %s

Sections:
%s

Tasks:
1. Identify any filler, placeholder, or repetitive content that indicates the model did not produce complete instructional material.
2. Flag missing explanations, undefined acronyms, or steps that simply restate the section title without depth.
3. Return a JSON object with fields:
{
  "status": "pass" | "warn" | "fail",
  "issues": ["..."],
  "filler_sections": ["Section N: reason"],
  "recommendations": ["actionable follow-ups"]
}
Status guidelines:
- "pass" when no issues are detected.
- "warn" when minor follow-up is recommended.
- "fail" when the notebook contains clear filler/incomplete sections.
Respond with JSON only.`, outline.Title, objectives, strings.Join(summaries, "\n\n"))
}

// truncate caps s at n bytes, backing up so no rune is split.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
