// Package section generates the body of one outline step per model call and
// salvages whatever the model returns: parse, post-process, completeness
// check, and a locally compiled fallback when nothing else works.
package section

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"alainkit/internal/llm"
	"alainkit/internal/logging"
	"alainkit/internal/notebook"
	"alainkit/internal/prompt"
	"alainkit/internal/review"
)

const (
	// TokenLimit and MinTokens bound a generated section's size.
	TokenLimit = 1500
	MinTokens  = 800

	templateName = "section.v1.txt"
)

var (
	placeholderPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Explanation with analogies`),
		regexp.MustCompile(`(?i)Clear, commented code`),
		regexp.MustCompile(`(?i)Helpful guidance`),
		regexp.MustCompile(`(?i)Minimal runnable example to satisfy validation`),
		regexp.MustCompile(`(?i)We need to produce JSON`),
		regexp.MustCompile(`(?i)Thinking\.{3}`),
		regexp.MustCompile(`(?i)Replace the placeholder`),
		regexp.MustCompile(`<<[^>]+>>`),
	}

	titlePrefix   = regexp.MustCompile(`^Step \d+:`)
	headingPrefix = regexp.MustCompile(`^## Step \d+:`)
)

// Request carries the inputs for one section generation.
type Request struct {
	Outline        *notebook.Outline
	SectionNumber  int
	Previous       []*notebook.Section
	ModelReference string
	MaxTokens      int
}

// Generator produces sections.
type Generator struct {
	client   llm.Client
	prompts  *prompt.Store
	recorder *review.Recorder
	retry    llm.RetryPolicy
	logger   *zap.Logger
}

// NewGenerator builds a section generator.
func NewGenerator(client llm.Client, prompts *prompt.Store, recorder *review.Recorder, retry llm.RetryPolicy, logger *zap.Logger) *Generator {
	return &Generator{
		client:   client,
		prompts:  prompts,
		recorder: recorder,
		retry:    retry,
		logger:   logging.Or(logger).Named("section"),
	}
}

// Generate runs one completion for the given step and returns a usable
// section. Responses that cannot be parsed or that fail the completeness
// check come back as a flagged fallback section, never as an error; only
// transport-level failures (after the retry policy is exhausted) error out.
func (g *Generator) Generate(ctx context.Context, req Request) (*notebook.Section, error) {
	if req.Outline == nil {
		return nil, fmt.Errorf("outline is required")
	}
	if req.SectionNumber < 1 || req.SectionNumber > len(req.Outline.Steps) {
		return nil, fmt.Errorf("section number %d out of range (outline has %d steps)", req.SectionNumber, len(req.Outline.Steps))
	}

	msgs, err := g.prompts.LoadHarmony(templateName)
	if err != nil {
		return nil, err
	}

	userPrompt, err := g.buildPrompt(msgs.Developer, req)
	if err != nil {
		return nil, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = TokenLimit
	}

	raw, err := g.retry.Complete(ctx, g.client, llm.Request{
		System:      msgs.System,
		Prompt:      userPrompt,
		Temperature: 0.2,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("section %d request failed: %w", req.SectionNumber, err)
	}

	return g.parseResponse(raw, req.SectionNumber), nil
}

func (g *Generator) buildPrompt(template string, req Request) (string, error) {
	step := req.Outline.Steps[req.SectionNumber-1]
	title := step.Title
	if title == "" {
		title = fmt.Sprintf("Section %d", req.SectionNumber)
	}

	outlineJSON, err := json.MarshalIndent(req.Outline, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize outline: %w", err)
	}
	previous := req.Previous
	if previous == nil {
		previous = []*notebook.Section{}
	}
	previousJSON, err := json.MarshalIndent(previous, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize previous sections: %w", err)
	}

	return prompt.Render(template, map[string]string{
		"MIN_TOKENS":        strconv.Itoa(MinTokens),
		"MAX_TOKENS":        strconv.Itoa(TokenLimit),
		"SECTION_NUMBER":    strconv.Itoa(req.SectionNumber),
		"SECTION_TITLE":     title,
		"DEFAULT_TOKENS":    strconv.Itoa(min(MinTokens+400, TokenLimit)),
		"OUTLINE_JSON":      string(outlineJSON),
		"PREVIOUS_SECTIONS": string(previousJSON),
		"MODEL_REFERENCE":   req.ModelReference,
	}), nil
}

// parseResponse turns the raw completion into a section: strict decode on the
// sanitized extract, tolerant decode next, compiled fallback last. Sections
// that decode but fail the completeness check also fall back.
func (g *Generator) parseResponse(raw string, sectionNumber int) *notebook.Section {
	extracted, err := llm.Sanitize(raw)
	if err != nil {
		g.logger.Warn("no JSON object in section response",
			zap.Int("section", sectionNumber))
		return g.fallback(raw, sectionNumber, "no JSON object in response")
	}

	var section notebook.Section
	if err := llm.DecodeObject(extracted, &section); err != nil {
		g.logger.Warn("section JSON parse failed",
			zap.Int("section", sectionNumber), zap.Error(err))
		return g.fallback(raw, sectionNumber, "response JSON could not be parsed")
	}

	PostProcess(&section, sectionNumber)
	if issues := Completeness(&section); len(issues) > 0 {
		message := strings.Join(issues, "; ")
		payload, _ := json.MarshalIndent(&section, "", "  ")
		g.recorder.Trace(fmt.Sprintf("section-%d", sectionNumber), 0, "incomplete", message)
		g.recorder.Record(fmt.Sprintf("section-%02d", sectionNumber), "incomplete", string(payload))
		return g.fallback(raw, sectionNumber, message)
	}
	return &section
}

func (g *Generator) fallback(raw string, sectionNumber int, reason string) *notebook.Section {
	g.recorder.Trace(fmt.Sprintf("section-%d", sectionNumber), 0, "compiled_fallback", reason)
	g.recorder.Record(fmt.Sprintf("section-%02d", sectionNumber), "compiled_fallback", raw)
	return CompileFallback(raw, sectionNumber)
}

// PostProcess normalizes a decoded section in place: pin the section number,
// de-duplicate doubled step prefixes, and replace the model's token estimate
// with a local one clamped to the ceiling.
func PostProcess(s *notebook.Section, sectionNumber int) {
	s.SectionNumber = sectionNumber
	s.Title = dedupePrefix(s.Title, titlePrefix)
	for i := range s.Content {
		if s.Content[i].CellType == "markdown" {
			s.Content[i].Source = dedupePrefix(s.Content[i].Source, headingPrefix)
		}
	}

	// The model's own estimate is advisory at best.
	est := notebook.SectionTokens(s)
	if est > TokenLimit {
		est = TokenLimit
	}
	s.EstimatedTokens = est
}

// Completeness returns the reasons a decoded section is unusable as-is.
func Completeness(s *notebook.Section) []string {
	var issues []string

	markdown, code := 0, 0
	for _, cell := range s.Content {
		switch cell.CellType {
		case "markdown":
			markdown++
		case "code":
			code++
		}
	}
	if markdown < 1 {
		issues = append(issues, "requires at least one markdown cell with substantive content")
	}
	if code < 1 {
		issues = append(issues, "requires at least one runnable code cell")
	}

	for _, cell := range s.Content {
		source := cell.Source
		for _, pattern := range placeholderPatterns {
			if pattern.MatchString(source) {
				issues = append(issues, "placeholder text detected")
				break
			}
		}
		if cell.CellType == "markdown" && len(strings.TrimSpace(source)) < 150 {
			issues = append(issues, "markdown content too short (<150 characters)")
		}
		if cell.CellType == "code" {
			lines := nonEmptyLines(source)
			executable := false
			for _, line := range lines {
				if !strings.HasPrefix(strings.TrimSpace(line), "#") {
					executable = true
					break
				}
			}
			if len(lines) < 3 || !executable {
				issues = append(issues, "code cell lacks executable content")
			}
		}
	}

	if len(s.Callouts) < 3 {
		issues = append(issues, "missing required callouts (tip, warning, note)")
	}

	return issues
}

// CompileFallback builds a section from an unusable response. The result is
// flagged, passes Validate, and reads as an explicit manual-review slot.
func CompileFallback(raw string, sectionNumber int) *notebook.Section {
	sanitized := strings.TrimSpace(strings.ReplaceAll(raw, "```", ""))
	if sanitized == "" {
		sanitized = "Content unavailable. Manual authoring required."
	} else {
		sanitized = truncate(sanitized, 1800)
	}

	codeLines := []string{
		"# Fallback generated after JSON parse failure",
		"import json",
		"payload = {",
		fmt.Sprintf("    \"section_number\": %d,", sectionNumber),
		"    \"status\": \"manual_review_required\"",
		"}",
		"print(json.dumps(payload, indent=2))",
	}

	return &notebook.Section{
		SectionNumber: sectionNumber,
		Title:         fmt.Sprintf("Section %d: Manual Review Required", sectionNumber),
		Content: []notebook.Cell{
			{CellType: "markdown", Source: "## Manual Review Required\n\n" + sanitized},
			{CellType: "code", Source: strings.Join(codeLines, "\n")},
		},
		Callouts: []notebook.Callout{
			{Type: "tip", Message: "Replace fallback content with finalized instructional material."},
			{Type: "warning", Message: "Original provider response could not be parsed. Verify accuracy before publishing."},
			{Type: "note", Message: "Capture the intended learning outcome and include runnable examples."},
		},
		EstimatedTokens:    min(1200, TokenLimit),
		PrerequisitesCheck: []string{"Manual author should confirm prerequisites from previous sections."},
		NextSectionHint:    "Continue drafting the next section once this placeholder is replaced.",
		Fallback:           true,
	}
}

// Validate checks a processed section against the token floor and ceiling and
// structural requirements. Fallback sections are exempt from the token floor;
// their job is to hold the slot, not to teach.
func Validate(s *notebook.Section) []string {
	var issues []string

	if len(s.Content) == 0 {
		return []string{"section has no content"}
	}

	approx := notebook.SectionTokens(s)
	upper := TokenLimit + TokenLimit/10
	lower := MinTokens * 85 / 100
	if approx > upper {
		issues = append(issues, fmt.Sprintf("section exceeds token limit (~%d > %d)", approx, TokenLimit))
	}
	if approx < lower && !s.Fallback {
		issues = append(issues, fmt.Sprintf("section below minimum tokens (~%d < %d)", approx, MinTokens))
	}

	hasMarkdown, hasCode := false, false
	for _, cell := range s.Content {
		switch cell.CellType {
		case "markdown":
			hasMarkdown = true
		case "code":
			hasCode = true
		}
	}
	if !hasMarkdown {
		issues = append(issues, "section missing explanatory content")
	}
	if !hasCode {
		issues = append(issues, "section missing code examples")
	}

	if !s.Fallback {
		for _, cell := range s.Content {
			matched := false
			for _, pattern := range placeholderPatterns {
				if pattern.MatchString(cell.Source) {
					issues = append(issues, "section contains placeholder or meta-instruction text")
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
	}

	return issues
}

// dedupePrefix collapses "Step N: Step N: ..." stutters models sometimes emit.
func dedupePrefix(s string, re *regexp.Regexp) string {
	p := re.FindString(s)
	if p == "" {
		return s
	}
	rest := s[len(p):]
	if strings.HasPrefix(rest, " "+p) {
		return p + rest[len(p)+1:]
	}
	return s
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

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}
