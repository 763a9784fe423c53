// Package outline turns a model reference and difficulty into a validated
// notebook outline with a single completion call plus a bounded repair flow.
package outline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"alainkit/internal/llm"
	"alainkit/internal/logging"
	"alainkit/internal/notebook"
	"alainkit/internal/prompt"
	"alainkit/internal/review"
)

const (
	// StepMin and StepMax bound the outline step count.
	StepMin = 6
	StepMax = 15

	// TotalTokenMin and TotalTokenMax bound the outline's total token budget.
	TotalTokenMin = 2000
	TotalTokenMax = 4000

	// SectionTokenLimit caps any single step's token estimate.
	SectionTokenLimit = 1500

	templateName = "outline.v1.txt"
)

var placeholderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)excerpt intentionally truncated`),
	regexp.MustCompile(`(?i)code excerpt truncated`),
	regexp.MustCompile(`\.{3}$`),
}

// InvalidError is returned when an outline still fails validation after the
// repair flow. It names every outstanding issue.
type InvalidError struct {
	Issues []string
}

func (e *InvalidError) Error() string {
	return "outline invalid: " + strings.Join(e.Issues, "; ")
}

// CustomPrompt overrides parts of the generated prompt.
type CustomPrompt struct {
	Title        string
	Context      string
	SystemPrompt string
	Temperature  *float64
	MaxTokens    int
}

// Request carries the inputs for one outline generation.
type Request struct {
	Model      string
	Difficulty string
	Custom     *CustomPrompt
}

// Generator produces and validates outlines.
type Generator struct {
	client   llm.Client
	prompts  *prompt.Store
	recorder *review.Recorder
	retry    llm.RetryPolicy
	logger   *zap.Logger
}

// NewGenerator builds an outline generator.
func NewGenerator(client llm.Client, prompts *prompt.Store, recorder *review.Recorder, retry llm.RetryPolicy, logger *zap.Logger) *Generator {
	return &Generator{
		client:   client,
		prompts:  prompts,
		recorder: recorder,
		retry:    retry,
		logger:   logging.Or(logger).Named("outline"),
	}
}

// Generate runs one outline call, then validates and repairs the result. A
// still-invalid outline after one model repair and the deterministic pass is
// fatal.
func (g *Generator) Generate(ctx context.Context, req Request) (*notebook.Outline, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	msgs, err := g.prompts.LoadHarmony(templateName)
	if err != nil {
		return nil, err
	}

	subject := req.Model
	systemPrompt := msgs.System
	temperature := 0.1
	maxTokens := 2000
	contextBlock := ""
	if req.Custom != nil {
		if t := strings.TrimSpace(req.Custom.Title); t != "" {
			subject = t
		}
		if req.Custom.SystemPrompt != "" {
			systemPrompt = req.Custom.SystemPrompt
		}
		if req.Custom.Temperature != nil {
			temperature = *req.Custom.Temperature
		}
		if req.Custom.MaxTokens > 0 {
			maxTokens = req.Custom.MaxTokens
		}
		if req.Custom.Context != "" {
			contextBlock = "SOURCE CONTEXT (use to shape sections, do not copy verbatim):\n" + req.Custom.Context + "\n"
		}
	}

	userPrompt := prompt.Render(msgs.Developer, map[string]string{
		"STEP_MIN":        strconv.Itoa(StepMin),
		"STEP_MAX":        strconv.Itoa(StepMax),
		"TOTAL_TOKEN_MIN": strconv.Itoa(TotalTokenMin),
		"TOTAL_TOKEN_MAX": strconv.Itoa(TotalTokenMax),
		"READING_TIME":    "15-30 minutes",
		"SUBJECT":         subject,
		"AUDIENCE":        describeAudience(req.Difficulty),
		"CONTEXT_BLOCK":   contextBlock,
	})

	outline, err := g.request(ctx, systemPrompt, userPrompt, temperature, maxTokens)
	if err != nil {
		return nil, err
	}

	if issues := Validate(outline); len(issues) > 0 {
		g.logger.Warn("outline failed validation, repairing",
			zap.Int("issues", len(issues)))
		repaired, repairErr := g.repairWithModel(ctx, outline, issues)
		if repairErr != nil {
			g.logger.Warn("model repair failed, falling back to deterministic repair", zap.Error(repairErr))
		} else {
			outline = repaired
		}
		if issues = Validate(outline); len(issues) > 0 {
			outline = RepairDeterministic(outline)
		}
		if issues = Validate(outline); len(issues) > 0 {
			return nil, &InvalidError{Issues: issues}
		}
	}

	if issues := completeness(outline); len(issues) > 0 {
		payload, _ := json.MarshalIndent(outline, "", "  ")
		g.recorder.Trace("outline", 0, "incomplete", strings.Join(issues, "; "))
		g.recorder.Record("outline", "incomplete", string(payload))
		return nil, &InvalidError{Issues: issues}
	}

	return outline, nil
}

// request performs the completion with one re-prompt when the first response
// cannot be parsed.
func (g *Generator) request(ctx context.Context, system, user string, temperature float64, maxTokens int) (*notebook.Outline, error) {
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		promptText := user
		if attempt > 1 {
			promptText = user + "\n\nYour previous reply was not valid JSON. Reply again with ONLY the outline JSON object (start with {, end with }). No commentary."
		}
		temp := temperature
		if attempt > 1 {
			temp = 0
		}

		raw, err := g.retry.Complete(ctx, g.client, llm.Request{
			System:      system,
			Prompt:      promptText,
			Temperature: temp,
			MaxTokens:   maxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("outline request failed: %w", err)
		}

		var outline notebook.Outline
		if err := llm.DecodeObject(raw, &outline); err != nil {
			lastErr = err
			g.recorder.Trace("outline", attempt, "parse_failed", raw)
			continue
		}
		return &outline, nil
	}

	g.recorder.Record("outline", "json_extraction_failed", "")
	return nil, fmt.Errorf("no valid JSON found in outline response: %w", lastErr)
}

// repairWithModel sends the invalid outline back with its issue list for one
// repair completion at temperature zero.
func (g *Generator) repairWithModel(ctx context.Context, outline *notebook.Outline, issues []string) (*notebook.Outline, error) {
	current, err := json.MarshalIndent(outline, "", "  ")
	if err != nil {
		return nil, err
	}

	repairPrompt := fmt.Sprintf(
		"You previously generated a JSON outline for a tutorial. It needs repair to meet constraints.\n"+
			"Return ONLY valid JSON (start with { and end with }). Fix the following issues: %s.\n"+
			"Ensure: %d-%d steps; at least 4 MCQs in assessments; 3-5 objectives.\n"+
			"Here is the current outline JSON to repair:\n%s",
		strings.Join(issues, "; "), StepMin, StepMax, string(current))

	raw, err := g.retry.Complete(ctx, g.client, llm.Request{
		System:      "You are a teaching assistant that must reply with strict JSON objects. Never include natural language commentary, markdown, or code fences.",
		Prompt:      repairPrompt,
		Temperature: 0,
		MaxTokens:   2000,
	})
	if err != nil {
		return nil, fmt.Errorf("outline repair request failed: %w", err)
	}

	var repaired notebook.Outline
	if err := llm.DecodeObject(raw, &repaired); err != nil {
		g.recorder.Trace("repair", 1, "parse_failed", raw)
		return nil, err
	}
	return &repaired, nil
}

// Validate returns the list of hard-gate violations, empty when the outline is
// acceptable.
func Validate(o *notebook.Outline) []string {
	var issues []string

	if o.Title == "" {
		issues = append(issues, "missing title")
	}
	if len(o.Objectives) < 3 || len(o.Objectives) > 5 {
		issues = append(issues, "must have 3-5 learning objectives")
	}
	if len(o.Steps) < StepMin {
		issues = append(issues, fmt.Sprintf("must have at least %d steps", StepMin))
	}
	if len(o.Steps) > StepMax {
		issues = append(issues, fmt.Sprintf("should not exceed %d steps", StepMax))
	}
	for i, step := range o.Steps {
		if step.Step != i+1 {
			issues = append(issues, fmt.Sprintf("step ordinals must be gapless from 1 (found %d at position %d)", step.Step, i+1))
			break
		}
	}
	for _, step := range o.Steps {
		if step.EstimatedTokens > SectionTokenLimit {
			issues = append(issues, fmt.Sprintf("step %d exceeds %d token limit", step.Step, SectionTokenLimit))
		}
	}
	if len(o.Assessments) < 4 {
		issues = append(issues, "must have at least 4 assessment questions")
	}
	if o.EstimatedTotalTokens > TotalTokenMax {
		issues = append(issues, "token count exceeds recommended range")
	}

	return issues
}

// RepairDeterministic patches hard-gate failures without another model call:
// pad assessments and objectives, fill required text fields, pad and renumber
// steps, clamp token estimates.
func RepairDeterministic(o *notebook.Outline) *notebook.Outline {
	fixed := *o
	fixed.Steps = append([]notebook.OutlineStep(nil), o.Steps...)
	fixed.Assessments = append([]notebook.Assessment(nil), o.Assessments...)
	fixed.Objectives = append([]string(nil), o.Objectives...)

	for len(fixed.Assessments) < 4 {
		idx := len(fixed.Assessments) + 1
		fixed.Assessments = append(fixed.Assessments, notebook.Assessment{
			Question:     fmt.Sprintf("Quick check %d: Basic understanding", idx),
			Options:      []string{"A", "B", "C", "D"},
			CorrectIndex: 0,
			Explanation:  "Review the outline section to find the correct answer.",
		})
	}
	if fixed.Title == "" {
		fixed.Title = "Generated Notebook Outline"
	}
	if fixed.Overview == "" {
		fixed.Overview = "Auto-generated overview: revisit core goals, environment setup, and dual workflows."
	}
	if fixed.Summary == "" {
		fixed.Summary = "Auto-generated summary placeholder pending editorial review."
	}
	if fixed.NextSteps == "" {
		fixed.NextSteps = "Review the generated notebook for accuracy, run validation, and prepare learner exercises."
	}
	if len(fixed.Objectives) < 3 {
		fixed.Objectives = []string{
			"Understand core concepts",
			"Set up the environment",
			"Complete a first working example",
		}
	} else if len(fixed.Objectives) > 5 {
		fixed.Objectives = fixed.Objectives[:5]
	}

	if len(fixed.Steps) > StepMax {
		fixed.Steps = fixed.Steps[:StepMax]
	}
	for i := len(fixed.Steps) + 1; i <= StepMin; i++ {
		fixed.Steps = append(fixed.Steps, notebook.OutlineStep{
			Step:            i,
			Title:           fmt.Sprintf("Step %d: Additional Content", i),
			Type:            notebook.StepConcept,
			EstimatedTokens: 250,
			ContentType:     "markdown + code",
		})
	}
	for i := range fixed.Steps {
		fixed.Steps[i].Step = i + 1
		if fixed.Steps[i].EstimatedTokens > SectionTokenLimit {
			fixed.Steps[i].EstimatedTokens = SectionTokenLimit
		}
	}

	total := 0
	for _, s := range fixed.Steps {
		total += s.EstimatedTokens
	}
	fixed.EstimatedTotalTokens = total
	fixed.TargetReadingTime = notebook.ReadingTime(total)

	return &fixed
}

// completeness flags thin or templated prose that passed the hard gates.
func completeness(o *notebook.Outline) []string {
	var issues []string

	checkField := func(value, name string) {
		if len(strings.TrimSpace(value)) < 120 {
			issues = append(issues, name+" is too short or missing")
		}
		for _, pattern := range placeholderPatterns {
			if pattern.MatchString(value) {
				issues = append(issues, name+" contains placeholder language")
			}
		}
	}

	checkField(o.Overview, "overview")
	checkField(o.Summary, "summary")

	if len(o.References) < 2 {
		issues = append(issues, "at least two references are required")
	}

	return issues
}

func describeAudience(difficulty string) string {
	switch difficulty {
	case "intermediate":
		return "Practitioners with some machine learning experience (focus on applied explanations and practical context)."
	case "advanced":
		return "Advanced practitioners and researchers (include deeper rationale, trade-offs, and expert context)."
	default:
		return "Absolute beginners (ELI5, non-developers). Use analogies, avoid jargon, and highlight common pitfalls."
	}
}
