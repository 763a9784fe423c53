// Package validate holds the read-only gates a finished notebook passes
// through: quality scoring, Colab compatibility, an optional semantic
// critique, and the aggregate QA gate.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"

	"alainkit/internal/notebook"
)

// Quality scoring bounds.
const (
	OptimalStepMin = 6
	OptimalStepMax = 15

	OptimalMarkdownMin = 0.4
	OptimalMarkdownMax = 0.7

	TargetTokenMin = 2000
	TargetTokenMax = 4000

	MinQualityScore = 90
)

var stepHeading = regexp.MustCompile(`(?i)^(Step|Section)\s+\d+`)

// QualityMetrics is the scored census of a notebook.
type QualityMetrics struct {
	QualityScore         int     `json:"quality_score"`
	StepCount            int     `json:"step_count"`
	MarkdownRatio        float64 `json:"markdown_ratio"`
	EstimatedTokens      int     `json:"estimated_tokens"`
	EstimatedReadingTime float64 `json:"estimated_reading_time"`
	HasRequiredSections  bool    `json:"has_required_sections"`
	MeetsStandards       bool    `json:"meets_standards"`
}

// QualityValidator scores a notebook 0-100 against structural standards.
type QualityValidator struct {
	md goldmark.Markdown
}

// NewQualityValidator builds a validator.
func NewQualityValidator() *QualityValidator {
	return &QualityValidator{md: goldmark.New()}
}

type structureFlags struct {
	hasTitle       bool
	hasObjectives  bool
	hasSetup       bool
	hasAssessments bool
}

func (f structureFlags) all() bool {
	return f.hasTitle && f.hasObjectives && f.hasSetup && f.hasAssessments
}

// Validate analyzes the notebook and scores it. Deterministic: same document,
// same metrics.
func (v *QualityValidator) Validate(nb *notebook.Notebook) QualityMetrics {
	markdownCells, codeCells := 0, 0
	totalTokens, stepCount := 0, 0
	var structure structureFlags

	for _, cell := range nb.Cells {
		source := strings.Join(cell.Source, "")
		totalTokens += notebook.EstimateTokens(source)

		switch cell.CellType {
		case "markdown":
			markdownCells++
			lower := strings.ToLower(source)
			if strings.Contains(lower, "objective") {
				structure.hasObjectives = true
			}
			if strings.Contains(lower, "setup") {
				structure.hasSetup = true
			}
			if strings.Contains(lower, "question") || strings.Contains(lower, "knowledge check") {
				structure.hasAssessments = true
			}
			title, steps := v.scanHeadings(source)
			if title {
				structure.hasTitle = true
			}
			stepCount += steps
		case "code":
			codeCells++
			if strings.Contains(source, "render_mcq(") || strings.Contains(source, "import ipywidgets as widgets") {
				structure.hasAssessments = true
			}
		}
	}

	var markdownRatio float64
	if markdownCells+codeCells > 0 {
		markdownRatio = float64(markdownCells) / float64(markdownCells+codeCells)
	}

	score := scoreQuality(structure, stepCount, markdownRatio, totalTokens)

	return QualityMetrics{
		QualityScore:         score,
		StepCount:            stepCount,
		MarkdownRatio:        markdownRatio,
		EstimatedTokens:      totalTokens,
		EstimatedReadingTime: notebook.ReadingTime(totalTokens),
		HasRequiredSections:  structure.all(),
		MeetsStandards:       score >= MinQualityScore,
	}
}

// scanHeadings walks the markdown AST for the cell: a level-1 heading marks a
// title, level-2 headings matching "Step N"/"Section N" count as steps.
func (v *QualityValidator) scanHeadings(source string) (hasTitle bool, stepCount int) {
	src := []byte(source)
	doc := v.md.Parser().Parse(gmtext.NewReader(src))

	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		switch heading.Level {
		case 1:
			hasTitle = true
		case 2:
			if stepHeading.MatchString(string(heading.Text(src))) {
				stepCount++
			}
		}
		return ast.WalkSkipChildren, nil
	})
	return hasTitle, stepCount
}

func scoreQuality(structure structureFlags, stepCount int, markdownRatio float64, totalTokens int) int {
	score := 0

	// Structure: 40 points.
	if structure.hasTitle {
		score += 10
	}
	if structure.hasObjectives {
		score += 10
	}
	if structure.hasSetup {
		score += 10
	}
	if structure.hasAssessments {
		score += 10
	}

	// Step count: 20 points.
	switch {
	case stepCount >= OptimalStepMin && stepCount <= OptimalStepMax:
		score += 20
	case stepCount >= 3:
		score += 10
	}

	// Markdown ratio: 20 points.
	switch {
	case markdownRatio >= OptimalMarkdownMin && markdownRatio <= OptimalMarkdownMax:
		score += 20
	case markdownRatio >= 0.3 && markdownRatio <= 0.8:
		score += 10
	}

	// Token budget: 20 points.
	switch {
	case totalTokens >= TargetTokenMin && totalTokens <= TargetTokenMax:
		score += 20
	case totalTokens >= 1000 && totalTokens <= 6000:
		score += 10
	}

	if score > 100 {
		score = 100
	}
	return score
}

// Report renders the metrics as a short markdown report.
func (m QualityMetrics) Report() string {
	status := "Needs improvement"
	verdict := "Requires improvements to meet quality standards."
	if m.MeetsStandards {
		status = "Excellent"
		verdict = "Ready for production deployment."
	}
	return fmt.Sprintf(`# Quality Report

**Overall Score: %d/100** - %s

## Metrics
- Steps: %d (optimal: %d-%d)
- Markdown Ratio: %.1f%%
- Tokens: %d
- Reading Time: %.1f minutes

## Status
%s`,
		m.QualityScore, status,
		m.StepCount, OptimalStepMin, OptimalStepMax,
		m.MarkdownRatio*100,
		m.EstimatedTokens,
		m.EstimatedReadingTime,
		verdict)
}
