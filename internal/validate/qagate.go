package validate

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"alainkit/internal/logging"
	"alainkit/internal/notebook"
)

var placeholderScan = regexp.MustCompile(`(?i)(TODO|TBD|FIXME)`)

// GateCheck is one named sub-verdict inside the QA gate report.
type GateCheck struct {
	Status string   `json:"status"`
	Notes  []string `json:"notes"`
}

// GateMetrics is the measured shape of the run.
type GateMetrics struct {
	OutlineSteps          int     `json:"outline_steps"`
	SectionsExpected      int     `json:"sections_expected"`
	SectionsReceived      int     `json:"sections_received"`
	ObjectivesInOutline   int     `json:"objectives_in_outline"`
	ExercisesCount        int     `json:"exercises_count"`
	AssessmentsCount      int     `json:"assessments_count"`
	FallbackSections      int     `json:"fallback_sections"`
	AvgSectionLengthChars int     `json:"avg_section_length_chars"`
	MarkdownRatioEstimate float64 `json:"markdown_ratio_estimate"`
}

// GateReport is the aggregate QA verdict for one generated notebook.
type GateReport struct {
	NotebookTitle string      `json:"notebook_title"`
	OverallStatus string      `json:"overall_status"`
	Summary       string      `json:"summary"`
	Metrics       GateMetrics `json:"metrics"`

	QualityGates struct {
		OutlineCompleteness GateCheck `json:"outline_completeness"`
		SectionAlignment    GateCheck `json:"section_alignment"`
		PlaceholderScan     GateCheck `json:"placeholder_scan"`
	} `json:"quality_gates"`

	BlockingIssues []string `json:"blocking_issues"`
	WarningIssues  []string `json:"warning_issues"`

	RecommendedActions struct {
		MustFix   []string `json:"must_fix"`
		ShouldFix []string `json:"should_fix"`
	} `json:"recommended_actions"`
}

// QaGate runs the lightweight deterministic structural checks before (or
// alongside) the expensive validators.
type QaGate struct {
	logger *zap.Logger
}

// NewQaGate builds a gate.
func NewQaGate(logger *zap.Logger) *QaGate {
	return &QaGate{logger: logging.Or(logger).Named("qagate")}
}

// Evaluate inspects the outline/section pair and aggregates one pass/warn/fail
// verdict. Pure function of its inputs.
func (g *QaGate) Evaluate(outline *notebook.Outline, sections []*notebook.Section) GateReport {
	outlineSteps := len(outline.Steps)
	received := len(sections)

	var blocking, outlineWarnings []string

	if outline.Title == "" {
		blocking = append(blocking, "Outline is missing a title")
	}
	if outlineSteps == 0 {
		blocking = append(blocking, "Outline contains no steps")
	}
	if len(outline.Setup.Requirements) == 0 {
		outlineWarnings = append(outlineWarnings, "Setup requirements list is empty")
	}
	if outline.Summary == "" || outline.NextSteps == "" {
		outlineWarnings = append(outlineWarnings, "Summary or next steps are missing from the outline")
	}
	if len(outline.Exercises) == 0 {
		outlineWarnings = append(outlineWarnings, "No exercises defined in outline")
	}

	sectionWarnings, avgLength, markdownRatio, fallbacks := inspectSections(outlineSteps, sections)
	placeholderWarnings := scanPlaceholders(sections)

	var coverageWarnings []string
	if received == 0 {
		blocking = append(blocking, "No generated sections found")
	} else if received != outlineSteps {
		coverageWarnings = append(coverageWarnings, fmt.Sprintf("Expected %d sections but received %d", outlineSteps, received))
	}

	allWarnings := concat(outlineWarnings, sectionWarnings, placeholderWarnings, coverageWarnings)

	overall := StatusPass
	switch {
	case len(blocking) > 0:
		overall = StatusFail
	case len(allWarnings) > 0:
		overall = StatusWarn
	}

	report := GateReport{
		NotebookTitle: titleOr(outline.Title),
		OverallStatus: overall,
		Summary:       buildSummary(overall, blocking, allWarnings),
		Metrics: GateMetrics{
			OutlineSteps:          outlineSteps,
			SectionsExpected:      outlineSteps,
			SectionsReceived:      received,
			ObjectivesInOutline:   len(outline.Objectives),
			ExercisesCount:        len(outline.Exercises),
			AssessmentsCount:      len(outline.Assessments),
			FallbackSections:      fallbacks,
			AvgSectionLengthChars: avgLength,
			MarkdownRatioEstimate: math.Round(markdownRatio*100) / 100,
		},
		BlockingIssues: blocking,
		WarningIssues:  allWarnings,
	}
	report.QualityGates.OutlineCompleteness = GateCheck{
		Status: statusFor(filterContains(blocking, "Outline"), outlineWarnings),
		Notes:  concat(filterContains(blocking, "Outline"), outlineWarnings),
	}
	report.QualityGates.SectionAlignment = GateCheck{
		Status: statusFor(filterContains(blocking, "sections"), concat(sectionWarnings, coverageWarnings)),
		Notes:  concat(sectionWarnings, coverageWarnings),
	}
	report.QualityGates.PlaceholderScan = GateCheck{
		Status: statusFor(nil, placeholderWarnings),
		Notes:  placeholderWarnings,
	}
	report.RecommendedActions.MustFix = blocking
	report.RecommendedActions.ShouldFix = allWarnings

	g.logger.Info("qa gate evaluated",
		zap.String("status", report.OverallStatus),
		zap.Int("outline_steps", outlineSteps),
		zap.Int("sections", received),
		zap.Int("fallbacks", fallbacks))
	return report
}

func inspectSections(expected int, sections []*notebook.Section) (warnings []string, avgLength int, markdownRatio float64, fallbacks int) {
	if len(sections) == 0 {
		return nil, 0, 0, 0
	}

	markdownChars, codeChars, totalMarkdownLength := 0, 0, 0
	for i, s := range sections {
		markdownLength := 0
		hasCode := false
		for _, cell := range s.Content {
			switch cell.CellType {
			case "markdown":
				markdownChars += len(cell.Source)
				markdownLength += len(cell.Source)
			case "code":
				codeChars += len(cell.Source)
				hasCode = true
			}
		}
		totalMarkdownLength += markdownLength
		if markdownLength < 800 {
			warnings = append(warnings, fmt.Sprintf("Section %d markdown body is shorter than 800 characters", i+1))
		}
		if !hasCode {
			warnings = append(warnings, fmt.Sprintf("Section %d does not include a code cell", i+1))
		}
		if s.Fallback {
			fallbacks++
			warnings = append(warnings, fmt.Sprintf("Section %d is a compiled fallback and needs manual review", s.SectionNumber))
		}
	}

	if len(sections) < expected {
		warnings = append(warnings, "Not all outline steps currently have generated sections")
	}

	totalChars := markdownChars + codeChars
	if totalChars == 0 {
		totalChars = 1
	}
	avgLength = totalMarkdownLength / len(sections)
	markdownRatio = float64(markdownChars) / float64(totalChars)
	return warnings, avgLength, markdownRatio, fallbacks
}

func scanPlaceholders(sections []*notebook.Section) []string {
	var warnings []string
	for i, s := range sections {
		for _, cell := range s.Content {
			if placeholderScan.MatchString(cell.Source) {
				warnings = append(warnings, fmt.Sprintf("Placeholder text found in section %d", i+1))
			}
		}
	}
	return warnings
}

func statusFor(blocking, warnings []string) string {
	if len(blocking) > 0 {
		return StatusFail
	}
	if len(warnings) > 0 {
		return StatusWarn
	}
	return StatusPass
}

func buildSummary(status string, blocking, warnings []string) string {
	switch status {
	case StatusFail:
		return "QA gate failed: " + strings.Join(blocking, "; ")
	case StatusWarn:
		if len(warnings) > 0 {
			return strings.Join(warnings, "; ")
		}
		return "Passed with warnings."
	default:
		return "QA gate passed."
	}
}

func titleOr(title string) string {
	if title == "" {
		return "Unknown Notebook"
	}
	return title
}

func filterContains(items []string, substr string) []string {
	var out []string
	for _, item := range items {
		if strings.Contains(item, substr) {
			out = append(out, item)
		}
	}
	return out
}

func concat(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
