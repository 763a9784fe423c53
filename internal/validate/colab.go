package validate

import (
	"regexp"
	"strings"

	"alainkit/internal/notebook"
)

// Severity levels for Colab compatibility issues.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// ColabIssue is one detected compatibility problem.
type ColabIssue struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	CellIndex   int    `json:"cell_index"`
}

// ColabResult is the outcome of a compatibility scan. Compatible means no
// critical issues.
type ColabResult struct {
	Compatible bool         `json:"is_compatible"`
	Issues     []ColabIssue `json:"issues"`
}

type colabPattern struct {
	pattern     *regexp.Regexp
	issueType   string
	severity    string
	description string
}

var colabPatterns = []colabPattern{
	{
		pattern:     regexp.MustCompile(`subprocess\.check_call.*pip.*install`),
		issueType:   "subprocess_pip",
		severity:    SeverityCritical,
		description: "subprocess pip install fails in Colab",
	},
	{
		pattern:     regexp.MustCompile(`os\.environ\["HF_TOKEN"\]\s*=\s*"YOUR_HF_TOKEN"`),
		issueType:   "hardcoded_token",
		severity:    SeverityCritical,
		description: "hardcoded token placeholder causes auth errors",
	},
	{
		pattern:     regexp.MustCompile(`device_map="auto"`),
		issueType:   "device_mapping",
		severity:    SeverityWarning,
		description: `device_map="auto" may not work optimally in Colab`,
	},
}

var (
	colabGuard    = regexp.MustCompile(`if\s+IN_COLAB`)
	oversizeLimit = 10000
)

// ColabValidator runs structural compatibility checks against the assembled
// notebook. No network, no mutation.
type ColabValidator struct{}

// NewColabValidator builds a validator.
func NewColabValidator() *ColabValidator {
	return &ColabValidator{}
}

// Validate scans every code cell for known Colab failure patterns, plus
// oversized cells and missing notebook metadata.
func (v *ColabValidator) Validate(nb *notebook.Notebook) ColabResult {
	var issues []ColabIssue

	for i, cell := range nb.Cells {
		source := strings.Join(cell.Source, "")

		if cell.CellType == "code" {
			for _, p := range colabPatterns {
				if !p.pattern.MatchString(source) {
					continue
				}
				// Cells that already guard the pip call for Colab are fine.
				if p.issueType == "subprocess_pip" && colabGuard.MatchString(source) &&
					(strings.Contains(source, "run_line_magic('pip'") ||
						strings.Contains(source, `run_line_magic("pip"`) ||
						strings.Contains(source, "_subprocess.check_call(")) {
					continue
				}
				issues = append(issues, ColabIssue{
					Type:        p.issueType,
					Severity:    p.severity,
					Description: p.description,
					CellIndex:   i,
				})
			}
		}

		if len(source) > oversizeLimit {
			issues = append(issues, ColabIssue{
				Type:        "oversized_cell",
				Severity:    SeverityWarning,
				Description: "cell body is unusually large and may render poorly",
				CellIndex:   i,
			})
		}
	}

	if _, ok := nb.Metadata["kernelspec"]; !ok {
		issues = append(issues, ColabIssue{
			Type:        "missing_kernelspec",
			Severity:    SeverityCritical,
			Description: "notebook metadata has no kernelspec",
			CellIndex:   -1,
		})
	}

	critical := 0
	for _, issue := range issues {
		if issue.Severity == SeverityCritical {
			critical++
		}
	}
	return ColabResult{
		Compatible: critical == 0,
		Issues:     issues,
	}
}
