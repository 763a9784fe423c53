package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"alainkit/internal/notebook"
	"alainkit/internal/pipeline"
	"alainkit/internal/validate"
)

// validateCmd runs the offline gates over an existing notebook file.
var validateCmd = &cobra.Command{
	Use:   "validate [notebook.ipynb]",
	Short: "Run quality and Colab gates over an existing notebook",
	Long: `Scores an existing nbformat-4 notebook against the quality standards and
scans it for Colab compatibility issues. No model calls are made.

Exit status is non-zero when the notebook misses the quality bar or has
critical compatibility issues.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read notebook: %w", err)
	}
	var nb notebook.Notebook
	if err := json.Unmarshal(data, &nb); err != nil {
		return fmt.Errorf("failed to parse notebook: %w", err)
	}

	quality := validate.NewQualityValidator().Validate(&nb)
	colab := validate.NewColabValidator().Validate(&nb)

	fmt.Println(pipeline.ValidationReport(quality, colab))
	for _, issue := range colab.Issues {
		fmt.Printf("- [%s] %s (cell %d)\n", issue.Severity, issue.Description, issue.CellIndex)
	}

	if !quality.MeetsStandards || !colab.Compatible {
		return fmt.Errorf("notebook did not pass validation (score %d/100, colab compatible: %v)",
			quality.QualityScore, colab.Compatible)
	}
	return nil
}
