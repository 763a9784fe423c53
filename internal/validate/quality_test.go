package validate

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alainkit/internal/notebook"
)

func mdCell(source string) notebook.NotebookCell {
	return notebook.NotebookCell{CellType: "markdown", Metadata: map[string]any{}, Source: []string{source}}
}

func codeCell(source string) notebook.NotebookCell {
	return notebook.NotebookCell{CellType: "code", Metadata: map[string]any{}, Source: []string{source}}
}

// goodNotebook scores 100: full structure, optimal step count, balanced
// markdown ratio, and a token total inside the target band.
func goodNotebook() *notebook.Notebook {
	pad := strings.Repeat("Explanatory prose for the learner. ", 30)
	cells := []notebook.NotebookCell{
		mdCell("# A Complete Tutorial\n\nIntro. " + pad),
		mdCell("## Learning Objectives\n\n1. One\n2. Two\n3. Three\n"),
		mdCell("## Setup\n\nInstall things. " + pad),
	}
	for i := 1; i <= 7; i++ {
		cells = append(cells,
			mdCell(fmt.Sprintf("## Step %d: Part %d\n\n%s", i, i, pad)),
			codeCell("import os\nprint('step')\n"),
		)
	}
	cells = append(cells,
		mdCell("## Knowledge Check\n\nAnswer the question below.\n"),
		codeCell("import ipywidgets as widgets\nrender_mcq('Q?', ['A', 'B'], 0, 'Because.')\n"),
	)
	return &notebook.Notebook{
		Cells:         cells,
		Metadata:      map[string]any{"kernelspec": map[string]any{"name": "python3"}},
		NBFormat:      4,
		NBFormatMinor: 4,
	}
}

func TestQuality_FullScore(t *testing.T) {
	m := NewQualityValidator().Validate(goodNotebook())

	assert.Equal(t, 100, m.QualityScore)
	assert.Equal(t, 7, m.StepCount)
	assert.True(t, m.HasRequiredSections)
	assert.True(t, m.MeetsStandards)
	assert.InDelta(t, 0.55, m.MarkdownRatio, 0.2)
	assert.Greater(t, m.EstimatedTokens, TargetTokenMin)
	assert.Less(t, m.EstimatedTokens, TargetTokenMax)
}

func TestQuality_Deterministic(t *testing.T) {
	v := NewQualityValidator()
	nb := goodNotebook()
	first := v.Validate(nb)
	second := v.Validate(nb)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("metrics differ between runs:\n%s", diff)
	}
}

func TestQuality_MissingStructureLosesPoints(t *testing.T) {
	nb := goodNotebook()
	// Drop the title heading.
	nb.Cells[0] = mdCell("No heading here, just prose. " + strings.Repeat("x ", 50))

	m := NewQualityValidator().Validate(nb)
	assert.False(t, m.HasRequiredSections)
	assert.Less(t, m.QualityScore, 100)
}

func TestQuality_EmptyNotebook(t *testing.T) {
	m := NewQualityValidator().Validate(&notebook.Notebook{})
	assert.Equal(t, 0, m.QualityScore)
	assert.False(t, m.MeetsStandards)
	assert.Zero(t, m.StepCount)
}

func TestQuality_StepHeadingsCountedFromAST(t *testing.T) {
	nb := &notebook.Notebook{Cells: []notebook.NotebookCell{
		mdCell("## Step 1: Real\n\nbody"),
		mdCell("## Section 2: Also Real\n\nbody"),
		// Inline mention, not a heading: must not count.
		mdCell("As noted in Step 3: the earlier material applies.\n"),
		// Level 3 heading: must not count.
		mdCell("### Step 4: Too Deep\n\nbody"),
	}}
	m := NewQualityValidator().Validate(nb)
	assert.Equal(t, 2, m.StepCount)
}

func TestQualityReport(t *testing.T) {
	m := NewQualityValidator().Validate(goodNotebook())
	report := m.Report()
	assert.Contains(t, report, "100/100")
	assert.Contains(t, report, "Ready for production")

	var empty QualityMetrics
	require.Contains(t, empty.Report(), "Requires improvements")
}
