package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alainkit/internal/checkpoint"
	"alainkit/internal/llm"
	"alainkit/internal/notebook"
	"alainkit/internal/orchestrator"
	"alainkit/internal/outline"
	"alainkit/internal/prompt"
	"alainkit/internal/review"
	"alainkit/internal/section"
	"alainkit/internal/toolruntime"
	"alainkit/internal/validate"
)

type scriptedClient struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func (c *scriptedClient) Complete(ctx context.Context, req llm.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	c.calls++
	if i < len(c.responses) {
		return c.responses[i], nil
	}
	return "", fmt.Errorf("unexpected call %d", i)
}

func (c *scriptedClient) Model() string { return "test-model" }

func outlineJSON(t *testing.T, steps int) string {
	t.Helper()
	long := strings.Repeat("A thorough explanation of the topic with real detail. ", 4)
	o := &notebook.Outline{
		Title:      "Small Model Walkthrough",
		Overview:   long,
		Objectives: []string{"Run it", "Prompt it", "Evaluate it"},
		Setup:      notebook.Setup{Requirements: []string{"openai"}},
		Summary:    long,
		NextSteps:  "Keep going.",
		References: []string{"https://example.com/a", "https://example.com/b"},
	}
	for i := 1; i <= steps; i++ {
		o.Steps = append(o.Steps, notebook.OutlineStep{
			Step:            i,
			Title:           fmt.Sprintf("Step %d: Part %d", i, i),
			EstimatedTokens: 400,
		})
	}
	for i := 0; i < 4; i++ {
		o.Assessments = append(o.Assessments, notebook.Assessment{
			Question:     fmt.Sprintf("Q%d?", i+1),
			Options:      []string{"A", "B", "C", "D"},
			CorrectIndex: 0,
			Explanation:  "See above.",
		})
	}
	data, err := json.Marshal(o)
	require.NoError(t, err)
	return string(data)
}

func sectionJSON(t *testing.T) string {
	t.Helper()
	s := &notebook.Section{
		SectionNumber: 1,
		Title:         "Step 1: Part",
		Content: []notebook.Cell{
			{CellType: "markdown", Source: "## Step 1: Part\n\n" + strings.Repeat("Detailed teaching prose with substance. ", 80)},
			{CellType: "code", Source: "import os\nvalue = 42\nprint(value)"},
		},
		Callouts: []notebook.Callout{
			{Type: "tip", Message: "t"}, {Type: "warning", Message: "w"}, {Type: "note", Message: "n"},
		},
	}
	data, err := json.Marshal(s)
	require.NoError(t, err)
	return string(data)
}

func writeTemplates(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	outlineTmpl := "<|start|>system<|message|>Strict JSON only.<|end|>\n" +
		"<|start|>developer<|message|>Outline {{SUBJECT}} for {{AUDIENCE}}.<|end|>\n"
	sectionTmpl := "<|start|>system<|message|>Strict JSON only.<|end|>\n" +
		"<|start|>developer<|message|>Section {{SECTION_NUMBER}} of {{OUTLINE_JSON}}<|end|>\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "outline.v1.txt"), []byte(outlineTmpl), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "section.v1.txt"), []byte(sectionTmpl), 0o644))
	return root
}

func buildPipeline(t *testing.T, client llm.Client, semanticClient llm.Client, sessionDir string) *Pipeline {
	t.Helper()
	store := prompt.NewStore(writeTemplates(t), nil)
	recorder := review.NewRecorder("", "test", nil)
	retry := llm.RetryPolicy{MaxAttempts: 2, Base: time.Millisecond, Ceiling: 2 * time.Millisecond}

	ckpt, err := checkpoint.NewFileStore(filepath.Join(t.TempDir(), "checkpoints"))
	require.NoError(t, err)

	return New(Options{
		Outlines:   outline.NewGenerator(client, store, recorder, retry, nil),
		Sections:   section.NewGenerator(client, store, recorder, retry, nil),
		Checkpoint: ckpt,
		Semantic:   validate.NewSemanticValidator(semanticClient, retry, nil),
		Runtime:    toolruntime.NewRuntime(sessionDir, nil),
		OrchConfig: orchestrator.Config{
			MaxConcurrency: 1,
			MaxAttempts:    2,
			Backoff:        retry,
		},
	})
}

func TestGenerate_EndToEnd(t *testing.T) {
	sec := sectionJSON(t)
	client := &scriptedClient{responses: []string{
		outlineJSON(t, 6),
		sec, sec, sec, sec, sec, sec,
	}}
	sessionDir := t.TempDir()
	p := buildPipeline(t, client, nil, sessionDir)

	result, err := p.Generate(context.Background(), GenerateConfig{
		ModelReference: "gpt-oss-20b",
		Difficulty:     "beginner",
	})
	require.NoError(t, err)

	require.NotNil(t, result.Notebook)
	assert.Equal(t, "Small Model Walkthrough", result.Outline.Title)
	require.Len(t, result.Sections, 6)
	for i, s := range result.Sections {
		assert.Equal(t, i+1, s.SectionNumber)
	}
	assert.NotEqual(t, validate.StatusFail, result.QaReport.OverallStatus)
	assert.True(t, result.SemanticReport.Skipped, "no semantic client configured")
	assert.Greater(t, result.QualityScore, 0)
	assert.True(t, result.ColabCompatible)
	assert.NotZero(t, result.Timings.Total)
	assert.Len(t, result.Timings.Section, 6)

	// The tool session is flushed on completion.
	entries, err := os.ReadDir(sessionDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(sessionDir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "generate_outline")
	assert.Contains(t, string(data), "run_qa_gate")
}

func TestGenerate_EachRunGetsFreshSession(t *testing.T) {
	sec := sectionJSON(t)
	client := &scriptedClient{responses: []string{
		outlineJSON(t, 6),
		sec, sec, sec, sec, sec, sec,
		outlineJSON(t, 6),
	}}
	sessionDir := t.TempDir()
	p := buildPipeline(t, client, nil, sessionDir)

	_, err := p.Generate(context.Background(), GenerateConfig{ModelReference: "gpt-oss-20b"})
	require.NoError(t, err)

	// The second run resumes every section from the shared checkpoint store,
	// but must still open, record into, and flush its own session.
	result, err := p.Generate(context.Background(), GenerateConfig{ModelReference: "gpt-oss-20b"})
	require.NoError(t, err)
	require.Len(t, result.Sections, 6)

	entries, err := os.ReadDir(sessionDir)
	require.NoError(t, err)
	require.Len(t, entries, 2, "one session file per run")
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(sessionDir, e.Name()))
		require.NoError(t, err)
		assert.Contains(t, string(data), "generate_outline")
		assert.Contains(t, string(data), "run_qa_gate")
	}
}

func TestGenerate_MaxSectionsTrimsOutline(t *testing.T) {
	sec := sectionJSON(t)
	client := &scriptedClient{responses: []string{
		outlineJSON(t, 6),
		sec, sec, sec,
	}}
	p := buildPipeline(t, client, nil, "")

	result, err := p.Generate(context.Background(), GenerateConfig{
		ModelReference: "gpt-oss-20b",
		MaxSections:    3,
	})
	require.NoError(t, err)
	assert.Len(t, result.Sections, 3)
	assert.Equal(t, 4, client.calls, "one outline call plus three section calls")
}

func TestGenerate_SemanticFailureStopsRun(t *testing.T) {
	sec := sectionJSON(t)
	client := &scriptedClient{responses: []string{
		outlineJSON(t, 6),
		sec, sec, sec, sec, sec, sec,
	}}
	semantic := &scriptedClient{responses: []string{`{"status": "fail", "issues": ["filler content"]}`}}
	p := buildPipeline(t, client, semantic, "")

	_, err := p.Generate(context.Background(), GenerateConfig{ModelReference: "gpt-oss-20b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "semantic")
}

func TestGenerate_OutlineFailureFlushesSession(t *testing.T) {
	client := &scriptedClient{responses: []string{"garbage", "still garbage"}}
	sessionDir := t.TempDir()
	p := buildPipeline(t, client, nil, sessionDir)

	_, err := p.Generate(context.Background(), GenerateConfig{ModelReference: "gpt-oss-20b"})
	require.Error(t, err)

	entries, readErr := os.ReadDir(sessionDir)
	require.NoError(t, readErr)
	require.Len(t, entries, 1, "session is flushed even on failure")
	data, readErr := os.ReadFile(filepath.Join(sessionDir, entries[0].Name()))
	require.NoError(t, readErr)
	assert.Contains(t, string(data), `"error"`)
}

func TestValidationReport(t *testing.T) {
	quality := validate.QualityMetrics{
		QualityScore:         95,
		StepCount:            8,
		EstimatedReadingTime: 14.5,
		MeetsStandards:       true,
	}
	colab := validate.ColabResult{Compatible: true}

	report := ValidationReport(quality, colab)
	assert.Contains(t, report, "95/100")
	assert.Contains(t, report, "Met")
	assert.Contains(t, report, "Compatible")
	assert.Contains(t, report, "Ready for production")

	report = ValidationReport(validate.QualityMetrics{QualityScore: 40}, validate.ColabResult{})
	assert.Contains(t, report, "Improvements needed")
}
