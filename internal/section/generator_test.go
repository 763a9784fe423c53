package section

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alainkit/internal/llm"
	"alainkit/internal/notebook"
	"alainkit/internal/prompt"
	"alainkit/internal/review"
)

type scriptedClient struct {
	responses []string
	errs      []error
	calls     int
}

func (c *scriptedClient) Complete(ctx context.Context, req llm.Request) (string, error) {
	i := c.calls
	c.calls++
	var err error
	if i < len(c.errs) {
		err = c.errs[i]
	}
	var out string
	if i < len(c.responses) {
		out = c.responses[i]
	}
	return out, err
}

func (c *scriptedClient) Model() string { return "test-model" }

func testOutline(steps int) *notebook.Outline {
	o := &notebook.Outline{
		Title:    "Test Notebook",
		Overview: "Overview prose.",
	}
	for i := 1; i <= steps; i++ {
		o.Steps = append(o.Steps, notebook.OutlineStep{
			Step:            i,
			Title:           fmt.Sprintf("Step %d: Part %d", i, i),
			EstimatedTokens: 400,
		})
	}
	return o
}

// usableSection builds section JSON that survives the completeness check and
// the orchestrator-side Validate.
func usableSection(t *testing.T, n int) string {
	t.Helper()
	s := &notebook.Section{
		SectionNumber: n,
		Title:         fmt.Sprintf("Step %d: Part %d", n, n),
		Content: []notebook.Cell{
			{CellType: "markdown", Source: "## Step " + fmt.Sprint(n) + ": Part\n\n" + strings.Repeat("Substantive teaching prose with real detail. ", 60)},
			{CellType: "code", Source: "import os\nvalue = os.environ.get('HOME')\nprint(value)\n" + strings.Repeat("result = value  # reuse\n", 20)},
		},
		Callouts: []notebook.Callout{
			{Type: "tip", Message: "Run the cell twice to warm the cache."},
			{Type: "warning", Message: "Large inputs can exhaust memory."},
			{Type: "note", Message: "Results vary slightly between runs."},
		},
		EstimatedTokens:    900,
		PrerequisitesCheck: []string{"previous step completed"},
		NextSectionHint:    "Next we evaluate outputs.",
	}
	data, err := json.Marshal(s)
	require.NoError(t, err)
	return string(data)
}

func testGenerator(t *testing.T, client llm.Client) *Generator {
	t.Helper()
	root := t.TempDir()
	template := "<|start|>system<|message|>Strict JSON only.<|end|>\n" +
		"<|start|>developer<|message|>Write section {{SECTION_NUMBER}} ({{SECTION_TITLE}}) for {{MODEL_REFERENCE}}.\n{{OUTLINE_JSON}}<|end|>\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "section.v1.txt"), []byte(template), 0o644))

	store := prompt.NewStore(root, nil)
	recorder := review.NewRecorder("", "test", nil)
	retry := llm.RetryPolicy{MaxAttempts: 2, Base: time.Millisecond, Ceiling: 2 * time.Millisecond}
	return NewGenerator(client, store, recorder, retry, nil)
}

func TestGenerate_HappyPath(t *testing.T) {
	client := &scriptedClient{responses: []string{usableSection(t, 2)}}
	g := testGenerator(t, client)

	sec, err := g.Generate(context.Background(), Request{
		Outline:        testOutline(3),
		SectionNumber:  2,
		ModelReference: "gpt-oss-20b",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, sec.SectionNumber)
	assert.False(t, sec.Fallback)
	assert.Empty(t, Validate(sec))
}

func TestGenerate_OutOfRangeSection(t *testing.T) {
	g := testGenerator(t, &scriptedClient{})
	_, err := g.Generate(context.Background(), Request{Outline: testOutline(3), SectionNumber: 4})
	assert.Error(t, err)
	_, err = g.Generate(context.Background(), Request{Outline: testOutline(3), SectionNumber: 0})
	assert.Error(t, err)
}

func TestGenerate_UnparsableResponseFallsBack(t *testing.T) {
	client := &scriptedClient{responses: []string{"total garbage, no json at all"}}
	g := testGenerator(t, client)

	sec, err := g.Generate(context.Background(), Request{Outline: testOutline(3), SectionNumber: 1})
	require.NoError(t, err, "parse failures must not surface as errors")
	assert.True(t, sec.Fallback)
	assert.Equal(t, 1, sec.SectionNumber)
	assert.Contains(t, sec.Title, "Manual Review Required")
}

func TestGenerate_IncompleteSectionFallsBack(t *testing.T) {
	thin := &notebook.Section{
		SectionNumber: 1,
		Title:         "Step 1: Thin",
		Content: []notebook.Cell{
			{CellType: "markdown", Source: "Too short."},
		},
	}
	data, err := json.Marshal(thin)
	require.NoError(t, err)

	client := &scriptedClient{responses: []string{string(data)}}
	g := testGenerator(t, client)

	sec, err := g.Generate(context.Background(), Request{Outline: testOutline(3), SectionNumber: 1})
	require.NoError(t, err)
	assert.True(t, sec.Fallback)
}

func TestGenerate_TransportFailureErrors(t *testing.T) {
	boom := errors.New("connection refused")
	client := &scriptedClient{errs: []error{llm.Transient(boom), llm.Transient(boom)}}
	g := testGenerator(t, client)

	_, err := g.Generate(context.Background(), Request{Outline: testOutline(3), SectionNumber: 1})
	require.Error(t, err)
	assert.Equal(t, 2, client.calls, "retry policy should be exhausted first")
}

func TestPostProcess(t *testing.T) {
	s := &notebook.Section{
		SectionNumber: 99,
		Title:         "Step 2: Step 2: Doubled Prefix",
		Content: []notebook.Cell{
			{CellType: "markdown", Source: "## Step 2: ## Step 2: Heading\n\nbody"},
			{CellType: "code", Source: strings.Repeat("x = 1\n", 100)},
		},
		EstimatedTokens: 123456,
	}
	PostProcess(s, 2)

	assert.Equal(t, 2, s.SectionNumber, "section number is pinned to the slot")
	assert.Equal(t, "Step 2: Doubled Prefix", s.Title)
	assert.True(t, strings.HasPrefix(s.Content[0].Source, "## Step 2: Heading"))
	assert.LessOrEqual(t, s.EstimatedTokens, TokenLimit, "model estimate is replaced with a clamped local one")
}

func TestCompleteness(t *testing.T) {
	base := func() *notebook.Section {
		return &notebook.Section{
			Content: []notebook.Cell{
				{CellType: "markdown", Source: strings.Repeat("Real explanation. ", 20)},
				{CellType: "code", Source: "import os\nx = 1\nprint(x)"},
			},
			Callouts: []notebook.Callout{
				{Type: "tip", Message: "t"}, {Type: "warning", Message: "w"}, {Type: "note", Message: "n"},
			},
		}
	}

	t.Run("complete section passes", func(t *testing.T) {
		assert.Empty(t, Completeness(base()))
	})

	t.Run("missing code cell", func(t *testing.T) {
		s := base()
		s.Content = s.Content[:1]
		assert.NotEmpty(t, Completeness(s))
	})

	t.Run("comment-only code", func(t *testing.T) {
		s := base()
		s.Content[1].Source = "# one\n# two\n# three"
		assert.NotEmpty(t, Completeness(s))
	})

	t.Run("short markdown", func(t *testing.T) {
		s := base()
		s.Content[0].Source = "Too short."
		assert.NotEmpty(t, Completeness(s))
	})

	t.Run("placeholder text", func(t *testing.T) {
		s := base()
		s.Content[0].Source = strings.Repeat("pad ", 50) + "Explanation with analogies goes here"
		assert.NotEmpty(t, Completeness(s))
	})

	t.Run("angle bracket placeholders", func(t *testing.T) {
		s := base()
		s.Content[0].Source = strings.Repeat("pad ", 50) + "<<insert example>>"
		assert.NotEmpty(t, Completeness(s))
	})

	t.Run("missing callouts", func(t *testing.T) {
		s := base()
		s.Callouts = s.Callouts[:1]
		assert.NotEmpty(t, Completeness(s))
	})
}

func TestCompileFallback(t *testing.T) {
	sec := CompileFallback("```json\nbroken { response\n```", 4)

	assert.True(t, sec.Fallback)
	assert.Equal(t, 4, sec.SectionNumber)
	assert.Equal(t, "Section 4: Manual Review Required", sec.Title)
	assert.Len(t, sec.Callouts, 3)
	assert.Empty(t, Validate(sec), "fallback sections must pass validation")
	assert.NotContains(t, sec.Content[0].Source, "```", "fences are stripped from the excerpt")
}

func TestCompileFallback_EmptyResponse(t *testing.T) {
	sec := CompileFallback("", 1)
	assert.Contains(t, sec.Content[0].Source, "Content unavailable")
}

func TestCompileFallback_TruncatesLongResponses(t *testing.T) {
	sec := CompileFallback(strings.Repeat("y", 5000), 1)
	assert.LessOrEqual(t, len(sec.Content[0].Source), 1900)
}

func TestCompileFallback_TruncationKeepsValidUTF8(t *testing.T) {
	// The byte cap lands mid-rune without the boundary backup.
	sec := CompileFallback("x"+strings.Repeat("日", 700), 1)
	assert.True(t, utf8.ValidString(sec.Content[0].Source))
	assert.LessOrEqual(t, len(sec.Content[0].Source), 1900)
}

func TestValidate(t *testing.T) {
	usable := func() *notebook.Section {
		var s notebook.Section
		require.NoError(t, json.Unmarshal([]byte(usableSection(t, 1)), &s))
		return &s
	}

	t.Run("usable section passes", func(t *testing.T) {
		assert.Empty(t, Validate(usable()))
	})

	t.Run("empty content", func(t *testing.T) {
		assert.NotEmpty(t, Validate(&notebook.Section{}))
	})

	t.Run("below token floor", func(t *testing.T) {
		s := usable()
		s.Content = []notebook.Cell{
			{CellType: "markdown", Source: "short"},
			{CellType: "code", Source: "x = 1"},
		}
		issues := Validate(s)
		assert.Contains(t, strings.Join(issues, "; "), "below minimum")
	})

	t.Run("fallback exempt from token floor", func(t *testing.T) {
		s := usable()
		s.Fallback = true
		s.Content = []notebook.Cell{
			{CellType: "markdown", Source: "short"},
			{CellType: "code", Source: "x = 1"},
		}
		assert.Empty(t, Validate(s))
	})

	t.Run("above token ceiling", func(t *testing.T) {
		s := usable()
		s.Content = append(s.Content, notebook.Cell{
			CellType: "markdown",
			Source:   strings.Repeat("over budget ", 900),
		})
		issues := Validate(s)
		assert.Contains(t, strings.Join(issues, "; "), "exceeds token limit")
	})

	t.Run("missing code", func(t *testing.T) {
		s := usable()
		var mdOnly []notebook.Cell
		for _, c := range s.Content {
			if c.CellType == "markdown" {
				mdOnly = append(mdOnly, c)
			}
		}
		s.Content = mdOnly
		assert.Contains(t, strings.Join(Validate(s), "; "), "code")
	})
}
