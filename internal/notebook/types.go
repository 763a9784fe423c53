// Package notebook owns the document model: outlines, generated sections, and
// the assembled Jupyter notebook.
package notebook

import "encoding/json"

// Step types a generated outline may use.
const (
	StepSetup          = "setup"
	StepConcept        = "concept"
	StepImplementation = "implementation"
	StepExercise       = "exercise"
	StepDeployment     = "deployment"
)

// Outline is the plan for a notebook, produced in a single model call.
type Outline struct {
	Title         string        `json:"title"`
	Overview      string        `json:"overview"`
	Objectives    []string      `json:"objectives"`
	Prerequisites []string      `json:"prerequisites"`
	Setup         Setup         `json:"setup"`
	Steps         []OutlineStep `json:"outline"`
	Exercises     []Exercise    `json:"exercises"`
	Assessments   []Assessment  `json:"assessments"`
	Summary       string        `json:"summary"`
	NextSteps     string        `json:"next_steps"`
	References    []string      `json:"references"`

	EstimatedTotalTokens int     `json:"estimated_total_tokens"`
	TargetReadingTime    float64 `json:"target_reading_time"`
}

// OutlineStep is one planned section.
type OutlineStep struct {
	Step            int    `json:"step"`
	Title           string `json:"title"`
	Type            string `json:"type"`
	EstimatedTokens int    `json:"estimated_tokens"`
	ContentType     string `json:"content_type"`
}

// Setup describes environment requirements for the notebook.
type Setup struct {
	Requirements []string `json:"requirements"`
	Environment  []string `json:"environment"`
	Commands     []string `json:"commands"`
}

// Exercise is a hands-on task suggested by the outline.
type Exercise struct {
	Title           string `json:"title"`
	Difficulty      string `json:"difficulty"`
	EstimatedTokens int    `json:"estimated_tokens"`
}

// Assessment is a multiple-choice knowledge check.
type Assessment struct {
	Question     string   `json:"question"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
	Explanation  string   `json:"explanation"`
}

// Cell is one ordered content unit inside a section.
type Cell struct {
	CellType string `json:"cell_type"` // markdown, code
	Source   string `json:"source"`
}

// Callout is an instructional aside attached to a section.
type Callout struct {
	Type    string `json:"type"` // tip, warning, note
	Message string `json:"message"`
}

// Section is the generated body for one outline step.
type Section struct {
	SectionNumber      int       `json:"section_number"`
	Title              string    `json:"title"`
	Content            []Cell    `json:"content"`
	Callouts           []Callout `json:"callouts"`
	EstimatedTokens    int       `json:"estimated_tokens"`
	PrerequisitesCheck []string  `json:"prerequisites_check"`
	NextSectionHint    string    `json:"next_section_hint"`

	// Fallback marks sections compiled locally after the model response could
	// not be salvaged. Gates surface these for human review.
	Fallback bool `json:"fallback,omitempty"`
}

// NotebookCell is a cell in nbformat-4 shape. Code cells carry an explicit
// null execution_count and an empty outputs list; markdown cells omit both.
type NotebookCell struct {
	CellType       string         `json:"cell_type"`
	Metadata       map[string]any `json:"metadata"`
	Source         []string       `json:"source"`
	ExecutionCount *int           `json:"-"`
	Outputs        []any          `json:"-"`
}

// MarshalJSON emits the nbformat field set appropriate for the cell type.
func (c NotebookCell) MarshalJSON() ([]byte, error) {
	type base struct {
		CellType string         `json:"cell_type"`
		Metadata map[string]any `json:"metadata"`
		Source   []string       `json:"source"`
	}
	if c.CellType != "code" {
		return json.Marshal(base{c.CellType, c.Metadata, c.Source})
	}
	type code struct {
		base
		ExecutionCount *int  `json:"execution_count"`
		Outputs        []any `json:"outputs"`
	}
	outputs := c.Outputs
	if outputs == nil {
		outputs = []any{}
	}
	return json.Marshal(code{base{c.CellType, c.Metadata, c.Source}, c.ExecutionCount, outputs})
}

// Notebook is the assembled nbformat-4 document.
type Notebook struct {
	Cells         []NotebookCell `json:"cells"`
	Metadata      map[string]any `json:"metadata"`
	NBFormat      int            `json:"nbformat"`
	NBFormatMinor int            `json:"nbformat_minor"`
}
