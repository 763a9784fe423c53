package notebook

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Builder assembles the final notebook from an outline and its generated
// sections. Assembly is pure: no I/O, no clock, no randomness, so identical
// inputs always yield an identical document.
type Builder struct{}

// NewBuilder returns a notebook builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Build assembles the notebook. Sections must already be in outline order.
func (b *Builder) Build(outline *Outline, sections []*Section) (*Notebook, error) {
	if outline == nil || outline.Title == "" || outline.Overview == "" {
		return nil, fmt.Errorf("invalid outline: missing title or overview")
	}

	var cells []NotebookCell

	cells = append(cells, b.environmentCell())
	cells = append(cells, b.providerSetupCell())
	cells = append(cells, b.titleCell(outline.Title, outline.Overview))
	cells = append(cells, b.objectivesCell(outline.Objectives))
	if len(outline.Prerequisites) > 0 {
		cells = append(cells, b.prerequisitesCell(outline.Prerequisites))
	}
	cells = append(cells, b.setupCells(outline.Setup)...)
	cells = append(cells, b.widgetBootstrapCell())

	// Knowledge checks are spread across sections: each section takes an even
	// share of the remaining questions, leftovers land in a bonus block.
	pending := append([]Assessment(nil), outline.Assessments...)
	introInserted := false

	for idx, section := range sections {
		for _, cell := range section.Content {
			cells = append(cells, b.sectionCell(cell))
		}
		if len(pending) == 0 {
			continue
		}
		if !introInserted {
			cells = append(cells, b.assessmentIntroCells()...)
			introInserted = true
		}
		title := section.Title
		if title == "" {
			title = fmt.Sprintf("Step %d", idx+1)
		}
		cells = append(cells, b.assessmentHeaderCell(title))

		remaining := len(sections) - idx
		perSection := (len(pending) + remaining - 1) / remaining
		if perSection < 1 {
			perSection = 1
		}
		for q := 0; q < perSection && len(pending) > 0; q++ {
			if cell, ok := b.assessmentQuestionCell(pending[0]); ok {
				cells = append(cells, cell)
			}
			pending = pending[1:]
		}
	}
	if len(pending) > 0 {
		if !introInserted {
			cells = append(cells, b.assessmentIntroCells()...)
		}
		cells = append(cells, b.assessmentHeaderCell("Bonus Knowledge Checks"))
		for _, a := range pending {
			if cell, ok := b.assessmentQuestionCell(a); ok {
				cells = append(cells, cell)
			}
		}
	}

	cells = append(cells, b.troubleshootingCell())

	nb := &Notebook{
		Cells: cells,
		Metadata: map[string]any{
			"kernelspec": map[string]any{
				"display_name": "Python 3",
				"language":     "python",
				"name":         "python3",
			},
			"language_info": map[string]any{
				"name":    "python",
				"version": "3",
			},
			"alain": map[string]any{
				"schemaVersion": "1.0.0",
				"title":         outline.Title,
			},
		},
		NBFormat:      4,
		NBFormatMinor: 4,
	}
	return nb, nil
}

func markdownCell(source ...string) NotebookCell {
	return NotebookCell{
		CellType: "markdown",
		Metadata: map[string]any{},
		Source:   source,
	}
}

func codeCell(source ...string) NotebookCell {
	return NotebookCell{
		CellType: "code",
		Metadata: map[string]any{},
		Source:   source,
		Outputs:  []any{},
	}
}

// sectionCell converts a generated cell into nbformat shape, splitting its
// source into newline-terminated lines.
func (b *Builder) sectionCell(cell Cell) NotebookCell {
	source := splitSource(cell.Source)
	if cell.CellType == "code" {
		return codeCell(source...)
	}
	return markdownCell(source...)
}

func splitSource(s string) []string {
	lines := strings.Split(s, "\n")
	out := make([]string, len(lines))
	for i, line := range lines {
		if i < len(lines)-1 {
			out[i] = line + "\n"
		} else {
			out[i] = line
		}
	}
	return out
}

func (b *Builder) environmentCell() NotebookCell {
	return codeCell(
		"# Environment detection and setup\n",
		"import sys\n",
		"import os\n",
		"\n",
		"IN_COLAB = 'google.colab' in sys.modules\n",
		"env_label = 'Google Colab' if IN_COLAB else 'Local'\n",
		"print(f'Environment: {env_label}')\n",
		"\n",
		"if IN_COLAB:\n",
		"    try:\n",
		"        from google.colab import output\n",
		"        output.enable_custom_widget_manager()\n",
		"    except Exception:\n",
		"        pass\n",
	)
}

func (b *Builder) providerSetupCell() NotebookCell {
	return codeCell(
		"# Provider setup (OpenAI-compatible endpoints, incl. local servers)\n",
		"import os\n",
		"import sys\n",
		"IN_COLAB = 'google.colab' in sys.modules\n",
		"try:\n",
		"    from openai import OpenAI\n",
		"except Exception:\n",
		"    if IN_COLAB:\n",
		"        get_ipython().run_line_magic('pip', 'install -q openai>=1.34.0')\n",
		"    else:\n",
		"        import subprocess\n",
		"        subprocess.check_call([sys.executable, '-m', 'pip', 'install', '-q', 'openai>=1.34.0'])\n",
		"    from openai import OpenAI\n",
		"\n",
		"base_url = os.environ.get('OPENAI_BASE_URL', 'https://api.poe.com/v1')\n",
		"api_key = os.environ.get('OPENAI_API_KEY')\n",
		"if not api_key:\n",
		"    from getpass import getpass\n",
		"    api_key = getpass('Enter API key (input hidden): ')\n",
		"    os.environ['OPENAI_API_KEY'] = api_key\n",
		"client = OpenAI(base_url=base_url, api_key=api_key)\n",
		"print('Provider ready:', base_url)\n",
	)
}

func (b *Builder) titleCell(title, overview string) NotebookCell {
	return markdownCell(fmt.Sprintf("# %s\n\n%s", title, overview))
}

func (b *Builder) objectivesCell(objectives []string) NotebookCell {
	source := []string{
		"## Learning Objectives\n\n",
		"By the end of this tutorial, you will be able to:\n\n",
	}
	for i, obj := range objectives {
		source = append(source, fmt.Sprintf("%d. %s\n", i+1, obj))
	}
	return markdownCell(source...)
}

func (b *Builder) prerequisitesCell(prerequisites []string) NotebookCell {
	source := []string{"## Prerequisites\n\n"}
	for _, p := range prerequisites {
		source = append(source, fmt.Sprintf("- %s\n", p))
	}
	return markdownCell(source...)
}

func (b *Builder) setupCells(setup Setup) []NotebookCell {
	cells := []NotebookCell{
		markdownCell("## Setup\n\nLet's install the required packages and set up our environment.\n"),
	}
	if len(setup.Requirements) > 0 {
		quoted := make([]string, len(setup.Requirements))
		for i, r := range setup.Requirements {
			quoted[i] = fmt.Sprintf("%q", r)
		}
		cells = append(cells, codeCell(
			"# Install packages (Colab-compatible)\n",
			"import sys\n",
			"IN_COLAB = 'google.colab' in sys.modules\n",
			"\n",
			"if IN_COLAB:\n",
			fmt.Sprintf("    get_ipython().run_line_magic('pip', 'install -q %s')\n", strings.Join(setup.Requirements, " ")),
			"else:\n",
			"    import subprocess\n",
			fmt.Sprintf("    subprocess.check_call([sys.executable, '-m', 'pip', 'install', %s])\n", strings.Join(quoted, ", ")),
			"\n",
			"print('Packages installed')\n",
		))
	}
	return cells
}

func (b *Builder) widgetBootstrapCell() NotebookCell {
	return codeCell(
		"# Ensure ipywidgets is installed for interactive knowledge checks\n",
		"import sys\n",
		"IN_COLAB = 'google.colab' in sys.modules\n",
		"try:\n",
		"    import ipywidgets\n",
		"    print('ipywidgets available')\n",
		"except Exception:\n",
		"    if IN_COLAB:\n",
		"        get_ipython().run_line_magic('pip', 'install -q ipywidgets>=8.0.0')\n",
		"    else:\n",
		"        import subprocess\n",
		"        subprocess.check_call([sys.executable, '-m', 'pip', 'install', '-q', 'ipywidgets>=8.0.0'])\n",
	)
}

func (b *Builder) assessmentIntroCells() []NotebookCell {
	intro := markdownCell(
		"## Knowledge Check (Interactive)\n\n",
		"Use the widgets below to select an answer and click Grade to see feedback.\n",
	)
	helper := codeCell(
		"# MCQ helper (ipywidgets)\n",
		"import ipywidgets as widgets\n",
		"from IPython.display import display, Markdown\n",
		"\n",
		"def render_mcq(question, options, correct_index, explanation):\n",
		"    labels = []\n",
		"    for idx, raw in enumerate(options):\n",
		"        text = str(raw or '').strip()\n",
		"        prefix = f'{chr(65+idx)}. '\n",
		"        if not text.lower().startswith(prefix.lower()):\n",
		"            text = prefix + text\n",
		"        labels.append(text)\n",
		"    rb = widgets.RadioButtons(options=[(label, idx) for idx, label in enumerate(labels)], description='')\n",
		"    grade_btn = widgets.Button(description='Grade', button_style='primary')\n",
		"    feedback = widgets.HTML(value='')\n",
		"    def on_grade(_):\n",
		"        sel = rb.value\n",
		"        if sel is None:\n",
		"            feedback.value = '<p>Please select an option.</p>'\n",
		"            return\n",
		"        if sel == correct_index:\n",
		"            feedback.value = '<p>Correct!</p>'\n",
		"        else:\n",
		"            feedback.value = f'<p>Incorrect. Correct answer is {chr(65+correct_index)}.</p>'\n",
		"        feedback.value += f'<div><em>Explanation:</em> {explanation}</div>'\n",
		"    grade_btn.on_click(on_grade)\n",
		"    display(Markdown('### ' + question))\n",
		"    display(rb)\n",
		"    display(grade_btn)\n",
		"    display(feedback)\n",
	)
	return []NotebookCell{intro, helper}
}

func (b *Builder) assessmentHeaderCell(title string) NotebookCell {
	return markdownCell(fmt.Sprintf("### Knowledge Check: %s\n", strings.TrimSpace(title)))
}

// assessmentQuestionCell emits a render_mcq call. Malformed questions are
// skipped rather than breaking the whole notebook.
func (b *Builder) assessmentQuestionCell(a Assessment) (NotebookCell, bool) {
	if a.Question == "" || len(a.Options) == 0 || a.Explanation == "" {
		return NotebookCell{}, false
	}
	if a.CorrectIndex < 0 || a.CorrectIndex >= len(a.Options) {
		return NotebookCell{}, false
	}
	question, _ := json.Marshal(a.Question)
	options, _ := json.Marshal(a.Options)
	explanation, _ := json.Marshal(a.Explanation)
	call := fmt.Sprintf("render_mcq(%s, %s, %d, %s)\n", question, options, a.CorrectIndex, explanation)
	return codeCell(call), true
}

func (b *Builder) troubleshootingCell() NotebookCell {
	return markdownCell(
		"## Troubleshooting Guide\n\n",
		"### Common Issues:\n\n",
		"1. **Out of Memory Error**\n",
		"   - Enable GPU: Runtime > Change runtime type > GPU\n",
		"   - Restart runtime if needed\n\n",
		"2. **Package Installation Issues**\n",
		"   - Restart runtime after installing packages\n",
		"   - Use `!pip install -q` for quiet installation\n\n",
		"3. **Model Loading Fails**\n",
		"   - Check internet connection\n",
		"   - Verify authentication tokens\n",
		"   - Try CPU-only mode if GPU fails\n",
	)
}
