// Package pipeline wires the full generation run: outline, sections via the
// orchestrator, notebook assembly, and the validation gates.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"alainkit/internal/checkpoint"
	"alainkit/internal/logging"
	"alainkit/internal/notebook"
	"alainkit/internal/orchestrator"
	"alainkit/internal/outline"
	"alainkit/internal/section"
	"alainkit/internal/toolruntime"
	"alainkit/internal/validate"
)

// Tools registered with the invocation runtime at pipeline construction.
var registeredTools = []struct{ namespace, name, description string }{
	{"notebook", "generate_outline", "Generate the notebook outline from the model reference."},
	{"notebook", "generate_section", "Generate one section body for an outline step."},
	{"notebook", "section_validation", "Validate generated section content against structural checks."},
	{"validator", "run_qa_gate", "Run the lightweight QA gate before downstream validators."},
	{"validator", "run_semantic", "Run the advisory semantic critique."},
	{"validator", "run_quality", "Execute notebook quality validation and return metrics."},
	{"validator", "run_colab", "Execute Colab compatibility checks and return issues."},
	{"pipeline", "error", "Represents terminal pipeline errors before teardown."},
}

// GenerateConfig is the caller-facing knob set for one run.
type GenerateConfig struct {
	ModelReference string
	Difficulty     string
	Custom         *outline.CustomPrompt

	// MaxSections trims the outline after validation; zero keeps all steps.
	MaxSections int

	// MaxConcurrency bounds the section worker pool.
	MaxConcurrency int

	// MaxAttempts caps generation attempts per section.
	MaxAttempts int
}

// PhaseTimings records how long each pipeline phase took.
type PhaseTimings struct {
	Outline  time.Duration         `json:"outline"`
	Sections time.Duration         `json:"sections_total"`
	Section  map[int]time.Duration `json:"section"`
	Build    time.Duration         `json:"build"`
	Quality  time.Duration         `json:"quality"`
	Colab    time.Duration         `json:"colab"`
	Total    time.Duration         `json:"total"`
}

// Result is the full pipeline output.
type Result struct {
	RunID    string
	Notebook *notebook.Notebook
	Outline  *notebook.Outline
	Sections []*notebook.Section

	QaReport       validate.GateReport
	SemanticReport validate.SemanticReport
	Quality        validate.QualityMetrics
	Colab          validate.ColabResult

	QualityScore    int
	ColabCompatible bool
	Timings         PhaseTimings
}

// Pipeline owns one configured set of components. Runs share the prompt
// store and clients; each run gets its own tool session.
type Pipeline struct {
	outlines *outline.Generator
	orch     *orchestrator.Orchestrator
	builder  *notebook.Builder
	quality  *validate.QualityValidator
	colab    *validate.ColabValidator
	semantic *validate.SemanticValidator
	qaGate   *validate.QaGate
	runtime  *toolruntime.Runtime
	orchCfg  orchestrator.Config
	logger   *zap.Logger
}

// Options collects the pre-built components.
type Options struct {
	Outlines   *outline.Generator
	Sections   *section.Generator
	Checkpoint checkpoint.Store
	Semantic   *validate.SemanticValidator
	Runtime    *toolruntime.Runtime
	OrchConfig orchestrator.Config
	Logger     *zap.Logger
}

// New assembles a pipeline and registers the tool descriptors.
func New(opts Options) *Pipeline {
	logger := logging.Or(opts.Logger)
	runtime := opts.Runtime
	if runtime == nil {
		runtime = toolruntime.NewRuntime("", logger)
	}
	for _, t := range registeredTools {
		runtime.RegisterTool(t.namespace, t.name, t.description)
	}

	return &Pipeline{
		outlines: opts.Outlines,
		orch:     orchestrator.New(opts.Sections, opts.Checkpoint, logger),
		builder:  notebook.NewBuilder(),
		quality:  validate.NewQualityValidator(),
		colab:    validate.NewColabValidator(),
		semantic: opts.Semantic,
		qaGate:   validate.NewQaGate(logger),
		runtime:  runtime,
		orchCfg:  opts.OrchConfig,
		logger:   logger.Named("pipeline"),
	}
}

// Generate runs the whole pipeline for one notebook. Each call opens a fresh
// tool session, which is flushed on every exit path.
func (p *Pipeline) Generate(ctx context.Context, cfg GenerateConfig) (result *Result, err error) {
	started := time.Now()
	runID := uuid.NewString()
	session := p.runtime.StartSession(map[string]any{"run_id": runID})
	defer func() {
		if err != nil {
			session.Log("error", map[string]any{"message": err.Error()})
			session.Complete("error", "error", nil)
		}
		session.End()
	}()

	difficulty := cfg.Difficulty
	if difficulty == "" {
		difficulty = "beginner"
	}
	p.logger.Info("starting notebook generation",
		zap.String("run", runID),
		zap.String("model", cfg.ModelReference),
		zap.String("difficulty", difficulty))

	// Phase 1: outline.
	tOutline := time.Now()
	session.Log("generate_outline", map[string]any{
		"model":      cfg.ModelReference,
		"difficulty": difficulty,
	})
	ol, err := p.outlines.Generate(ctx, outline.Request{
		Model:      cfg.ModelReference,
		Difficulty: difficulty,
		Custom:     cfg.Custom,
	})
	if err != nil {
		session.Complete("generate_outline", "error", map[string]any{"message": err.Error()})
		return nil, fmt.Errorf("outline generation failed: %w", err)
	}
	session.Complete("generate_outline", "ok", map[string]any{
		"steps":      len(ol.Steps),
		"objectives": len(ol.Objectives),
	})
	outlineDur := time.Since(tOutline)

	if cfg.MaxSections > 0 && cfg.MaxSections < len(ol.Steps) {
		ol.Steps = ol.Steps[:cfg.MaxSections]
	}

	// Phase 2: sections through the orchestrator.
	orchCfg := p.orchCfg
	orchCfg.ModelReference = cfg.ModelReference
	orchCfg.Session = session
	if cfg.MaxConcurrency > 0 {
		orchCfg.MaxConcurrency = cfg.MaxConcurrency
	}
	if cfg.MaxAttempts > 0 {
		orchCfg.MaxAttempts = cfg.MaxAttempts
	}
	run, err := p.orch.Generate(ctx, ol, orchCfg)
	if err != nil {
		return nil, err
	}

	// Phase 3: assembly.
	tBuild := time.Now()
	nb, err := p.builder.Build(ol, run.Sections)
	if err != nil {
		return nil, fmt.Errorf("notebook assembly failed: %w", err)
	}
	buildDur := time.Since(tBuild)

	// Phase 4: QA gate before the expensive validators.
	session.Log("run_qa_gate", nil)
	qaReport := p.qaGate.Evaluate(ol, run.Sections)
	session.Complete("run_qa_gate", qaReport.OverallStatus, map[string]any{
		"blocking": len(qaReport.BlockingIssues),
		"warnings": len(qaReport.WarningIssues),
	})
	if qaReport.OverallStatus == validate.StatusFail {
		return nil, fmt.Errorf("QA gate failed: %s", strings.Join(qaReport.BlockingIssues, "; "))
	}

	// Phase 5: advisory semantic critique.
	session.Log("run_semantic", nil)
	semanticReport := p.semantic.Evaluate(ctx, ol, run.Sections)
	session.Complete("run_semantic", semanticReport.Status, nil)
	if semanticReport.Status == validate.StatusFail {
		return nil, fmt.Errorf("semantic QA failed: %s", strings.Join(semanticReport.Issues, "; "))
	}

	// Phase 6: quality and Colab checks.
	tQuality := time.Now()
	session.Log("run_quality", nil)
	quality := p.quality.Validate(nb)
	session.Complete("run_quality", "ok", map[string]any{"score": quality.QualityScore})
	qualityDur := time.Since(tQuality)

	tColab := time.Now()
	session.Log("run_colab", nil)
	colab := p.colab.Validate(nb)
	session.Complete("run_colab", "ok", map[string]any{"issues": len(colab.Issues)})
	colabDur := time.Since(tColab)

	total := time.Since(started)
	p.logger.Info("notebook generation complete",
		zap.String("run", runID),
		zap.Int("sections", len(run.Sections)),
		zap.Int("quality_score", quality.QualityScore),
		zap.Bool("colab_compatible", colab.Compatible),
		zap.Duration("total", total))

	return &Result{
		RunID:           runID,
		Notebook:        nb,
		Outline:         ol,
		Sections:        run.Sections,
		QaReport:        qaReport,
		SemanticReport:  semanticReport,
		Quality:         quality,
		Colab:           colab,
		QualityScore:    quality.QualityScore,
		ColabCompatible: colab.Compatible,
		Timings: PhaseTimings{
			Outline:  outlineDur,
			Sections: run.Total,
			Section:  run.Durations,
			Build:    buildDur,
			Quality:  qualityDur,
			Colab:    colabDur,
			Total:    total,
		},
	}, nil
}

// ValidationReport renders the human-readable run summary.
func ValidationReport(quality validate.QualityMetrics, colab validate.ColabResult) string {
	standards := "Not met"
	if quality.MeetsStandards {
		standards = "Met"
	}
	compat := "Issues found"
	if colab.Compatible {
		compat = "Compatible"
	}
	summary := "Improvements needed before publishing."
	if quality.MeetsStandards && colab.Compatible {
		summary = "Ready for production deployment."
	}
	return fmt.Sprintf(`# Validation Report

## Quality Assessment
- **Score:** %d/100
- **Standards:** %s
- **Steps:** %d
- **Reading Time:** %.1f minutes

## Colab Compatibility
- **Status:** %s
- **Issues:** %d

## Summary
%s`,
		quality.QualityScore, standards, quality.StepCount, quality.EstimatedReadingTime,
		compat, len(colab.Issues), summary)
}
