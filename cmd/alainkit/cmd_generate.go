package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"alainkit/internal/checkpoint"
	"alainkit/internal/llm"
	"alainkit/internal/orchestrator"
	"alainkit/internal/outline"
	"alainkit/internal/pipeline"
	"alainkit/internal/prompt"
	"alainkit/internal/review"
	"alainkit/internal/section"
	"alainkit/internal/toolruntime"
	"alainkit/internal/validate"
)

var (
	genModel         string
	genDifficulty    string
	genOut           string
	genCheckpointDir string
	genMaxSections   int
	genConcurrency   int
	genSessionLogDir string
	genSemantic      bool
)

// generateCmd runs the full pipeline for one model reference.
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a validated notebook for a model reference",
	Long: `Generates a complete notebook through the full pipeline:
  1. Outline: one model call, validated and repaired if needed
  2. Sections: bounded worker pool with per-section checkpoints
  3. Assembly: deterministic nbformat-4 build
  4. Gates: QA gate, semantic critique, quality score, Colab checks

Interrupted runs resume from the checkpoint directory. Re-run the same
command with the same --checkpoint-dir and completed sections are loaded
instead of regenerated.

Example:
  alainkit generate --model openai/gpt-oss-20b --difficulty beginner -o notebook.ipynb`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVarP(&genModel, "model", "m", "", "Model reference to teach (required)")
	generateCmd.Flags().StringVarP(&genDifficulty, "difficulty", "d", "beginner", "Target audience: beginner, intermediate, advanced")
	generateCmd.Flags().StringVarP(&genOut, "out", "o", "notebook.ipynb", "Output notebook path")
	generateCmd.Flags().StringVar(&genCheckpointDir, "checkpoint-dir", "", "Checkpoint directory (default: from config)")
	generateCmd.Flags().IntVar(&genMaxSections, "max-sections", 0, "Trim the outline to at most this many sections (0 = all)")
	generateCmd.Flags().IntVar(&genConcurrency, "concurrency", 0, "Section worker pool size (0 = auto)")
	generateCmd.Flags().StringVar(&genSessionLogDir, "session-log-dir", "", "Directory for tool session logs (empty = disabled)")
	generateCmd.Flags().BoolVar(&genSemantic, "semantic", true, "Run the advisory semantic critique")
	_ = generateCmd.MarkFlagRequired("model")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := llm.NewClient(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to build LLM client: %w", err)
	}

	retry := llm.DefaultRetryPolicy()
	if cfg.Generation.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.Generation.MaxAttempts
	}
	if d, err := time.ParseDuration(cfg.Generation.BackoffBase); err == nil && d > 0 {
		retry.Base = d
	}
	if d, err := time.ParseDuration(cfg.Generation.BackoffCeiling); err == nil && d > 0 {
		retry.Ceiling = d
	}

	prompts := prompt.NewStore(cfg.Prompts.OverrideRoot, logger)
	if cfg.Prompts.Watch && cfg.Prompts.OverrideRoot != "" {
		watcher, err := prompts.Watch(cfg.Prompts.OverrideRoot)
		if err != nil {
			logger.Warn("prompt watch unavailable", zap.Error(err))
		} else {
			defer watcher.Close()
		}
	}

	recorder := review.NewRecorder(cfg.Generation.HumanReviewDir, slugFor(genModel), logger)

	store, closeStore, err := openCheckpointStore()
	if err != nil {
		return err
	}
	defer closeStore()

	var semanticClient llm.Client
	if genSemantic {
		semanticClient = client
	}

	concurrency := genConcurrency
	if concurrency == 0 {
		concurrency = cfg.Generation.MaxConcurrency
	}
	if concurrency == 0 {
		// Local endpoints tolerate parallel requests; hosted ones get one
		// in-flight call to stay inside rate limits.
		if llm.IsLocalEndpoint(cfg.LLM.BaseURL) {
			concurrency = 2
		} else {
			concurrency = 1
		}
	}

	maxSections := genMaxSections
	if maxSections == 0 {
		maxSections = cfg.Generation.MaxSections
	}

	p := pipeline.New(pipeline.Options{
		Outlines:   outline.NewGenerator(client, prompts, recorder, retry, logger),
		Sections:   section.NewGenerator(client, prompts, recorder, retry, logger),
		Checkpoint: store,
		Semantic:   validate.NewSemanticValidator(semanticClient, retry, logger),
		Runtime:    toolruntime.NewRuntime(genSessionLogDir, logger),
		OrchConfig: orchestrator.Config{
			MaxConcurrency: concurrency,
			MaxAttempts:    retry.MaxAttempts,
			Backoff:        retry,
		},
		Logger: logger,
	})

	result, err := p.Generate(ctx, pipeline.GenerateConfig{
		ModelReference: genModel,
		Difficulty:     genDifficulty,
		MaxSections:    maxSections,
	})
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(result.Notebook, "", " ")
	if err != nil {
		return fmt.Errorf("failed to encode notebook: %w", err)
	}
	if err := os.WriteFile(genOut, data, 0o644); err != nil {
		return fmt.Errorf("failed to write notebook: %w", err)
	}

	fmt.Printf("Notebook written to %s\n\n", genOut)
	fmt.Println(pipeline.ValidationReport(result.Quality, result.Colab))
	return nil
}

// openCheckpointStore builds the configured checkpoint backend and returns it
// with a close function.
func openCheckpointStore() (checkpoint.Store, func(), error) {
	dir := genCheckpointDir
	if dir == "" {
		dir = cfg.Checkpoints.Dir
	}

	if cfg.Checkpoints.Backend == "sqlite" {
		path := cfg.Checkpoints.DBPath
		if path == "" {
			path = filepath.Join(dir, "checkpoints.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create checkpoint dir: %w", err)
		}
		s, err := checkpoint.NewSQLiteStore(path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}

	s, err := checkpoint.NewFileStore(dir)
	if err != nil {
		return nil, nil, err
	}
	return s, func() {}, nil
}

func slugFor(model string) string {
	out := make([]rune, 0, len(model))
	for _, r := range model {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		default:
			out = append(out, '-')
		}
	}
	return string(out)
}
