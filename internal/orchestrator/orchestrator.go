// Package orchestrator drives per-section generation: a bounded worker pool
// with per-section retries, checkpoint-backed resume, and a final
// completeness barrier.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"alainkit/internal/checkpoint"
	"alainkit/internal/llm"
	"alainkit/internal/logging"
	"alainkit/internal/notebook"
	"alainkit/internal/section"
	"alainkit/internal/toolruntime"
)

// SlotState tracks one section's position in the run.
type SlotState int

const (
	SlotPending SlotState = iota
	SlotInFlight
	SlotCompleted
	SlotFailed
)

// String returns a human-readable state name.
func (s SlotState) String() string {
	switch s {
	case SlotPending:
		return "pending"
	case SlotInFlight:
		return "in_flight"
	case SlotCompleted:
		return "completed"
	case SlotFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IncompleteError reports sections that never reached Completed, with the
// last error seen for each.
type IncompleteError struct {
	Missing []int
	LastErr map[int]error
}

func (e *IncompleteError) Error() string {
	nums := make([]string, len(e.Missing))
	for i, n := range e.Missing {
		nums[i] = fmt.Sprintf("%d", n)
	}
	return "section generation incomplete. Missing sections: " + strings.Join(nums, ", ")
}

// Config tunes the run.
type Config struct {
	// MaxConcurrency bounds the worker pool; values below 1 are clamped to 1.
	MaxConcurrency int

	// MaxAttempts caps generation attempts per section.
	MaxAttempts int

	// Backoff shapes the delay between attempts on the same section.
	Backoff llm.RetryPolicy

	// ModelReference is passed through to the section prompts.
	ModelReference string

	// Session receives per-section invocation records for this run. May be nil.
	Session *toolruntime.Session
}

// Result is a completed run: sections in outline order plus timing.
type Result struct {
	Sections  []*notebook.Section
	Durations map[int]time.Duration
	Total     time.Duration
	Resumed   []int
	Fallbacks []int
}

// Orchestrator coordinates one generation run at a time.
type Orchestrator struct {
	sections *section.Generator
	store    checkpoint.Store
	logger   *zap.Logger
}

// New builds an orchestrator.
func New(sections *section.Generator, store checkpoint.Store, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		sections: sections,
		store:    store,
		logger:   logging.Or(logger).Named("orchestrator"),
	}
}

type slot struct {
	mu       sync.Mutex
	state    SlotState
	section  *notebook.Section
	lastErr  error
	duration time.Duration
	resumed  bool
}

func (s *slot) set(state SlotState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Generate produces every section of the outline. Checkpointed sections are
// loaded instead of regenerated; everything else goes through the worker
// pool in ascending order. Any section still missing after the barrier makes
// the whole run fail with *IncompleteError.
func (o *Orchestrator) Generate(ctx context.Context, outline *notebook.Outline, cfg Config) (*Result, error) {
	if outline == nil || len(outline.Steps) == 0 {
		return nil, fmt.Errorf("outline has no steps")
	}
	total := len(outline.Steps)
	started := time.Now()

	concurrency := cfg.MaxConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	slots := make([]*slot, total)
	for i := range slots {
		slots[i] = &slot{state: SlotPending}
	}

	// Resume: checkpointed sections load as completed at zero model cost.
	completed, err := o.store.Completed()
	if err != nil {
		return nil, fmt.Errorf("failed to scan checkpoints: %w", err)
	}
	for _, n := range completed {
		if n < 1 || n > total {
			continue
		}
		sec, ok, err := o.store.Get(n)
		if err != nil || !ok {
			if err != nil {
				o.logger.Warn("checkpoint unreadable, regenerating section",
					zap.Int("section", n), zap.Error(err))
			}
			continue
		}
		slots[n-1].state = SlotCompleted
		slots[n-1].section = sec
		slots[n-1].resumed = true
	}
	resumedCount := 0
	for _, s := range slots {
		if s.resumed {
			resumedCount++
		}
	}
	o.logger.Info("starting section generation",
		zap.Int("sections", total),
		zap.Int("resumed", resumedCount),
		zap.Int("concurrency", concurrency))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := 0; i < total; i++ {
		if slots[i].state == SlotCompleted {
			continue
		}
		n := i + 1
		sl := slots[i]
		g.Go(func() error {
			return o.runSlot(gctx, outline, slots, sl, n, attempts, cfg)
		})
	}
	err = g.Wait()

	// Completeness barrier: every slot must hold a section.
	var missing []int
	lastErrs := make(map[int]error)
	for i, sl := range slots {
		if sl.state != SlotCompleted || sl.section == nil {
			missing = append(missing, i+1)
			if sl.lastErr != nil {
				lastErrs[i+1] = sl.lastErr
			}
		}
	}
	if len(missing) > 0 {
		sort.Ints(missing)
		incomplete := &IncompleteError{Missing: missing, LastErr: lastErrs}
		if err != nil {
			o.logger.Error("generation run failed", zap.Error(err), zap.Ints("missing", missing))
		}
		return nil, incomplete
	}
	if err != nil {
		return nil, err
	}

	result := &Result{
		Sections:  make([]*notebook.Section, total),
		Durations: make(map[int]time.Duration, total),
		Total:     time.Since(started),
	}
	for i, sl := range slots {
		result.Sections[i] = sl.section
		result.Durations[i+1] = sl.duration
		if sl.resumed {
			result.Resumed = append(result.Resumed, i+1)
		}
		if sl.section.Fallback {
			result.Fallbacks = append(result.Fallbacks, i+1)
		}
	}
	o.logger.Info("section generation complete",
		zap.Int("sections", total),
		zap.Int("fallbacks", len(result.Fallbacks)),
		zap.Duration("total", result.Total))
	return result, nil
}

// runSlot drives one section through the attempt loop.
func (o *Orchestrator) runSlot(ctx context.Context, outline *notebook.Outline, slots []*slot, sl *slot, n, attempts int, cfg Config) error {
	sl.set(SlotInFlight)
	started := time.Now()

	session := cfg.Session
	session.Log("generate_section", map[string]any{"section": n})

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := cfg.Backoff.Delay(attempt - 1)
			o.logger.Warn("retrying section",
				zap.Int("section", n),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				sl.mu.Lock()
				sl.state = SlotFailed
				sl.lastErr = ctx.Err()
				sl.mu.Unlock()
				return ctx.Err()
			case <-timer.C:
			}
		}

		sec, err := o.sections.Generate(ctx, section.Request{
			Outline:        outline,
			SectionNumber:  n,
			Previous:       completedBefore(slots, n),
			ModelReference: cfg.ModelReference,
		})
		if err != nil {
			lastErr = err
			continue
		}

		session.Log("section_validation", map[string]any{"section": n})
		if issues := section.Validate(sec); len(issues) > 0 {
			lastErr = fmt.Errorf("section %d failed validation: %s", n, strings.Join(issues, "; "))
			session.Complete("section_validation", "failed", map[string]any{"section": n, "issues": issues})
			continue
		}
		session.Complete("section_validation", "ok", map[string]any{"section": n})

		// Best-effort checkpoint: persistence failure costs resumability,
		// not the run.
		if err := o.store.Put(n, sec); err != nil {
			o.logger.Warn("checkpoint write failed", zap.Int("section", n), zap.Error(err))
		}

		sl.mu.Lock()
		sl.state = SlotCompleted
		sl.section = sec
		sl.duration = time.Since(started)
		sl.mu.Unlock()

		session.Complete("generate_section", "ok", map[string]any{
			"section":  n,
			"fallback": sec.Fallback,
		})
		return nil
	}

	sl.mu.Lock()
	sl.state = SlotFailed
	sl.lastErr = lastErr
	sl.mu.Unlock()
	session.Complete("generate_section", "failed", map[string]any{"section": n})
	return fmt.Errorf("section %d failed after %d attempts: %w", n, attempts, lastErr)
}

// completedBefore returns the already-completed sections with numbers below n,
// in order, as context for the next prompt.
func completedBefore(slots []*slot, n int) []*notebook.Section {
	var out []*notebook.Section
	for i := 0; i < n-1 && i < len(slots); i++ {
		slots[i].mu.Lock()
		if slots[i].state == SlotCompleted && slots[i].section != nil {
			out = append(out, slots[i].section)
		}
		slots[i].mu.Unlock()
	}
	return out
}
