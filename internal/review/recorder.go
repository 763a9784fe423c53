// Package review persists artifacts for generation output that needs human
// attention, plus a per-scenario trace log of salvage activity.
package review

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"alainkit/internal/logging"
)

// Recorder writes human-review artifacts and trace entries under
// <dir>/<scenario>/. All writes are best-effort: a recorder failure is logged
// and never fails the generation that triggered it.
type Recorder struct {
	dir      string
	scenario string
	logger   *zap.Logger
	now      func() time.Time
}

// NewRecorder builds a recorder. An empty dir disables artifact writes but
// keeps the logging side intact.
func NewRecorder(dir, scenario string, logger *zap.Logger) *Recorder {
	return &Recorder{
		dir:      dir,
		scenario: Slug(scenario),
		logger:   logging.Or(logger),
		now:      time.Now,
	}
}

// Slug collapses a free-form scenario label into a filesystem-safe slug.
func Slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "run"
	}
	return slug
}

// Record writes one artifact file named <kind>-<reason>-<stamp>.txt containing
// a short header and the raw payload.
func (r *Recorder) Record(kind, reason, payload string) {
	if r == nil || r.dir == "" {
		return
	}
	dir := filepath.Join(r.dir, r.scenario)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.logger.Warn("failed to create human-review dir", zap.Error(err))
		return
	}

	stamp := r.now().UTC().Format("20060102T150405.000")
	name := fmt.Sprintf("%s-%s-%s.txt", Slug(kind), Slug(reason), stamp)
	header := fmt.Sprintf("kind: %s\nreason: %s\nrecorded_at: %s\n---\n", kind, reason, r.now().UTC().Format(time.RFC3339))

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(header+payload), 0o644); err != nil {
		r.logger.Warn("failed to write human-review artifact", zap.String("path", path), zap.Error(err))
		return
	}
	r.logger.Info("recorded human-review artifact",
		zap.String("kind", kind),
		zap.String("reason", reason),
		zap.String("path", path))
}

// Trace appends one tab-separated line to the scenario's trace.log. The
// payload preview is truncated to 160 characters with newlines flattened.
func (r *Recorder) Trace(kind string, attempt int, phase, payload string) {
	if r == nil || r.dir == "" {
		return
	}
	dir := filepath.Join(r.dir, r.scenario)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.logger.Warn("failed to create trace dir", zap.Error(err))
		return
	}

	preview := strings.ReplaceAll(payload, "\n", " ")
	preview = strings.ReplaceAll(preview, "\t", " ")
	preview = truncate(preview, 160)
	line := fmt.Sprintf("%s\tkind=%s\tattempt=%d\tphase=%s\tpreview=%s\n",
		r.now().UTC().Format(time.RFC3339), kind, attempt, phase, preview)

	path := filepath.Join(dir, "trace.log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		r.logger.Warn("failed to open trace log", zap.String("path", path), zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		r.logger.Warn("failed to append trace entry", zap.Error(err))
	}
}

// truncate caps s at n bytes, backing up so no rune is split.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
