// Package toolruntime records tool invocations made on behalf of a generation
// run. It is observability only: contract violations are logged and ignored
// so a misbehaving recorder can never break generation.
package toolruntime

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"alainkit/internal/logging"
)

// Tool describes a registered tool by namespace and name.
type Tool struct {
	Namespace   string `json:"namespace"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Invocation is one logged tool call. Outcome fields stay empty until the
// call is completed.
type Invocation struct {
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Tool      string         `json:"tool"`
	Payload   map[string]any `json:"payload,omitempty"`
	Status    string         `json:"status,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Runtime creates sessions and optionally flushes their logs to disk.
type Runtime struct {
	logDir string
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	tools []Tool
}

// NewRuntime builds a runtime. An empty logDir disables on-disk flushes.
func NewRuntime(logDir string, logger *zap.Logger) *Runtime {
	return &Runtime{
		logDir: logDir,
		logger: logging.Or(logger).Named("toolruntime"),
		now:    time.Now,
	}
}

// RegisterTool records a tool descriptor shared by all sessions.
func (r *Runtime) RegisterTool(namespace, name, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = append(r.tools, Tool{Namespace: namespace, Name: name, Description: description})
}

// Session accumulates invocations for one run. Sessions are passed by
// reference; callers share one *Session across components.
type Session struct {
	ID   string
	Meta map[string]any

	runtime *Runtime

	mu          sync.Mutex
	ended       bool
	invocations []*Invocation
}

// StartSession opens a new session.
func (r *Runtime) StartSession(meta map[string]any) *Session {
	s := &Session{
		ID:      "session-" + uuid.NewString(),
		Meta:    meta,
		runtime: r,
	}
	r.logger.Debug("tool session started", zap.String("session", s.ID))
	return s
}

// Log records the start of a tool invocation.
func (s *Session) Log(tool string, payload map[string]any) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		s.runtime.logger.Warn("invocation logged on ended session, ignoring",
			zap.String("session", s.ID), zap.String("tool", tool))
		return
	}
	s.invocations = append(s.invocations, &Invocation{
		Timestamp: s.runtime.now(),
		SessionID: s.ID,
		Tool:      tool,
		Payload:   payload,
	})
}

// Complete attaches an outcome to the most recent uncompleted invocation of
// the named tool. A completion with no matching start is logged and ignored.
func (s *Session) Complete(tool, status string, details map[string]any) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		s.runtime.logger.Warn("completion logged on ended session, ignoring",
			zap.String("session", s.ID), zap.String("tool", tool))
		return
	}
	for i := len(s.invocations) - 1; i >= 0; i-- {
		inv := s.invocations[i]
		if inv.Tool == tool && inv.Status == "" {
			inv.Status = status
			inv.Details = details
			return
		}
	}
	s.runtime.logger.Warn("completion without matching invocation, ignoring",
		zap.String("session", s.ID), zap.String("tool", tool))
}

// Invocations returns a snapshot of the session's log.
func (s *Session) Invocations() []Invocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Invocation, len(s.invocations))
	for i, inv := range s.invocations {
		out[i] = *inv
	}
	return out
}

// End closes the session and, when the runtime has a log dir, flushes one
// JSON document with the session, registered tools, and invocation log. The
// flush is best-effort.
func (s *Session) End() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		s.runtime.logger.Warn("session ended twice, ignoring", zap.String("session", s.ID))
		return
	}
	s.ended = true
	invocations := make([]Invocation, len(s.invocations))
	for i, inv := range s.invocations {
		invocations[i] = *inv
	}
	s.mu.Unlock()

	r := s.runtime
	if r.logDir == "" {
		return
	}

	r.mu.Lock()
	tools := append([]Tool(nil), r.tools...)
	r.mu.Unlock()

	doc := map[string]any{
		"session": map[string]any{
			"id":   s.ID,
			"meta": s.Meta,
		},
		"tools":       tools,
		"invocations": invocations,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		r.logger.Warn("failed to marshal session log", zap.Error(err))
		return
	}
	if err := os.MkdirAll(r.logDir, 0o755); err != nil {
		r.logger.Warn("failed to create session log dir", zap.Error(err))
		return
	}
	path := filepath.Join(r.logDir, fmt.Sprintf("%s.json", s.ID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		r.logger.Warn("failed to write session log", zap.String("path", path), zap.Error(err))
		return
	}
	r.logger.Info("tool session flushed",
		zap.String("session", s.ID),
		zap.Int("invocations", len(invocations)),
		zap.String("path", path))
}
