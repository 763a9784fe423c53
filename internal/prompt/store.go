// Package prompt loads and renders the pipeline's prompt templates.
package prompt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"alainkit/internal/logging"
)

// ErrTemplateNotFound means no search root contained the requested template.
// Callers treat this as fatal configuration drift; it is never retried.
var ErrTemplateNotFound = errors.New("prompt template not found")

// Store resolves template names against an ordered list of search roots and
// caches loaded text. Each Store owns its cache; there is no package-level
// state.
type Store struct {
	roots  []string
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]string
}

// NewStore builds a store. overrideRoot, when non-empty, is searched before
// the built-in roots.
func NewStore(overrideRoot string, logger *zap.Logger) *Store {
	var roots []string
	if overrideRoot != "" {
		roots = append(roots, overrideRoot)
	}
	roots = append(roots,
		filepath.Join("resources", "prompts", "alain-kit"),
		filepath.Join("..", "resources", "prompts", "alain-kit"),
	)
	return &Store{
		roots:  roots,
		logger: logging.Or(logger),
		cache:  make(map[string]string),
	}
}

// Roots returns the search roots in resolution order.
func (s *Store) Roots() []string {
	return append([]string(nil), s.roots...)
}

// Load returns the template text for name (a root-relative path like
// "outline-first/research.outline.v1.txt"). The first root containing the
// file wins; the result is cached.
func (s *Store) Load(name string) (string, error) {
	s.mu.RLock()
	if text, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return text, nil
	}
	s.mu.RUnlock()

	var tried []string
	for _, root := range s.roots {
		path := filepath.Join(root, name)
		tried = append(tried, path)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", fmt.Errorf("failed to read template %s: %w", path, err)
		}
		text := string(data)
		s.mu.Lock()
		s.cache[name] = text
		s.mu.Unlock()
		s.logger.Debug("loaded prompt template", zap.String("name", name), zap.String("path", path))
		return text, nil
	}

	return "", fmt.Errorf("%w: %s (tried %s)", ErrTemplateNotFound, name, strings.Join(tried, ", "))
}

// Invalidate drops cached entries so the next Load re-reads from disk. With
// no arguments the whole cache is cleared.
func (s *Store) Invalidate(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(names) == 0 {
		s.cache = make(map[string]string)
		return
	}
	for _, name := range names {
		delete(s.cache, name)
	}
}

// Render substitutes {{TOKEN}} placeholders with the given values. Every
// occurrence of a provided token is replaced; tokens without a value are left
// verbatim. Replacement is literal string splicing, so values can never be
// reinterpreted as patterns.
func Render(template string, values map[string]string) string {
	out := template
	for token, value := range values {
		out = strings.ReplaceAll(out, "{{"+token+"}}", value)
	}
	return out
}
