package toolruntime

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_LogAndComplete(t *testing.T) {
	r := NewRuntime("", nil)
	s := r.StartSession(map[string]any{"model": "m"})

	s.Log("generate_outline", map[string]any{"difficulty": "beginner"})
	s.Log("generate_section", map[string]any{"section": 1})
	s.Complete("generate_outline", "ok", map[string]any{"steps": 6})

	invs := s.Invocations()
	require.Len(t, invs, 2)
	assert.Equal(t, "ok", invs[0].Status)
	assert.Empty(t, invs[1].Status, "uncompleted invocation stays open")
}

func TestSession_CompleteMatchesMostRecentOpen(t *testing.T) {
	r := NewRuntime("", nil)
	s := r.StartSession(nil)

	s.Log("generate_section", map[string]any{"section": 1})
	s.Log("generate_section", map[string]any{"section": 2})
	s.Complete("generate_section", "ok", map[string]any{"section": 2})

	invs := s.Invocations()
	require.Len(t, invs, 2)
	assert.Empty(t, invs[0].Status)
	assert.Equal(t, "ok", invs[1].Status)
}

func TestSession_CompleteWithoutLogIsIgnored(t *testing.T) {
	r := NewRuntime("", nil)
	s := r.StartSession(nil)

	s.Complete("never_logged", "ok", nil)
	assert.Empty(t, s.Invocations())
}

func TestSession_EndedSessionIgnoresWrites(t *testing.T) {
	r := NewRuntime("", nil)
	s := r.StartSession(nil)

	s.Log("tool", nil)
	s.End()

	s.Log("tool", nil)
	s.Complete("tool", "ok", nil)
	assert.Len(t, s.Invocations(), 1)
	assert.Empty(t, s.Invocations()[0].Status)

	// Double end is harmless.
	s.End()
}

func TestSession_NilSessionIsSafe(t *testing.T) {
	var s *Session
	s.Log("tool", nil)
	s.Complete("tool", "ok", nil)
	s.End()
}

func TestSession_EndFlushesJSON(t *testing.T) {
	dir := t.TempDir()
	r := NewRuntime(dir, nil)
	r.RegisterTool("notebook", "generate_outline", "Generates the outline.")

	s := r.StartSession(map[string]any{"model": "m"})
	s.Log("generate_outline", nil)
	s.Complete("generate_outline", "ok", nil)
	s.End()

	path := filepath.Join(dir, s.ID+".json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc struct {
		Session struct {
			ID   string         `json:"id"`
			Meta map[string]any `json:"meta"`
		} `json:"session"`
		Tools       []Tool       `json:"tools"`
		Invocations []Invocation `json:"invocations"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, s.ID, doc.Session.ID)
	assert.Equal(t, "m", doc.Session.Meta["model"])
	require.Len(t, doc.Tools, 1)
	assert.Equal(t, "notebook", doc.Tools[0].Namespace)
	require.Len(t, doc.Invocations, 1)
	assert.Equal(t, "ok", doc.Invocations[0].Status)
}

func TestSession_NoLogDirSkipsFlush(t *testing.T) {
	r := NewRuntime("", nil)
	s := r.StartSession(nil)
	s.Log("tool", nil)
	s.End()
}
