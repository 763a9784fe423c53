package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Models wrap JSON in markdown fences or pad it with narration more often than
// not. Sanitize peels all of that away and returns the first balanced JSON
// object in the text.
func Sanitize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = stripFences(s)

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object found in response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1], nil
				}
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in response")
}

// stripFences removes markdown code fences, keeping the fenced body. The
// language tag on the opening fence is dropped with it.
func stripFences(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// DecodeObject parses raw into v: first a strict pass over the trimmed text
// (unknown fields rejected), then a tolerant pass over the sanitized extract.
// The strict pass catches drifting schemas early on well-behaved responses;
// the tolerant pass rescues fenced or narrated ones.
func DecodeObject(raw string, v any) error {
	trimmed := strings.TrimSpace(raw)

	dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err == nil && !dec.More() {
		return nil
	}

	extracted, err := Sanitize(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(extracted), v); err != nil {
		return fmt.Errorf("failed to parse response JSON: %w", err)
	}
	return nil
}
