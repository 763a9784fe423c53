package prompt

import "strings"

// Harmony message markers. Templates are stored in the harmony chat format:
// <|start|>role<|message|>body<|end|>, one block per message.
const (
	harmonyStart   = "<|start|>"
	harmonyMessage = "<|message|>"
	harmonyEnd     = "<|end|>"
)

// Messages holds the role blocks extracted from a harmony template. Developer
// content carries the task instructions; system content sets model identity.
type Messages struct {
	System    string
	Developer string
}

// ParseHarmony extracts system and developer blocks from a harmony-framed
// template. Text outside any block is appended to the developer content, so
// plain non-harmony templates pass through unchanged.
func ParseHarmony(raw string) Messages {
	var msgs Messages
	var loose strings.Builder

	rest := raw
	for {
		start := strings.Index(rest, harmonyStart)
		if start < 0 {
			loose.WriteString(rest)
			break
		}
		loose.WriteString(rest[:start])
		rest = rest[start+len(harmonyStart):]

		msgIdx := strings.Index(rest, harmonyMessage)
		endIdx := strings.Index(rest, harmonyEnd)
		if msgIdx < 0 || endIdx < 0 || endIdx < msgIdx {
			// Malformed block: keep the raw text rather than dropping it.
			loose.WriteString(harmonyStart + rest)
			break
		}
		role := strings.TrimSpace(rest[:msgIdx])
		body := strings.TrimSpace(rest[msgIdx+len(harmonyMessage) : endIdx])
		rest = rest[endIdx+len(harmonyEnd):]

		switch role {
		case "system":
			msgs.System = joinBlock(msgs.System, body)
		case "developer", "user":
			msgs.Developer = joinBlock(msgs.Developer, body)
		}
	}

	if extra := strings.TrimSpace(loose.String()); extra != "" {
		msgs.Developer = joinBlock(msgs.Developer, extra)
	}
	return msgs
}

func joinBlock(existing, body string) string {
	if existing == "" {
		return body
	}
	return existing + "\n\n" + body
}

// LoadHarmony loads a template and splits it into harmony messages.
func (s *Store) LoadHarmony(name string) (Messages, error) {
	raw, err := s.Load(name)
	if err != nil {
		return Messages{}, err
	}
	return ParseHarmony(raw), nil
}
