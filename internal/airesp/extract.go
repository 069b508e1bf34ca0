package airesp

import (
	"encoding/json"
	"strings"
)

// ExtractJSON pulls the first balanced JSON object out of raw model output.
// Models routinely wrap the object in markdown fences or prose, and the text
// after the object may contain unrelated braces, so a first-{-to-last-}
// slice is not safe. The scan strips a leading ```json fence if present,
// then walks brace depth from the first '{' until it returns to zero.
//
// The second return value is false when no parsable object exists; this is
// a recoverable condition for callers, never an error.
func ExtractJSON(raw string) (string, bool) {
	text := raw
	if i := strings.Index(text, "```json"); i >= 0 {
		text = strings.TrimSpace(text[i+len("```json"):])
		if j := strings.Index(text, "```"); j >= 0 {
			text = strings.TrimSpace(text[:j])
		}
	}

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := text[start : i+1]
				if !json.Valid([]byte(candidate)) {
					return "", false
				}
				return candidate, true
			}
		}
	}

	// depth never returned to zero
	return "", false
}
