package phases

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSON pulls the first balanced JSON object out of model output.
// Models wrap JSON in prose and markdown fences more often than not, so the
// scanner skips ahead to the first '{' and walks brace depth, ignoring
// braces inside string literals.
func extractJSON(text string) (string, error) {
	text = stripFences(text)

	start := strings.IndexByte(text, '{')
	if start == -1 {
		return "", fmt.Errorf("no JSON object in response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in response")
}

// stripFences removes markdown code fences so the brace scanner does not
// trip over ```json markers.
func stripFences(text string) string {
	if !strings.Contains(text, "```") {
		return text
	}
	var sb strings.Builder
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			continue
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// parseJSON extracts the first JSON object from text and unmarshals it
// into v.
func parseJSON(text string, v any) error {
	raw, err := extractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("malformed JSON in response: %w", err)
	}
	return nil
}
