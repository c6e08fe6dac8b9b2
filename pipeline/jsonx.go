package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
)

// decodeJSON parses an LLM response body into out, tolerating markdown
// code fences and leading/trailing prose around the JSON object.
func decodeJSON(text string, out any) error {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}

	if err := json.Unmarshal([]byte(text), out); err == nil {
		return nil
	}

	// Fall back to the outermost object braces
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in response (%d chars)", len(text))
	}
	return json.Unmarshal([]byte(text[start:end+1]), out)
}
