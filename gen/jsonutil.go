package gen

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CleanJSON strips markdown fences when a model wraps its response in
// ```json ... ```.
func CleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// DecodeJSON parses a model completion into out after cleaning fences. A
// completion that does not match the expected schema is a fatal error for
// the invoking step.
func DecodeJSON(completion string, out interface{}) error {
	cleaned := CleanJSON(completion)
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("parse model output: %w, raw content: %s", err, truncate(cleaned, 200))
	}
	return nil
}
