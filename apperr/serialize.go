package apperr

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/aschepis/backscratcher/assist/redact"
)

var secretDetailKeys = regexp.MustCompile(`(?i)key|token|auth`)

// Serialize renders e as JSON for logs or IPC. Detail keys that look like
// credentials are replaced at every depth.
func Serialize(e *AppError) (string, error) {
	if e == nil {
		return "null", nil
	}
	w := e.wire()
	if w.Details != nil {
		scrubbed, err := redact.Apply(w.Details, redact.Rules{Keys: secretDetailKeys})
		if err != nil {
			return "", fmt.Errorf("failed to redact details: %w", err)
		}
		w.Details, _ = scrubbed.(map[string]any)
	}
	out, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("failed to marshal error: %w", err)
	}
	return string(out), nil
}
