// Package redact scrubs secrets from arbitrary payloads before they are
// logged or serialized.
package redact

import (
	"encoding/json"
	"regexp"
)

// Placeholder replaces the value of every redacted key.
const Placeholder = "***REDACTED***"

// Rules describes what to scrub.
type Rules struct {
	// Keys matches object keys whose values are replaced by Placeholder.
	Keys *regexp.Regexp
	// Strings, when set, may rewrite any string value that was not redacted.
	Strings func(s string) string
}

// Normalize converts v into plain JSON values (map[string]any, []any,
// string, float64, bool, nil) by round-tripping it through encoding/json.
func Normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Apply normalizes v and walks it, applying r at every depth.
func Apply(v any, r Rules) (any, error) {
	if v == nil {
		return nil, nil
	}
	normalized, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	return r.walk(normalized), nil
}

func (r Rules) walk(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if r.Keys != nil && r.Keys.MatchString(k) {
				out[k] = Placeholder
				continue
			}
			out[k] = r.walk(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = r.walk(child)
		}
		return out
	case string:
		if r.Strings != nil {
			return r.Strings(val)
		}
		return val
	default:
		return val
	}
}
