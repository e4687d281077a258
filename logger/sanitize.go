package logger

import (
	"regexp"
	"strings"

	"github.com/aschepis/backscratcher/assist/redact"
)

const (
	maxImageLength     = 200
	keptImagePrefix    = 50
	truncatedImageMark = "...[TRUNCATED_IMAGE]"
	sanitizeFailed     = "[Sanitization Failed]"
)

var secretLogKeys = regexp.MustCompile(`(?i)key|token|auth|password|secret`)

var logRules = redact.Rules{
	Keys: secretLogKeys,
	Strings: func(s string) string {
		if strings.HasPrefix(s, "data:image") && len(s) > maxImageLength {
			return s[:keptImagePrefix] + truncatedImageMark
		}
		return s
	},
}

// Sanitize returns a JSON-shaped copy of data with secrets redacted and
// inline images truncated. Values that cannot be encoded are replaced by a
// marker string.
func Sanitize(data any) any {
	out, err := redact.Apply(data, logRules)
	if err != nil {
		return sanitizeFailed
	}
	return out
}
