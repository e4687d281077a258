package apperr

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/aschepis/backscratcher/assist/correlation"
)

// Outcome is what a matching rule decides about a failure.
type Outcome struct {
	Code      Code
	Severity  Severity
	Retryable bool
}

// Rule pairs a predicate with the outcome it produces. Match receives the
// raw error (nil when the input was not an error) and its lower-cased text.
type Rule struct {
	Name    string
	Match   func(raw error, lowered string) bool
	Outcome Outcome
}

// RuleTable is evaluated in order; the first matching rule wins.
type RuleTable []Rule

// ContainsAny matches when the lowered text contains any of the needles.
// Needles must be lower case.
func ContainsAny(needles ...string) func(error, string) bool {
	return func(_ error, lowered string) bool {
		return lo.SomeBy(needles, func(n string) bool {
			return strings.Contains(lowered, n)
		})
	}
}

// DefaultRules is the text-based decision table used for provider errors.
func DefaultRules() RuleTable {
	return RuleTable{
		{
			Name:    "quota",
			Match:   ContainsAny("quota", "exhausted"),
			Outcome: Outcome{Code: CodeQuotaExceeded, Severity: SeverityWarn},
		},
		{
			Name:    "rate-limit",
			Match:   ContainsAny("429", "too many requests"),
			Outcome: Outcome{Code: CodeRateLimited, Severity: SeverityWarn, Retryable: true},
		},
		{
			Name:    "auth",
			Match:   ContainsAny("api_key", "401", "403"),
			Outcome: Outcome{Code: CodeAuthFailed, Severity: SeverityError},
		},
		{
			Name:    "service",
			Match:   ContainsAny("503", "overloaded", "internal"),
			Outcome: Outcome{Code: CodeServiceUnavailable, Severity: SeverityError, Retryable: true},
		},
		{
			Name:    "network",
			Match:   ContainsAny("network", "fetch"),
			Outcome: Outcome{Code: CodeServiceUnreachable, Severity: SeverityWarn, Retryable: true},
		},
	}
}

// statusCoder is implemented by errors that know the HTTP status they came from.
type statusCoder interface {
	HTTPStatusCode() int
}

// StatusRule matches errors anywhere in the chain that report one of the
// given HTTP status codes.
func StatusRule(name string, statuses []int, out Outcome) Rule {
	return Rule{
		Name: name,
		Match: func(raw error, _ string) bool {
			var sc statusCoder
			if raw == nil || !errors.As(raw, &sc) {
				return false
			}
			return lo.Contains(statuses, sc.HTTPStatusCode())
		},
		Outcome: out,
	}
}

// StatusRules classifies by HTTP status first and falls back to the text
// table. Quota exhaustion is reported by providers as a 429, so the quota
// text rule still runs before any status rule.
func StatusRules() RuleTable {
	text := DefaultRules()
	rules := RuleTable{text[0]}
	rules = append(rules,
		StatusRule("status-rate-limit", []int{429}, Outcome{Code: CodeRateLimited, Severity: SeverityWarn, Retryable: true}),
		StatusRule("status-auth", []int{401, 403}, Outcome{Code: CodeAuthFailed, Severity: SeverityError}),
		StatusRule("status-service", []int{500, 502, 503, 504}, Outcome{Code: CodeServiceUnavailable, Severity: SeverityError, Retryable: true}),
	)
	return append(rules, text[1:]...)
}

// Classifier turns raw failures into AppErrors.
type Classifier struct {
	rules RuleTable
	now   func() time.Time
}

// NewClassifier returns a classifier that evaluates rules in order.
func NewClassifier(rules RuleTable) *Classifier {
	return &Classifier{rules: rules, now: time.Now}
}

// Rules returns the table the classifier evaluates.
func (c *Classifier) Rules() RuleTable {
	return c.rules
}

// Default classifies with DefaultRules.
var Default = NewClassifier(DefaultRules())

// Classify classifies raw with the Default classifier.
func Classify(raw any, defaultCode Code, context map[string]any, correlationID string) *AppError {
	return Default.Classify(raw, defaultCode, context, correlationID)
}

// Classify maps raw (an error, a string, or anything printable) to an
// AppError. defaultCode is used when no rule matches; CodeAutomationBlocked
// as defaultCode always wins over the rules. A fresh correlation id is
// minted when correlationID is empty. Classify never fails.
func (c *Classifier) Classify(raw any, defaultCode Code, context map[string]any, correlationID string) *AppError {
	if defaultCode == "" {
		defaultCode = CodeUnknown
	}

	text, rawErr := describe(raw)
	lowered := strings.ToLower(text)

	var out Outcome
	if defaultCode == CodeAutomationBlocked {
		out = Outcome{Code: CodeAutomationBlocked, Severity: SeverityWarn}
	} else if rule, ok := lo.Find(c.rules, func(r Rule) bool { return r.Match != nil && r.Match(rawErr, lowered) }); ok {
		out = rule.Outcome
	} else {
		out = Outcome{Code: defaultCode, Severity: SeverityError}
	}

	return c.build(out, lowered, rawErr, context, correlationID)
}

// New builds an AppError for a code the caller already knows, without
// consulting the rules. It reports severity error and is not retryable,
// except CodeAutomationBlocked which is a warning.
func (c *Classifier) New(code Code, cause error, context map[string]any, correlationID string) *AppError {
	out := Outcome{Code: code, Severity: SeverityError}
	if code == CodeAutomationBlocked {
		out.Severity = SeverityWarn
	}
	text, rawErr := describe(cause)
	return c.build(out, strings.ToLower(text), rawErr, context, correlationID)
}

// New builds an AppError with the Default classifier.
func New(code Code, cause error, context map[string]any, correlationID string) *AppError {
	return Default.New(code, cause, context, correlationID)
}

func (c *Classifier) build(out Outcome, lowered string, rawErr error, context map[string]any, correlationID string) *AppError {
	details := make(map[string]any, len(context)+1)
	details["originalMessage"] = lowered
	maps.Copy(details, context)

	msg := messageFor(out.Code)
	appErr := &AppError{
		code:            out.Code,
		severity:        out.Severity,
		retryable:       out.Retryable,
		Message:         msg.message,
		SuggestedAction: msg.action,
		Details:         details,
		CorrelationID:   correlation.Ensure(correlationID),
		Timestamp:       c.now(),
		origin:          rawErr,
	}
	if rawErr != nil {
		appErr.Cause = rawErr.Error()
	}
	return appErr
}

func describe(raw any) (string, error) {
	switch v := raw.(type) {
	case nil:
		return "", nil
	case error:
		return v.Error(), v
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return fmt.Sprint(v), nil
	}
}
