// Package validate checks raw provider fragments against the response and
// stream-chunk schemas and converts them into typed values.
package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/aschepis/backscratcher/assist/apperr"
	"github.com/aschepis/backscratcher/assist/result"
)

const (
	responseFailedMessage = "API response validation failed (Structure Mismatch)"
	chunkFailedMessage    = "Stream chunk validation failed"
)

// Usage is the token accounting attached to a response or the last chunk of
// a stream. Absent counters are nil.
type Usage struct {
	PromptTokens *int64 `json:"promptTokens,omitempty"`
	OutputTokens *int64 `json:"outputTokens,omitempty"`
	TotalTokens  *int64 `json:"totalTokens,omitempty"`
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
	ID   string         `json:"id,omitempty"`
}

// Chunk is one validated stream fragment.
type Chunk struct {
	Text  *string `json:"text,omitempty"`
	Usage *Usage  `json:"usage,omitempty"`
}

// Response is a validated single-shot response.
type Response struct {
	Text          *string        `json:"text,omitempty"`
	Usage         *Usage         `json:"usage,omitempty"`
	FunctionCalls []FunctionCall `json:"functionCalls,omitempty"`
}

// Violation describes one place where a fragment deviates from its schema.
type Violation struct {
	Path    string `json:"path"`
	Reason  string `json:"reason"`
	Keyword string `json:"keyword,omitempty"`
}

// Validator validates fragments and classifies failures with its classifier.
type Validator struct {
	classifier *apperr.Classifier
}

// New returns a Validator. A nil classifier means apperr.Default.
func New(classifier *apperr.Classifier) *Validator {
	if classifier == nil {
		classifier = apperr.Default
	}
	return &Validator{classifier: classifier}
}

// Response validates a single-shot response fragment.
func (v *Validator) Response(raw any, correlationID string) result.Result[Response] {
	var out Response
	if violations := check(responseSchema, raw, &out); len(violations) > 0 {
		return result.Fail[Response](v.fail(responseFailedMessage, violations, correlationID))
	}
	return result.Ok(out)
}

// Chunk validates a stream fragment.
func (v *Validator) Chunk(raw any, correlationID string) result.Result[Chunk] {
	var out Chunk
	if violations := check(chunkSchema, raw, &out); len(violations) > 0 {
		return result.Fail[Chunk](v.fail(chunkFailedMessage, violations, correlationID))
	}
	return result.Ok(out)
}

func (v *Validator) fail(msg string, violations []Violation, correlationID string) *apperr.AppError {
	return v.classifier.Classify(msg, apperr.CodeValidationFailed, map[string]any{
		"violations": violations,
	}, correlationID)
}

// check validates raw against schema and decodes it into out. It returns the
// violations found; an empty result means out is populated.
func check(schema *jsonschema.Schema, raw any, out any) []Violation {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return []Violation{{Path: "", Reason: "not encodable as JSON: " + err.Error()}}
	}

	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return []Violation{{Path: "", Reason: "not decodable as JSON: " + err.Error()}}
	}

	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return leaves(ve)
		}
		return []Violation{{Path: "", Reason: err.Error()}}
	}

	normalized, err := json.Marshal(integralNumbers(doc))
	if err != nil {
		return []Violation{{Path: "", Reason: "not encodable as JSON: " + err.Error()}}
	}
	if err := json.Unmarshal(normalized, out); err != nil {
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) && te.Field != "" {
			return []Violation{{Path: "/" + strings.ReplaceAll(te.Field, ".", "/"), Reason: err.Error()}}
		}
		return []Violation{{Path: "", Reason: err.Error()}}
	}
	return nil
}

// integralNumbers rewrites whole numbers written with a fraction or exponent
// (5.0, 5e2) as plain integers, so that values the schema accepts as integer
// also decode into int64 fields. doc is modified in place.
func integralNumbers(doc any) any {
	switch v := doc.(type) {
	case map[string]any:
		for k, e := range v {
			v[k] = integralNumbers(e)
		}
	case []any:
		for i, e := range v {
			v[i] = integralNumbers(e)
		}
	case json.Number:
		if _, err := v.Int64(); err == nil {
			return v
		}
		f, err := v.Float64()
		if err == nil && f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
			return json.Number(strconv.FormatInt(int64(f), 10))
		}
	}
	return doc
}

// leaves flattens a validation error tree into its most specific causes.
func leaves(ve *jsonschema.ValidationError) []Violation {
	if len(ve.Causes) == 0 {
		return []Violation{{
			Path:    ve.InstanceLocation,
			Reason:  ve.Message,
			Keyword: ve.KeywordLocation,
		}}
	}
	var out []Violation
	for _, c := range ve.Causes {
		out = append(out, leaves(c)...)
	}
	return out
}

// Package-level helpers use the default classifier.
var defaultValidator = New(nil)

// ValidateResponse validates raw with the default classifier.
func ValidateResponse(raw any, correlationID string) result.Result[Response] {
	return defaultValidator.Response(raw, correlationID)
}

// ValidateChunk validates raw with the default classifier.
func ValidateChunk(raw any, correlationID string) result.Result[Chunk] {
	return defaultValidator.Chunk(raw, correlationID)
}
