// Package automation is the contract between the assistant and the browser
// automation runner. It decides whether a task may run at all; the browser
// control itself lives behind the Handler functions registered by callers.
package automation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/aschepis/backscratcher/assist/apperr"
	"github.com/aschepis/backscratcher/assist/result"
)

// Action is what a task asks the runner to do.
type Action string

const (
	ActionPlaceOrder Action = "place_order"
	ActionGetData    Action = "get_data"
)

// Task is one automation request.
type Task struct {
	Action  Action         `json:"action"`
	Payload map[string]any `json:"payload"`
	DryRun  bool           `json:"dryRun"`
}

const taskSchemaSrc = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["action", "payload", "dryRun"],
	"properties": {
		"action":  {"enum": ["place_order", "get_data"]},
		"payload": {"type": "object"},
		"dryRun":  {"type": "boolean"}
	}
}`

var taskSchema = jsonschema.MustCompileString("task.json", taskSchemaSrc)

// invalidPayloadMessage is the cause reported for tasks that fail the schema.
const invalidPayloadMessage = "Invalid Automation Payload"

// Validate checks t against the task schema.
func (t Task) Validate() error {
	if t.Payload == nil {
		return errors.New("payload is required")
	}
	encoded, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	return validateRaw(encoded)
}

// DecodeTask parses and validates a task received from outside the process.
func DecodeTask(raw []byte, correlationID string) result.Result[Task] {
	if err := validateRaw(raw); err != nil {
		return result.Fail[Task](invalidTask(err, correlationID))
	}
	var task Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return result.Fail[Task](invalidTask(err, correlationID))
	}
	return result.Ok(task)
}

func validateRaw(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("task is not valid JSON: %w", err)
	}
	if err := taskSchema.Validate(doc); err != nil {
		return fmt.Errorf("%s: %w", invalidPayloadMessage, err)
	}
	return nil
}

func invalidTask(err error, correlationID string) *apperr.AppError {
	return apperr.New(apperr.CodeValidationFailed, err, nil, correlationID)
}
