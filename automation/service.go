package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aschepis/backscratcher/assist/apperr"
	"github.com/aschepis/backscratcher/assist/correlation"
	"github.com/aschepis/backscratcher/assist/logger"
	"github.com/aschepis/backscratcher/assist/result"
)

// Response is the raw reply of an automation process.
type Response struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
	Data    map[string]any `json:"data,omitempty"`

	// Code is set by runners that already classified the failure.
	Code apperr.Code `json:"code,omitempty"`
}

// Dispatcher carries a task to the automation process and returns its raw
// reply.
type Dispatcher interface {
	Dispatch(ctx context.Context, task Task) (*Response, error)
}

// Service is the caller side of the automation channel. It turns raw
// replies and channel failures into Results.
type Service struct {
	dispatcher Dispatcher
	log        *logger.Logger
}

// NewService returns a Service using dispatcher.
func NewService(dispatcher Dispatcher, log *logger.Logger) *Service {
	return &Service{dispatcher: dispatcher, log: log}
}

// RunTask dispatches task and classifies the reply.
func (s *Service) RunTask(ctx context.Context, task Task, correlationID string) result.Result[Outcome] {
	cid := correlation.Ensure(correlationID)

	if s.dispatcher == nil {
		return result.Fail[Outcome](apperr.Classify(errors.New("automation channel not available"), apperr.CodeUnknown, nil, cid))
	}

	s.log.Info(fmt.Sprintf("Calling automation service: %s", task.Action), cid, map[string]any{"dryRun": task.DryRun})

	resp, err := s.dispatcher.Dispatch(correlation.WithID(ctx, cid), task)
	if err != nil {
		s.log.Error("Automation service channel error", cid, map[string]any{"error": err.Error()})
		return result.Fail[Outcome](MapTransportError(err, cid))
	}
	if resp == nil {
		return result.Fail[Outcome](apperr.Classify(errors.New("empty response from automation service"), apperr.CodeValidationFailed, nil, cid))
	}
	if !resp.Success {
		return result.Fail[Outcome](MapFailureResponse(resp, cid))
	}
	return result.Ok(Outcome{Message: resp.Message, Data: resp.Data})
}

// MapTransportError classifies a failure of the channel itself. The rule
// table decides first; when no rule matches, timeouts are automation-timeout,
// ipc/channel failures are validation-failed and everything else is
// service-unavailable.
func MapTransportError(err error, correlationID string) *apperr.AppError {
	msg := strings.ToLower(err.Error())
	code := apperr.CodeServiceUnavailable
	switch {
	case errors.Is(err, context.DeadlineExceeded), strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		code = apperr.CodeAutomationTimeout
	case strings.Contains(msg, "ipc"), strings.Contains(msg, "channel"):
		code = apperr.CodeValidationFailed
	}
	return apperr.Classify(err, code, nil, correlationID)
}

// MapFailureResponse classifies an explicit failure reply with the rule
// table. The fallback code is the one set by the runner, if any; otherwise
// timeouts are automation-timeout and any other logic failure is
// automation-blocked.
func MapFailureResponse(resp *Response, correlationID string) *apperr.AppError {
	msg := resp.Error
	if msg == "" {
		msg = "automation failed with unknown error"
	}
	code := resp.Code
	if code == "" {
		code = apperr.CodeAutomationBlocked
		if strings.Contains(strings.ToLower(msg), "timeout") {
			code = apperr.CodeAutomationTimeout
		}
	}
	return apperr.Classify(errors.New(msg), code, map[string]any{"raw": resp}, correlationID)
}

// LocalDispatcher runs tasks in-process through a PolicyRunner.
type LocalDispatcher struct {
	Runner *PolicyRunner
}

// Dispatch implements Dispatcher.
func (d LocalDispatcher) Dispatch(ctx context.Context, task Task) (*Response, error) {
	res := d.Runner.Run(ctx, task, correlation.FromContext(ctx))
	if out, ok := res.Value(); ok {
		return &Response{Success: true, Message: out.Message, Data: out.Data}, nil
	}
	appErr := res.Err()
	return &Response{Success: false, Error: appErr.Cause, Code: appErr.Code()}, nil
}
