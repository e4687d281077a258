package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/assist/apperr"
	"github.com/aschepis/backscratcher/assist/logger"
	"github.com/aschepis/backscratcher/assist/metrics"
)

type countingExecutor struct {
	calls int
	data  map[string]any
	err   error
}

func (e *countingExecutor) Execute(ctx context.Context, task Task) (map[string]any, error) {
	e.calls++
	return e.data, e.err
}

func order(dryRun bool) Task {
	return Task{
		Action:  ActionPlaceOrder,
		Payload: map[string]any{"symbol": "AAPL", "action": "BUY", "quantity": 1},
		DryRun:  dryRun,
	}
}

func TestDecodeTask(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"valid", `{"action":"get_data","payload":{"symbol":"AAPL"},"dryRun":false}`, false},
		{"unknown action", `{"action":"sell_everything","payload":{},"dryRun":false}`, true},
		{"missing dryRun", `{"action":"get_data","payload":{}}`, true},
		{"payload not object", `{"action":"get_data","payload":[1],"dryRun":true}`, true},
		{"not json", `{`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := DecodeTask([]byte(tt.raw), "cid")
			if tt.wantErr {
				if res.IsOK() || res.Err().Code() != apperr.CodeValidationFailed {
					t.Errorf("Expected validation-failed, got %+v", res)
				}
				return
			}
			task, ok := res.Value()
			if !ok {
				t.Fatalf("Unexpected failure %v", res.Err())
			}
			if task.Action != ActionGetData || task.Payload["symbol"] != "AAPL" {
				t.Errorf("Unexpected task %+v", task)
			}
		})
	}
}

func TestPolicyRunner_BlocksRealOrdersInDemoMode(t *testing.T) {
	exec := &countingExecutor{}
	ring := logger.NewRingSink(0)
	r := NewPolicyRunner(true, exec, WithLogger(logger.New(logger.SourceRunner, ring)))

	before := testutil.ToFloat64(metrics.AutomationTasksTotal.WithLabelValues("place_order", "automation-blocked"))
	res := r.Run(context.Background(), order(false), "cid-1")
	if res.IsOK() {
		t.Fatal("Expected the order to be blocked")
	}
	appErr := res.Err()
	if appErr.Code() != apperr.CodeAutomationBlocked || appErr.Severity() != apperr.SeverityWarn || appErr.Retryable() {
		t.Errorf("Expected non-retryable automation-blocked warning, got %s/%s/%v", appErr.Code(), appErr.Severity(), appErr.Retryable())
	}
	if appErr.Cause != blockedMessage {
		t.Errorf("Expected cause %q, got %q", blockedMessage, appErr.Cause)
	}
	if exec.calls != 0 {
		t.Errorf("Expected executor not to run, got %d calls", exec.calls)
	}
	if got := testutil.ToFloat64(metrics.AutomationTasksTotal.WithLabelValues("place_order", "automation-blocked")); got != before+1 {
		t.Errorf("Expected blocked counter to increase by 1, got %v -> %v", before, got)
	}

	var warned bool
	for _, e := range ring.Entries() {
		if e.Level == logger.LevelWarn && e.CorrelationID == "cid-1" {
			warned = true
		}
	}
	if !warned {
		t.Error("Expected a warn entry for the blocked order")
	}
}

func TestPolicyRunner_DryRun(t *testing.T) {
	exec := &countingExecutor{}
	r := NewPolicyRunner(true, exec)

	res := r.Run(context.Background(), order(true), "")
	out, ok := res.Value()
	if !ok {
		t.Fatalf("Expected dry run to succeed, got %v", res.Err())
	}
	if out.Message != dryRunMessage {
		t.Errorf("Expected %q, got %q", dryRunMessage, out.Message)
	}
	if exec.calls != 0 {
		t.Errorf("Expected executor not to run, got %d calls", exec.calls)
	}
}

func TestPolicyRunner_Executes(t *testing.T) {
	exec := &countingExecutor{data: map[string]any{"price": 189.5}}

	res := NewPolicyRunner(false, exec).Run(context.Background(), order(false), "")
	out, ok := res.Value()
	if !ok {
		t.Fatalf("Expected success outside demo mode, got %v", res.Err())
	}
	if out.Data["price"] != 189.5 || exec.calls != 1 {
		t.Errorf("Unexpected outcome %+v after %d calls", out, exec.calls)
	}

	getData := Task{Action: ActionGetData, Payload: map[string]any{}}
	if res := NewPolicyRunner(true, exec).Run(context.Background(), getData, ""); !res.IsOK() {
		t.Errorf("Expected get_data to run in demo mode, got %v", res.Err())
	}
}

func TestPolicyRunner_ExecutorFailure(t *testing.T) {
	exec := &countingExecutor{err: errors.New("browser crashed")}

	res := NewPolicyRunner(false, exec).Run(context.Background(), order(false), "")
	if res.IsOK() || res.Err().Code() != apperr.CodeAutomationTimeout {
		t.Fatalf("Expected automation-timeout, got %+v", res)
	}
}

func TestPolicyRunner_ExecutorFailureClassified(t *testing.T) {
	tests := []struct {
		err       string
		code      apperr.Code
		retryable bool
	}{
		{"browser crashed", apperr.CodeAutomationTimeout, false},
		{"429 Too Many Requests", apperr.CodeRateLimited, true},
		{"quota exhausted", apperr.CodeQuotaExceeded, false},
		{"fetch failed: network down", apperr.CodeServiceUnreachable, true},
	}
	for _, tt := range tests {
		t.Run(tt.err, func(t *testing.T) {
			exec := &countingExecutor{err: errors.New(tt.err)}
			res := NewPolicyRunner(false, exec).Run(context.Background(), order(false), "cid")
			if res.IsOK() {
				t.Fatal("Expected failure")
			}
			if got := res.Err(); got.Code() != tt.code || got.Retryable() != tt.retryable {
				t.Errorf("Expected %s (retryable=%v), got %s (retryable=%v)", tt.code, tt.retryable, got.Code(), got.Retryable())
			}
		})
	}
}

func TestPolicyRunner_Timeout(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	reg.Register(ActionGetData, func(ctx context.Context, task Task) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	r := NewPolicyRunner(false, reg, WithTimeout(10*time.Millisecond))
	res := r.Run(context.Background(), Task{Action: ActionGetData, Payload: map[string]any{}}, "")
	if res.IsOK() || res.Err().Code() != apperr.CodeAutomationTimeout {
		t.Fatalf("Expected automation-timeout, got %+v", res)
	}
}

func TestPolicyRunner_InvalidTask(t *testing.T) {
	exec := &countingExecutor{}
	res := NewPolicyRunner(false, exec).Run(context.Background(), Task{Action: "launch", Payload: map[string]any{}}, "")
	if res.IsOK() || res.Err().Code() != apperr.CodeValidationFailed {
		t.Fatalf("Expected validation-failed, got %+v", res)
	}
	if exec.calls != 0 {
		t.Errorf("Expected executor not to run, got %d calls", exec.calls)
	}
}

func TestRegistry_UnknownAction(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	if _, err := reg.Execute(context.Background(), Task{Action: ActionPlaceOrder}); err == nil {
		t.Error("Expected error for unregistered action")
	}
}

func TestMapTransportError(t *testing.T) {
	tests := []struct {
		err  error
		want apperr.Code
	}{
		{errors.New("request timed out"), apperr.CodeAutomationTimeout},
		{errors.New("Timeout waiting for reply"), apperr.CodeAutomationTimeout},
		{context.DeadlineExceeded, apperr.CodeAutomationTimeout},
		{errors.New("IPC handler missing"), apperr.CodeValidationFailed},
		{errors.New("channel closed"), apperr.CodeValidationFailed},
		{errors.New("connection refused"), apperr.CodeServiceUnavailable},
		{errors.New("429 Too Many Requests"), apperr.CodeRateLimited},
		{errors.New("fetch failed: network down"), apperr.CodeServiceUnreachable},
		{errors.New("quota exhausted on channel"), apperr.CodeQuotaExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := MapTransportError(tt.err, "cid").Code(); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}

	appErr := MapTransportError(errors.New("fetch failed: network down"), "cid")
	if !appErr.Retryable() || appErr.Severity() != apperr.SeverityWarn {
		t.Errorf("Expected retryable warning for network failure, got retryable=%v severity=%s", appErr.Retryable(), appErr.Severity())
	}
}

func TestMapFailureResponse(t *testing.T) {
	if got := MapFailureResponse(&Response{Error: "Navigation timeout of 30000 ms"}, "").Code(); got != apperr.CodeAutomationTimeout {
		t.Errorf("Expected automation-timeout, got %s", got)
	}
	if got := MapFailureResponse(&Response{}, "").Code(); got != apperr.CodeAutomationBlocked {
		t.Errorf("Expected automation-blocked, got %s", got)
	}
	if got := MapFailureResponse(&Response{Error: "bad", Code: apperr.CodeValidationFailed}, "").Code(); got != apperr.CodeValidationFailed {
		t.Errorf("Expected the runner's code to be kept, got %s", got)
	}

	tests := []struct {
		resp Response
		want apperr.Code
	}{
		{Response{Error: "quota exhausted"}, apperr.CodeQuotaExceeded},
		{Response{Error: "429 Too Many Requests"}, apperr.CodeRateLimited},
		{Response{Error: "401 invalid api_key", Code: apperr.CodeAutomationTimeout}, apperr.CodeAuthFailed},
	}
	for _, tt := range tests {
		t.Run(tt.resp.Error, func(t *testing.T) {
			if got := MapFailureResponse(&tt.resp, "cid").Code(); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

type stubDispatcher struct {
	resp *Response
	err  error
}

func (s stubDispatcher) Dispatch(context.Context, Task) (*Response, error) {
	return s.resp, s.err
}

func TestService_RunTask(t *testing.T) {
	ctx := context.Background()
	task := Task{Action: ActionGetData, Payload: map[string]any{}}

	if res := NewService(nil, nil).RunTask(ctx, task, ""); res.IsOK() || res.Err().Code() != apperr.CodeUnknown {
		t.Errorf("Expected unknown without a dispatcher, got %+v", res)
	}
	if res := NewService(stubDispatcher{}, nil).RunTask(ctx, task, ""); res.IsOK() || res.Err().Code() != apperr.CodeValidationFailed {
		t.Errorf("Expected validation-failed for empty response, got %+v", res)
	}
	if res := NewService(stubDispatcher{err: errors.New("ipc channel broken")}, nil).RunTask(ctx, task, ""); res.IsOK() || res.Err().Code() != apperr.CodeValidationFailed {
		t.Errorf("Expected validation-failed for channel error, got %+v", res)
	}
	res := NewService(stubDispatcher{resp: &Response{Success: true, Message: "done"}}, nil).RunTask(ctx, task, "")
	if out, ok := res.Value(); !ok || out.Message != "done" {
		t.Errorf("Expected success, got %+v", res)
	}
}

func TestService_LocalDispatcher(t *testing.T) {
	svc := NewService(LocalDispatcher{Runner: NewPolicyRunner(true, &countingExecutor{})}, nil)

	res := svc.RunTask(context.Background(), order(false), "cid-9")
	if res.IsOK() {
		t.Fatal("Expected blocked order")
	}
	if res.Err().Code() != apperr.CodeAutomationBlocked || res.Err().CorrelationID != "cid-9" {
		t.Errorf("Expected automation-blocked with cid-9, got %s %s", res.Err().Code(), res.Err().CorrelationID)
	}

	if res := svc.RunTask(context.Background(), order(true), ""); !res.IsOK() {
		t.Errorf("Expected dry run to pass through, got %v", res.Err())
	}

	limited := NewService(LocalDispatcher{Runner: NewPolicyRunner(false, &countingExecutor{err: errors.New("429 Too Many Requests")})}, nil)
	res = limited.RunTask(context.Background(), order(false), "")
	if res.IsOK() || res.Err().Code() != apperr.CodeRateLimited || !res.Err().Retryable() {
		t.Errorf("Expected retryable rate-limited through the service, got %+v", res)
	}
}
