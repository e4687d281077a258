package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aschepis/backscratcher/assist/apperr"
	"github.com/aschepis/backscratcher/assist/correlation"
	"github.com/aschepis/backscratcher/assist/logger"
	"github.com/aschepis/backscratcher/assist/metrics"
	"github.com/aschepis/backscratcher/assist/result"
)

const (
	blockedMessage = "Real orders blocked in DEMO MODE"
	dryRunMessage  = "Dry run simulated success"
	doneMessage    = "Task executed"
)

// DefaultTimeout bounds a single executor call.
const DefaultTimeout = 2 * time.Minute

// Outcome is what a successful task reports back.
type Outcome struct {
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// PolicyRunner enforces the demo-mode and dry-run policy before handing a
// task to its Executor.
type PolicyRunner struct {
	demoMode bool
	executor Executor
	timeout  time.Duration
	log      *logger.Logger
}

// RunnerOption configures a PolicyRunner.
type RunnerOption func(*PolicyRunner)

// WithTimeout bounds each executor call. Zero disables the bound.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *PolicyRunner) { r.timeout = d }
}

// WithLogger sets the structured log sink.
func WithLogger(l *logger.Logger) RunnerOption {
	return func(r *PolicyRunner) { r.log = l }
}

// NewPolicyRunner returns a runner. In demo mode real orders are refused.
func NewPolicyRunner(demoMode bool, executor Executor, opts ...RunnerOption) *PolicyRunner {
	r := &PolicyRunner{
		demoMode: demoMode,
		executor: executor,
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run validates task, applies the policy and executes it. Failures are
// returned as classified Fails, never as Go errors.
func (r *PolicyRunner) Run(ctx context.Context, task Task, correlationID string) result.Result[Outcome] {
	cid := correlation.Ensure(correlationID)
	ctx = correlation.WithID(ctx, cid)
	taskData := map[string]any{"task": task}

	r.log.Info(fmt.Sprintf("Starting task: %s", task.Action), cid, map[string]any{"dryRun": task.DryRun})

	if err := task.Validate(); err != nil {
		return r.fail(task, apperr.New(apperr.CodeValidationFailed, err, taskData, cid))
	}

	if task.Action == ActionPlaceOrder && r.demoMode && !task.DryRun {
		return r.fail(task, apperr.Classify(errors.New(blockedMessage), apperr.CodeAutomationBlocked, taskData, cid))
	}

	if task.DryRun {
		r.log.Info("Dry run, task not executed", cid, map[string]any{"payload": task.Payload})
		return r.ok(task, Outcome{Message: dryRunMessage})
	}

	if r.executor == nil {
		return r.fail(task, apperr.Classify(errors.New("no executor configured"), apperr.CodeAutomationBlocked, taskData, cid))
	}

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	data, err := r.executor.Execute(runCtx, task)
	if err != nil {
		// automation-timeout only when the error text matches no rule
		return r.fail(task, apperr.Classify(err, apperr.CodeAutomationTimeout, taskData, cid))
	}
	return r.ok(task, Outcome{Message: doneMessage, Data: data})
}

func (r *PolicyRunner) ok(task Task, out Outcome) result.Result[Outcome] {
	metrics.AutomationTasksTotal.WithLabelValues(string(task.Action), "ok").Inc()
	return result.Ok(out)
}

func (r *PolicyRunner) fail(task Task, appErr *apperr.AppError) result.Result[Outcome] {
	metrics.AutomationTasksTotal.WithLabelValues(string(task.Action), string(appErr.Code())).Inc()
	r.log.LogError("Automation task failed", appErr)
	return result.Fail[Outcome](appErr)
}
