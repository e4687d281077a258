// Package retry re-invokes failing transport calls according to a
// deterministic exponential policy, retrying only what the classifier marks
// as retryable.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aschepis/backscratcher/assist/apperr"
	"github.com/aschepis/backscratcher/assist/llm"
	"github.com/aschepis/backscratcher/assist/logger"
	"github.com/aschepis/backscratcher/assist/metrics"
)

const (
	// DefaultMaxAttempts is the number of retries after the first call
	DefaultMaxAttempts = 3
	// DefaultBaseDelay is the wait before the first retry
	DefaultBaseDelay = 1 * time.Second
)

// Policy controls how often and how long to wait between retries.
// MaxAttempts counts retries, so an operation runs at most MaxAttempts+1 times.
type Policy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// DefaultPolicy returns 3 retries starting at one second.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

// Delay returns the wait before retry n (1-indexed): BaseDelay * 2^(n-1).
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		return 0
	}
	return p.BaseDelay * time.Duration(1<<(n-1))
}

func (p Policy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Duration(math.MaxInt64)
	b.MaxElapsedTime = 0
	b.Reset()

	attempts := p.MaxAttempts
	if attempts < 0 {
		attempts = 0
	}
	return backoff.WithMaxRetries(b, uint64(attempts))
}

// Executor runs operations under a Policy. It holds no per-call state and
// may be shared by concurrent calls.
type Executor struct {
	policy     Policy
	classifier *apperr.Classifier
	log        *logger.Logger
	newTimer   func() backoff.Timer
}

// Option configures an Executor.
type Option func(*Executor)

// WithClassifier sets the classifier deciding retryability.
func WithClassifier(c *apperr.Classifier) Option {
	return func(e *Executor) { e.classifier = c }
}

// WithLogger sets the structured log sink that receives a warning per retry.
func WithLogger(l *logger.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// WithTimer replaces the timer used for backoff waits. newTimer is called
// once per Do call.
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(e *Executor) { e.newTimer = newTimer }
}

// New returns an Executor for policy.
func New(policy Policy, opts ...Option) *Executor {
	e := &Executor{
		policy:     policy,
		classifier: apperr.Default,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the executor's policy.
func (e *Executor) Policy() Policy {
	return e.policy
}

// Do calls op until it succeeds, fails with an error the classifier marks as
// not retryable, or the policy runs out of retries. The last error from op is
// returned unchanged. Cancelling ctx aborts the wait between attempts and
// returns the context error.
func Do[T any](ctx context.Context, e *Executor, correlationID string, op func(context.Context) (T, error)) (T, error) {
	var (
		value   T
		attempt int
		last    *apperr.AppError
	)

	operation := func() error {
		v, err := op(ctx)
		if err != nil {
			last = e.classifier.Classify(err, apperr.CodeUnknown, nil, correlationID)
			if !last.Retryable() {
				return backoff.Permanent(err)
			}
			return err
		}
		value = v
		return nil
	}

	notify := func(err error, delay time.Duration) {
		attempt++
		if last != nil {
			metrics.RetriesTotal.WithLabelValues(string(last.Code())).Inc()
		}
		data := map[string]any{
			"code":  codeOf(last),
			"error": err.Error(),
			"delay": delay.String(),
		}
		// The provider's hint is logged only; the policy alone sets the wait.
		if hint := llm.ExtractRetryAfter(err); hint != nil {
			data["retryAfter"] = hint.String()
		}
		e.log.Warn(fmt.Sprintf("Retry attempt %d/%d after %s", attempt, e.policy.MaxAttempts, e.policy.Delay(attempt)), correlationID, data)
	}

	var timer backoff.Timer
	if e.newTimer != nil {
		timer = e.newTimer()
	}

	b := backoff.WithContext(e.policy.backOff(), ctx)
	if err := backoff.RetryNotifyWithTimer(operation, b, notify, timer); err != nil {
		var zero T
		return zero, err
	}
	return value, nil
}

func codeOf(e *apperr.AppError) apperr.Code {
	if e == nil {
		return apperr.CodeUnknown
	}
	return e.Code()
}
