// Package assistant is the resilient client the UI talks to. It turns a
// prompt into a provider request, retries transient transport failures,
// validates everything the provider returns and reports failures as
// classified errors instead of Go errors.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/aschepis/backscratcher/assist/apperr"
	"github.com/aschepis/backscratcher/assist/correlation"
	"github.com/aschepis/backscratcher/assist/llm"
	"github.com/aschepis/backscratcher/assist/logger"
	"github.com/aschepis/backscratcher/assist/metrics"
	"github.com/aschepis/backscratcher/assist/result"
	"github.com/aschepis/backscratcher/assist/retry"
	"github.com/aschepis/backscratcher/assist/validate"
)

const (
	modeGenerate = "generate"
	modeStream   = "stream"
)

// errMissingCredential is reported when the client has no API key.
var errMissingCredential = errors.New("API key missing")

// UsageRecorder receives token usage for every successful call.
type UsageRecorder interface {
	RecordUsage(model, lane string, promptTokens, outputTokens, totalTokens int64, latency time.Duration)
}

// GenerateRequest is a single-shot request.
type GenerateRequest struct {
	Prompt        string
	Lane          Lane
	History       []llm.Message
	Image         *Image
	CorrelationID string
}

// StreamRequest is a streaming request.
type StreamRequest struct {
	Prompt        string
	Lane          Lane
	History       []llm.Message
	Image         *Image
	CorrelationID string
}

// Client talks to one provider transport. It holds no per-call state, so a
// single Client may serve concurrent calls.
type Client struct {
	transport          llm.Transport
	credential         string
	credentialOptional bool

	lanes      Lanes
	system     string
	tools      []llm.ToolSpec
	classifier *apperr.Classifier
	validator  *validate.Validator
	retry      *retry.Executor
	log        *logger.Logger
	usage      UsageRecorder
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithLanes replaces the lane policies.
func WithLanes(lanes Lanes) Option {
	return func(c *Client) { c.lanes = lanes }
}

// WithSystemInstruction replaces the system instruction.
func WithSystemInstruction(system string) Option {
	return func(c *Client) { c.system = system }
}

// WithTools replaces the tool declarations sent on tool-enabled lanes.
func WithTools(tools []llm.ToolSpec) Option {
	return func(c *Client) { c.tools = tools }
}

// WithClassifier sets the classifier used for transport failures.
func WithClassifier(classifier *apperr.Classifier) Option {
	return func(c *Client) { c.classifier = classifier }
}

// WithRetry sets the retry executor.
func WithRetry(exec *retry.Executor) Option {
	return func(c *Client) { c.retry = exec }
}

// WithLogger sets the structured log sink.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithUsageRecorder records token usage of successful calls.
func WithUsageRecorder(r UsageRecorder) Option {
	return func(c *Client) { c.usage = r }
}

// WithoutCredential allows an empty credential, for local providers that do
// not authenticate.
func WithoutCredential() Option {
	return func(c *Client) { c.credentialOptional = true }
}

// New returns a Client for transport. credential is the provider API key;
// when it is empty every call fails with auth-failed before touching the
// transport, unless WithoutCredential is given.
func New(transport llm.Transport, credential string, opts ...Option) (*Client, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}

	c := &Client{
		transport:  transport,
		credential: credential,
		lanes:      DefaultLanes(),
		system:     SystemInstruction,
		tools:      TradingTools(),
		classifier: apperr.Default,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.retry == nil {
		c.retry = retry.New(retry.DefaultPolicy(), retry.WithClassifier(c.classifier), retry.WithLogger(c.log))
	}
	c.validator = validate.New(c.classifier)

	for lane, policy := range c.lanes {
		if policy.Model == "" {
			return nil, fmt.Errorf("lane %q has no model", lane)
		}
	}
	return c, nil
}

// Generate sends one request and returns the validated response. Transport
// errors are never returned as Go errors: every failure is a classified Fail.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) result.Result[validate.Response] {
	cid := correlation.Ensure(req.CorrelationID)
	ctx = correlation.WithID(ctx, cid)
	lane := laneOrDefault(req.Lane)
	start := c.now()

	if appErr := c.checkCredential(cid); appErr != nil {
		return finish(c, lane, modeGenerate, start, result.Fail[validate.Response](appErr))
	}

	llmReq, policy, appErr := c.buildRequest(lane, req.History, req.Prompt, req.Image, cid)
	if appErr != nil {
		return finish(c, lane, modeGenerate, start, result.Fail[validate.Response](appErr))
	}

	c.log.Info(fmt.Sprintf("Starting generate request to %s", policy.Model), cid, map[string]any{
		"lane":     lane,
		"hasImage": req.Image != nil,
	})

	frag, err := retry.Do(ctx, c.retry, cid, func(ctx context.Context) (llm.Fragment, error) {
		return c.transport.GenerateOnce(ctx, llmReq)
	})
	if err != nil {
		appErr := c.transportFailure(err, apperr.ExhaustedGenerateMessage, lane, cid)
		return finish(c, lane, modeGenerate, start, result.Fail[validate.Response](appErr))
	}

	res := c.validator.Response(map[string]any(frag), cid)
	if resp, ok := res.Value(); ok {
		c.recordUsage(policy.Model, lane, resp.Usage, c.now().Sub(start))
	} else {
		c.log.LogError("Response validation failed", res.Err())
	}
	return finish(c, lane, modeGenerate, start, res)
}

// Stream opens a streaming request. The returned sequence is pull-driven:
// nothing is sent until it is iterated, and it can be iterated only once.
// Every element is either a validated chunk or a Fail; a Fail is always the
// last element. Stopping the iteration early closes the transport stream.
func (c *Client) Stream(ctx context.Context, req StreamRequest) iter.Seq[result.Result[validate.Chunk]] {
	var used atomic.Bool
	return func(yield func(result.Result[validate.Chunk]) bool) {
		if !used.CompareAndSwap(false, true) {
			return
		}
		c.stream(ctx, req, yield)
	}
}

func (c *Client) stream(ctx context.Context, req StreamRequest, yield func(result.Result[validate.Chunk]) bool) {
	cid := correlation.Ensure(req.CorrelationID)
	ctx = correlation.WithID(ctx, cid)
	lane := laneOrDefault(req.Lane)
	start := c.now()

	fail := func(appErr *apperr.AppError) {
		yield(finish(c, lane, modeStream, start, result.Fail[validate.Chunk](appErr)))
	}

	if appErr := c.checkCredential(cid); appErr != nil {
		fail(appErr)
		return
	}

	llmReq, policy, appErr := c.buildRequest(lane, req.History, req.Prompt, req.Image, cid)
	if appErr != nil {
		fail(appErr)
		return
	}

	c.log.Info(fmt.Sprintf("Starting stream request to %s", policy.Model), cid, map[string]any{
		"lane":     lane,
		"hasImage": req.Image != nil,
	})

	// Only establishing the stream is retried; a broken stream is terminal.
	stream, err := retry.Do(ctx, c.retry, cid, func(ctx context.Context) (llm.FragmentStream, error) {
		return c.transport.GenerateStream(ctx, llmReq)
	})
	if err != nil {
		fail(c.transportFailure(err, apperr.ExhaustedStreamMessage, lane, cid))
		return
	}
	defer func() {
		if err := stream.Close(); err != nil {
			c.log.Warn("Failed to close stream", cid, map[string]any{"error": err.Error()})
		}
	}()

	var usage *validate.Usage
	chunks := 0
	for stream.Next() {
		res := c.validator.Chunk(map[string]any(stream.Fragment()), cid)
		chunk, ok := res.Value()
		if !ok {
			metrics.ChunksTotal.WithLabelValues("invalid").Inc()
			c.log.LogError("Stream chunk validation failed", res.Err())
			fail(res.Err())
			return
		}
		metrics.ChunksTotal.WithLabelValues("valid").Inc()
		chunks++
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if !yield(res) {
			c.log.Info("Stream consumer stopped early", cid, map[string]any{"chunks": chunks})
			c.observe(lane, modeStream, "canceled", start)
			return
		}
	}

	if err := stream.Err(); err != nil {
		fail(c.transportFailure(err, apperr.ExhaustedStreamMessage, lane, cid))
		return
	}

	c.recordUsage(policy.Model, lane, usage, c.now().Sub(start))
	c.log.Info("Stream completed", cid, map[string]any{"chunks": chunks})
	c.observe(lane, modeStream, "ok", start)
}

func (c *Client) checkCredential(cid string) *apperr.AppError {
	if c.credential != "" || c.credentialOptional {
		return nil
	}
	appErr := c.classifier.New(apperr.CodeAuthFailed, errMissingCredential, nil, cid)
	c.log.LogError("Request rejected", appErr)
	return appErr
}

// buildRequest assembles the provider request. Contract violations are
// reported as validation-failed before any network attempt.
func (c *Client) buildRequest(lane Lane, history []llm.Message, prompt string, image *Image, cid string) (*llm.Request, LanePolicy, *apperr.AppError) {
	invalid := func(err error) (*llm.Request, LanePolicy, *apperr.AppError) {
		appErr := c.classifier.New(apperr.CodeValidationFailed, err, map[string]any{"lane": lane}, cid)
		c.log.LogError("Invalid request", appErr)
		return nil, LanePolicy{}, appErr
	}

	policy, ok := c.lanes[lane]
	if !ok {
		return invalid(fmt.Errorf("unknown lane %q", lane))
	}
	if prompt == "" && image == nil {
		return invalid(errors.New("prompt is empty"))
	}

	var imgBlock *llm.ImageBlock
	if image != nil {
		var err error
		if imgBlock, err = image.block(); err != nil {
			return invalid(err)
		}
		prompt = ChartAnalysisPrefix + prompt
	}

	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, llm.NewUserTurn(prompt, imgBlock))

	req := &llm.Request{
		Messages: messages,
		System:   c.system,
	}
	policy.apply(req, c.tools)
	return req, policy, nil
}

// transportFailure classifies an error that survived the retry policy.
// Retryable failures only get here once retries are used up, so their
// message says so.
func (c *Client) transportFailure(err error, exhaustedMessage string, lane Lane, cid string) *apperr.AppError {
	appErr := c.classifier.Classify(err, apperr.CodeServiceUnavailable, map[string]any{"lane": lane}, cid)
	if appErr.Retryable() {
		appErr = appErr.WithMessage(exhaustedMessage)
	}
	c.log.LogError("Request failed", appErr)
	return appErr
}

func (c *Client) recordUsage(model string, lane Lane, u *validate.Usage, latency time.Duration) {
	if c.usage == nil || u == nil {
		return
	}
	prompt := deref(u.PromptTokens)
	output := deref(u.OutputTokens)
	total := prompt + output
	if u.TotalTokens != nil {
		total = *u.TotalTokens
	}
	c.usage.RecordUsage(model, string(lane), prompt, output, total, latency)
}

// finish records metrics for a completed call and passes res through.
func finish[T any](c *Client, lane Lane, mode string, start time.Time, res result.Result[T]) result.Result[T] {
	outcome := "ok"
	if !res.IsOK() {
		outcome = string(res.Err().Code())
		metrics.FailuresTotal.WithLabelValues(outcome).Inc()
	}
	c.observe(lane, mode, outcome, start)
	return res
}

func (c *Client) observe(lane Lane, mode, outcome string, start time.Time) {
	metrics.RequestsTotal.WithLabelValues(string(lane), mode, outcome).Inc()
	metrics.RequestLatency.WithLabelValues(string(lane), mode).Observe(c.now().Sub(start).Seconds())
}

func laneOrDefault(lane Lane) Lane {
	if lane == "" {
		return LaneFast
	}
	return lane
}

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
