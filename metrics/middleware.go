package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/aschepis/backscratcher/assist/llm"
)

// TransportMiddleware returns middleware that counts provider calls by
// outcome and records reported token usage.
func TransportMiddleware(provider string) llm.MiddlewareFunc {
	return llm.MiddlewareFunc{
		AfterResponseFunc: func(_ context.Context, req *llm.Request, frag llm.Fragment) (llm.Fragment, error) {
			TransportCallsTotal.WithLabelValues(provider, "generate", "ok").Inc()
			recordTokens(req, frag)
			return frag, nil
		},
		OnErrorFunc: func(_ context.Context, _ *llm.Request, err error) error {
			TransportCallsTotal.WithLabelValues(provider, "generate", StatusLabel(err)).Inc()
			return err
		},
		BeforeStreamFunc: func(_ context.Context, req *llm.Request) (*llm.Request, error) {
			TransportCallsTotal.WithLabelValues(provider, "stream", "started").Inc()
			return req, nil
		},
		OnFragmentFunc: func(_ context.Context, req *llm.Request, frag llm.Fragment) (llm.Fragment, error) {
			recordTokens(req, frag)
			return frag, nil
		},
		OnStreamErrorFunc: func(_ context.Context, _ *llm.Request, err error) error {
			TransportCallsTotal.WithLabelValues(provider, "stream", StatusLabel(err)).Inc()
			return err
		},
	}
}

// StatusLabel reduces an error to a low-cardinality label: the HTTP status
// when known, otherwise a coarse category.
func StatusLabel(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		if llmErr.StatusCode > 0 {
			return strconv.Itoa(llmErr.StatusCode)
		}
		return string(llmErr.Type)
	}
	return "error"
}

func recordTokens(req *llm.Request, frag llm.Fragment) {
	usage, ok := frag["usage"].(map[string]any)
	if !ok || req == nil {
		return
	}
	for key, kind := range map[string]string{"promptTokens": "prompt", "outputTokens": "output"} {
		if n, ok := tokenCount(usage[key]); ok {
			TokensTotal.WithLabelValues(req.Model, kind).Add(n)
		}
	}
}

// tokenCount accepts the number representations transports produce.
// Negative or non-numeric counters are left for the validator to reject.
func tokenCount(v any) (float64, bool) {
	var n float64
	switch val := v.(type) {
	case int64:
		n = float64(val)
	case int:
		n = float64(val)
	case float64:
		n = val
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	default:
		return 0, false
	}
	return n, n >= 0
}
