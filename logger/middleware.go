package logger

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/assist/correlation"
	"github.com/aschepis/backscratcher/assist/llm"
)

// TransportLogger logs every transport call at debug level and failures at
// warn level. It never changes requests, fragments or errors.
type TransportLogger struct {
	logger zerolog.Logger
}

// NewTransportLogger creates a new TransportLogger.
func NewTransportLogger(logger zerolog.Logger, provider string) *TransportLogger {
	return &TransportLogger{
		logger: logger.With().Str("component", "transport").Str("provider", provider).Logger(),
	}
}

func (m *TransportLogger) event(ctx context.Context, evt *zerolog.Event, req *llm.Request) *zerolog.Event {
	if cid := correlation.FromContext(ctx); cid != "" {
		evt = evt.Str("correlation_id", cid)
	}
	if req != nil {
		evt = evt.Str("model", req.Model).Int("messages", len(req.Messages)).Int("tools", len(req.Tools))
	}
	return evt
}

// BeforeRequest implements llm.Middleware.BeforeRequest.
func (m *TransportLogger) BeforeRequest(ctx context.Context, req *llm.Request) (*llm.Request, error) {
	m.event(ctx, m.logger.Debug(), req).Bool("thinking", req.Thinking != nil).Msg("Sending request")
	return req, nil
}

// AfterResponse implements llm.Middleware.AfterResponse.
func (m *TransportLogger) AfterResponse(ctx context.Context, req *llm.Request, frag llm.Fragment) (llm.Fragment, error) {
	m.event(ctx, m.logger.Debug(), req).Int("textLength", len(frag.Text())).Msg("Received response")
	return frag, nil
}

// OnError implements llm.Middleware.OnError.
func (m *TransportLogger) OnError(ctx context.Context, req *llm.Request, err error) error {
	m.event(ctx, m.logger.Warn(), req).Err(err).Msg("Request failed")
	return err
}

// BeforeStream implements llm.StreamMiddleware.BeforeStream.
func (m *TransportLogger) BeforeStream(ctx context.Context, req *llm.Request) (*llm.Request, error) {
	m.event(ctx, m.logger.Debug(), req).Msg("Opening stream")
	return req, nil
}

// OnFragment implements llm.StreamMiddleware.OnFragment.
func (m *TransportLogger) OnFragment(ctx context.Context, req *llm.Request, frag llm.Fragment) (llm.Fragment, error) {
	if _, ok := frag["usage"]; ok {
		m.event(ctx, m.logger.Debug(), req).Interface("usage", frag["usage"]).Msg("Stream reported usage")
	}
	return frag, nil
}

// OnStreamError implements llm.StreamMiddleware.OnStreamError.
func (m *TransportLogger) OnStreamError(ctx context.Context, req *llm.Request, err error) error {
	m.event(ctx, m.logger.Warn(), req).Err(err).Msg("Stream failed")
	return err
}
