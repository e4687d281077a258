package anthropic

import (
	"context"
	"sync"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/assist/llm"
)

// stream implements llm.FragmentStream over Anthropic's SSE events. Events
// are pulled on demand; only text deltas and the final usage report become
// fragments.
type stream struct {
	ctx    context.Context
	events *ssestream.Stream[anthropic.MessageStreamEventUnion]
	logger zerolog.Logger

	// pending is set when prime already advanced onto the first event.
	pending   bool
	exhausted bool

	inputTokens int64
	frag        llm.Fragment
	err         error

	closeOnce sync.Once
	closeErr  error
}

func newStream(ctx context.Context, events *ssestream.Stream[anthropic.MessageStreamEventUnion], logger zerolog.Logger) *stream {
	return &stream{ctx: ctx, events: events, logger: logger}
}

// prime reads the first event so connection failures surface before the
// stream is handed out.
func (s *stream) prime() error {
	if s.events.Next() {
		s.pending = true
		return nil
	}
	if err := s.events.Err(); err != nil {
		return convertError(s.ctx, err)
	}
	s.exhausted = true
	return nil
}

func (s *stream) advance() bool {
	if s.pending {
		s.pending = false
		return true
	}
	return s.events.Next()
}

// Next implements llm.FragmentStream.Next.
func (s *stream) Next() bool {
	if s.err != nil || s.exhausted {
		return false
	}

	for s.advance() {
		if frag, ok := s.handle(s.events.Current()); ok {
			s.frag = frag
			return true
		}
	}

	s.exhausted = true
	if err := s.events.Err(); err != nil {
		s.err = convertError(s.ctx, err)
	}
	return false
}

func (s *stream) handle(event anthropic.MessageStreamEventUnion) (llm.Fragment, bool) {
	switch evt := event.AsAny().(type) {
	case anthropic.MessageStartEvent:
		s.inputTokens = evt.Message.Usage.InputTokens
	case anthropic.ContentBlockDeltaEvent:
		if delta, ok := evt.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
			return llm.NewFragment(delta.Text, nil, nil), true
		}
	case anthropic.MessageDeltaEvent:
		usage := &llm.Usage{
			InputTokens:  s.inputTokens,
			OutputTokens: evt.Usage.OutputTokens,
		}
		if evt.Usage.InputTokens > 0 {
			usage.InputTokens = evt.Usage.InputTokens
		}
		s.logger.Debug().
			Str("stop_reason", string(evt.Delta.StopReason)).
			Int64("output_tokens", usage.OutputTokens).
			Msg("Anthropic stream finished")
		return llm.NewFragment("", usage, nil), true
	}
	return nil, false
}

// Fragment implements llm.FragmentStream.Fragment.
func (s *stream) Fragment() llm.Fragment {
	return s.frag
}

// Err implements llm.FragmentStream.Err.
func (s *stream) Err() error {
	return s.err
}

// Close implements llm.FragmentStream.Close.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.events.Close()
	})
	return s.closeErr
}

// Ensure stream implements llm.FragmentStream
var _ llm.FragmentStream = (*stream)(nil)
