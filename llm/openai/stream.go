package openai

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/aschepis/backscratcher/assist/llm"
)

// stream implements llm.FragmentStream for OpenAI streaming responses. Each
// Recv is pulled on demand; content deltas and the trailing usage chunk
// become fragments.
type stream struct {
	ctx    context.Context
	stream *openai.ChatCompletionStream
	logger zerolog.Logger

	frag llm.Fragment
	err  error
	done bool

	closeOnce sync.Once
	closeErr  error
}

func newStream(ctx context.Context, s *openai.ChatCompletionStream, logger zerolog.Logger) *stream {
	return &stream{ctx: ctx, stream: s, logger: logger}
}

// Next implements llm.FragmentStream.Next.
func (s *stream) Next() bool {
	if s.err != nil || s.done {
		return false
	}

	for {
		response, err := s.stream.Recv()
		if err != nil {
			s.done = true
			if !errors.Is(err, io.EOF) {
				s.err = convertError(s.ctx, err)
			}
			return false
		}

		text := ""
		if len(response.Choices) > 0 {
			text = response.Choices[0].Delta.Content
		}

		var usage *llm.Usage
		if response.Usage != nil {
			usage = &llm.Usage{
				InputTokens:  int64(response.Usage.PromptTokens),
				OutputTokens: int64(response.Usage.CompletionTokens),
				TotalTokens:  int64(response.Usage.TotalTokens),
			}
		}

		if text == "" && usage == nil {
			continue
		}
		s.frag = llm.NewFragment(text, usage, nil)
		return true
	}
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
		s.closeErr = s.stream.Close()
		s.logger.Debug().Msg("OpenAI stream closed")
	})
	return s.closeErr
}

// Ensure stream implements llm.FragmentStream
var _ llm.FragmentStream = (*stream)(nil)
