package gemini

import (
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/assist/llm"
)

// stream implements llm.FragmentStream over an SSE response body. Each SSE
// event carries a complete generateContentResponse.
type stream struct {
	body    io.ReadCloser
	scanner *sseScanner
	logger  zerolog.Logger

	frag llm.Fragment
	err  error

	closeOnce sync.Once
	closeErr  error
}

func newStream(body io.ReadCloser, logger zerolog.Logger) *stream {
	return &stream{
		body:    body,
		scanner: newSSEScanner(body),
		logger:  logger,
	}
}

// Next implements llm.FragmentStream.Next.
func (s *stream) Next() bool {
	if s.err != nil {
		return false
	}

	payload, err := s.scanner.Next()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.err = llm.NewNetworkError(llm.ProviderGemini, err)
		}
		return false
	}

	var event generateContentResponse
	if err := decodeNumbers([]byte(payload), &event); err != nil {
		s.err = llm.NewProviderError(llm.ProviderGemini, "failed to decode stream event", err)
		return false
	}

	frag, err := toFragment(&event)
	if err != nil {
		s.err = llm.NewProviderError(llm.ProviderGemini, "failed to convert stream event", err)
		return false
	}

	s.frag = frag
	return true
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
		s.closeErr = s.body.Close()
		s.logger.Debug().Msg("Gemini stream closed")
	})
	return s.closeErr
}

// Ensure stream implements llm.FragmentStream
var _ llm.FragmentStream = (*stream)(nil)
