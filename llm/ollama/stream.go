package ollama

import (
	"context"
	"sync"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/assist/llm"
)

type streamItem struct {
	frag llm.Fragment
	err  error
}

// stream implements llm.FragmentStream for Ollama. The Ollama client only
// offers a callback API, so the chat runs in a goroutine that hands
// fragments over an unbuffered channel; the goroutine never runs ahead of
// the consumer by more than one response.
type stream struct {
	parent context.Context
	cancel context.CancelFunc
	items  chan streamItem
	logger zerolog.Logger

	pending *streamItem
	frag    llm.Fragment
	err     error
	done    bool

	closeOnce sync.Once
}

func newStream(ctx context.Context, client *api.Client, req *api.ChatRequest, logger zerolog.Logger) *stream {
	runCtx, cancel := context.WithCancel(ctx)
	s := &stream{
		parent: ctx,
		cancel: cancel,
		items:  make(chan streamItem),
		logger: logger,
	}
	go s.run(runCtx, client, req)
	return s
}

func (s *stream) run(ctx context.Context, client *api.Client, req *api.ChatRequest) {
	defer close(s.items)

	err := client.Chat(ctx, req, func(resp api.ChatResponse) error {
		frag, ok := chatFragment(resp)
		if !ok {
			return nil
		}
		select {
		case s.items <- streamItem{frag: frag}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err == nil || ctx.Err() != nil {
		return
	}
	select {
	case s.items <- streamItem{err: convertError(ctx, err)}:
	case <-ctx.Done():
	}
}

// prime waits for the first response so connection failures surface before
// the stream is handed out.
func (s *stream) prime() error {
	item, ok := <-s.items
	if !ok {
		s.done = true
		return s.parent.Err()
	}
	if item.err != nil {
		return item.err
	}
	s.pending = &item
	return nil
}

// Next implements llm.FragmentStream.Next.
func (s *stream) Next() bool {
	if s.err != nil || s.done {
		return false
	}

	if s.pending != nil {
		s.frag = s.pending.frag
		s.pending = nil
		return true
	}

	item, ok := <-s.items
	if !ok {
		s.done = true
		s.err = s.parent.Err()
		return false
	}
	if item.err != nil {
		s.done = true
		s.err = item.err
		return false
	}
	s.frag = item.frag
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

// Close implements llm.FragmentStream.Close. It stops the background chat
// and waits for it to exit.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		for range s.items {
		}
		s.done = true
		s.logger.Debug().Msg("Ollama stream closed")
	})
	return nil
}

// Ensure stream implements llm.FragmentStream
var _ llm.FragmentStream = (*stream)(nil)
