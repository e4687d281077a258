package llm

import (
	"context"
	"errors"
	"testing"
)

type stubTransport struct {
	frag      Fragment
	err       error
	fragments []Fragment
	streamErr error
	lastReq   *Request
}

func (s *stubTransport) GenerateOnce(_ context.Context, req *Request) (Fragment, error) {
	s.lastReq = req
	return s.frag, s.err
}

func (s *stubTransport) GenerateStream(_ context.Context, req *Request) (FragmentStream, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &sliceStream{items: s.fragments, err: s.streamErr}, nil
}

type sliceStream struct {
	items  []Fragment
	pos    int
	err    error
	closed bool
}

func (s *sliceStream) Next() bool {
	if s.pos >= len(s.items) {
		return false
	}
	s.pos++
	return true
}

func (s *sliceStream) Fragment() Fragment { return s.items[s.pos-1] }
func (s *sliceStream) Err() error         { return s.err }
func (s *sliceStream) Close() error       { s.closed = true; return nil }

func TestWrapWithMiddleware_NoMiddleware(t *testing.T) {
	base := &stubTransport{}
	if WrapWithMiddleware(base) != Transport(base) {
		t.Error("Expected the transport to be returned unchanged")
	}
}

func TestWrapWithMiddleware_GenerateOnce(t *testing.T) {
	base := &stubTransport{frag: Fragment{"text": "hi"}}
	var order []string
	mw := func(name string) MiddlewareFunc {
		return MiddlewareFunc{
			BeforeRequestFunc: func(_ context.Context, req *Request) (*Request, error) {
				order = append(order, "before-"+name)
				req.Model = req.Model + "+" + name
				return req, nil
			},
			AfterResponseFunc: func(_ context.Context, _ *Request, frag Fragment) (Fragment, error) {
				order = append(order, "after-"+name)
				return frag, nil
			},
		}
	}

	wrapped := WrapWithMiddleware(base, mw("a"), mw("b"))
	frag, err := wrapped.GenerateOnce(context.Background(), &Request{Model: "m"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if frag.Text() != "hi" {
		t.Errorf("Expected 'hi', got %q", frag.Text())
	}
	if base.lastReq.Model != "m+a+b" {
		t.Errorf("Expected request to pass through both middleware, got %q", base.lastReq.Model)
	}
	want := []string{"before-a", "before-b", "after-b", "after-a"}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("Step %d: expected %s, got %s", i, want[i], order[i])
		}
	}
}

func TestWrapWithMiddleware_OnError(t *testing.T) {
	base := &stubTransport{err: errors.New("boom")}
	seen := 0
	wrapped := WrapWithMiddleware(base, MiddlewareFunc{
		OnErrorFunc: func(_ context.Context, _ *Request, err error) error {
			seen++
			return err
		},
	})
	if _, err := wrapped.GenerateOnce(context.Background(), &Request{}); err == nil || err.Error() != "boom" {
		t.Errorf("Expected original error, got %v", err)
	}
	if seen != 1 {
		t.Errorf("Expected OnError to run once, got %d", seen)
	}
}

func TestWrapWithMiddleware_Stream(t *testing.T) {
	base := &stubTransport{
		fragments: []Fragment{{"text": "a"}, {"text": "b"}, {"text": "c"}},
	}
	count := 0
	wrapped := WrapWithMiddleware(base, MiddlewareFunc{
		OnFragmentFunc: func(_ context.Context, _ *Request, frag Fragment) (Fragment, error) {
			count++
			if frag.Text() == "c" {
				return nil, errors.New("stop at c")
			}
			return frag, nil
		},
	})

	stream, err := wrapped.GenerateStream(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	var texts []string
	for stream.Next() {
		texts = append(texts, stream.Fragment().Text())
	}
	if len(texts) != 2 {
		t.Errorf("Expected 2 fragments before abort, got %v", texts)
	}
	if stream.Err() == nil || stream.Err().Error() != "stop at c" {
		t.Errorf("Expected middleware error, got %v", stream.Err())
	}
	if count != 3 {
		t.Errorf("Expected OnFragment 3 times, got %d", count)
	}
	if err := stream.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
