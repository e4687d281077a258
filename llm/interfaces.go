package llm

import (
	"context"
	"sync"
)

// Transport is a provider-neutral connection to a hosted model. It only
// moves bytes: it does not retry, validate or classify. Implementations
// report failures as errors whose text (or *Error status code) identifies
// the cause.
type Transport interface {
	// GenerateOnce sends a request and returns the complete response as a
	// single fragment.
	GenerateOnce(ctx context.Context, req *Request) (Fragment, error)

	// GenerateStream opens a streaming response. The caller must Close the
	// returned stream.
	GenerateStream(ctx context.Context, req *Request) (FragmentStream, error)
}

// FragmentStream is a pull-based sequence of raw fragments.
type FragmentStream interface {
	// Next advances to the next fragment.
	// Returns false when the stream is complete or an error occurs.
	Next() bool

	// Fragment returns the current fragment.
	// Should only be called after Next() returns true.
	Fragment() Fragment

	// Err returns any error that occurred during streaming.
	Err() error

	// Close closes the stream and releases resources. It is safe to call
	// Close more than once.
	Close() error
}

// Middleware provides hooks for decorating Transport calls.
type Middleware interface {
	// BeforeRequest is called before making an API request.
	// It can modify the request or return an error to abort the request.
	BeforeRequest(ctx context.Context, req *Request) (*Request, error)

	// AfterResponse is called after receiving a response.
	AfterResponse(ctx context.Context, req *Request, frag Fragment) (Fragment, error)

	// OnError is called when an error occurs.
	// It can return a modified error or nil to use the original error.
	OnError(ctx context.Context, req *Request, err error) error
}

// StreamMiddleware provides hooks for decorating streaming calls.
type StreamMiddleware interface {
	// BeforeStream is called before opening a stream.
	BeforeStream(ctx context.Context, req *Request) (*Request, error)

	// OnFragment is called for each streamed fragment.
	// It can modify the fragment or return an error to abort the stream.
	OnFragment(ctx context.Context, req *Request, frag Fragment) (Fragment, error)

	// OnStreamError is called when opening or reading a stream fails.
	OnStreamError(ctx context.Context, req *Request, err error) error
}

// MiddlewareFunc is a function type that implements Middleware and StreamMiddleware.
type MiddlewareFunc struct {
	BeforeRequestFunc func(ctx context.Context, req *Request) (*Request, error)
	AfterResponseFunc func(ctx context.Context, req *Request, frag Fragment) (Fragment, error)
	OnErrorFunc       func(ctx context.Context, req *Request, err error) error

	BeforeStreamFunc  func(ctx context.Context, req *Request) (*Request, error)
	OnFragmentFunc    func(ctx context.Context, req *Request, frag Fragment) (Fragment, error)
	OnStreamErrorFunc func(ctx context.Context, req *Request, err error) error
}

// BeforeRequest calls the BeforeRequestFunc if set.
func (f MiddlewareFunc) BeforeRequest(ctx context.Context, req *Request) (*Request, error) {
	if f.BeforeRequestFunc != nil {
		return f.BeforeRequestFunc(ctx, req)
	}
	return req, nil
}

// AfterResponse calls the AfterResponseFunc if set.
func (f MiddlewareFunc) AfterResponse(ctx context.Context, req *Request, frag Fragment) (Fragment, error) {
	if f.AfterResponseFunc != nil {
		return f.AfterResponseFunc(ctx, req, frag)
	}
	return frag, nil
}

// OnError calls the OnErrorFunc if set.
func (f MiddlewareFunc) OnError(ctx context.Context, req *Request, err error) error {
	if f.OnErrorFunc != nil {
		return f.OnErrorFunc(ctx, req, err)
	}
	return err
}

// BeforeStream calls the BeforeStreamFunc if set.
func (f MiddlewareFunc) BeforeStream(ctx context.Context, req *Request) (*Request, error) {
	if f.BeforeStreamFunc != nil {
		return f.BeforeStreamFunc(ctx, req)
	}
	return req, nil
}

// OnFragment calls the OnFragmentFunc if set.
func (f MiddlewareFunc) OnFragment(ctx context.Context, req *Request, frag Fragment) (Fragment, error) {
	if f.OnFragmentFunc != nil {
		return f.OnFragmentFunc(ctx, req, frag)
	}
	return frag, nil
}

// OnStreamError calls the OnStreamErrorFunc if set.
func (f MiddlewareFunc) OnStreamError(ctx context.Context, req *Request, err error) error {
	if f.OnStreamErrorFunc != nil {
		return f.OnStreamErrorFunc(ctx, req, err)
	}
	return err
}

// WrapWithMiddleware wraps a Transport with middleware and returns a new Transport.
func WrapWithMiddleware(transport Transport, middleware ...Middleware) Transport {
	if len(middleware) == 0 {
		return transport
	}
	return &transportWithMiddleware{
		transport:  transport,
		middleware: middleware,
	}
}

// transportWithMiddleware wraps a Transport with middleware.
type transportWithMiddleware struct {
	transport  Transport
	middleware []Middleware
}

// GenerateOnce implements Transport.GenerateOnce with middleware support.
func (t *transportWithMiddleware) GenerateOnce(ctx context.Context, req *Request) (Fragment, error) {
	for _, mw := range t.middleware {
		var err error
		req, err = mw.BeforeRequest(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	frag, err := t.transport.GenerateOnce(ctx, req)
	if err != nil {
		for _, mw := range t.middleware {
			if handled := mw.OnError(ctx, req, err); handled != nil {
				err = handled
			}
		}
		return nil, err
	}

	// AfterResponse runs in reverse order
	for i := len(t.middleware) - 1; i >= 0; i-- {
		frag, err = t.middleware[i].AfterResponse(ctx, req, frag)
		if err != nil {
			return nil, err
		}
	}
	return frag, nil
}

// GenerateStream implements Transport.GenerateStream with middleware support.
func (t *transportWithMiddleware) GenerateStream(ctx context.Context, req *Request) (FragmentStream, error) {
	for _, mw := range t.middleware {
		if smw, ok := mw.(StreamMiddleware); ok {
			var err error
			req, err = smw.BeforeStream(ctx, req)
			if err != nil {
				return nil, err
			}
		}
	}

	stream, err := t.transport.GenerateStream(ctx, req)
	if err != nil {
		return nil, t.streamError(ctx, req, err)
	}

	return &streamWithMiddleware{
		stream: stream,
		parent: t,
		req:    req,
		ctx:    ctx,
	}, nil
}

func (t *transportWithMiddleware) streamError(ctx context.Context, req *Request, err error) error {
	for _, mw := range t.middleware {
		if smw, ok := mw.(StreamMiddleware); ok {
			if handled := smw.OnStreamError(ctx, req, err); handled != nil {
				err = handled
			}
		}
	}
	return err
}

// streamWithMiddleware wraps a FragmentStream with middleware.
type streamWithMiddleware struct {
	stream FragmentStream
	parent *transportWithMiddleware
	req    *Request
	ctx    context.Context
	frag   Fragment
	err    error

	// errOnce makes OnStreamError run once however often Err is called.
	errOnce  sync.Once
	finalErr error
}

// Next implements FragmentStream.Next with middleware support.
func (s *streamWithMiddleware) Next() bool {
	if s.err != nil || !s.stream.Next() {
		return false
	}

	frag := s.stream.Fragment()
	for _, mw := range s.parent.middleware {
		if smw, ok := mw.(StreamMiddleware); ok {
			var err error
			frag, err = smw.OnFragment(s.ctx, s.req, frag)
			if err != nil {
				s.err = err
				return false
			}
		}
	}

	s.frag = frag
	return true
}

// Fragment implements FragmentStream.Fragment.
func (s *streamWithMiddleware) Fragment() Fragment {
	return s.frag
}

// Err implements FragmentStream.Err.
func (s *streamWithMiddleware) Err() error {
	err := s.err
	if err == nil {
		err = s.stream.Err()
	}
	if err == nil {
		return nil
	}
	s.errOnce.Do(func() {
		s.finalErr = s.parent.streamError(s.ctx, s.req, err)
	})
	return s.finalErr
}

// Close implements FragmentStream.Close.
func (s *streamWithMiddleware) Close() error {
	return s.stream.Close()
}

// Ensure streamWithMiddleware implements FragmentStream
var _ FragmentStream = (*streamWithMiddleware)(nil)

// Ensure transportWithMiddleware implements Transport
var _ Transport = (*transportWithMiddleware)(nil)
