// Package result provides the two-variant outcome returned by the assistant
// instead of a (value, error) pair.
package result

import (
	"encoding/json"

	"github.com/aschepis/backscratcher/assist/apperr"
)

// Result holds either a value or a classified error, never both.
type Result[T any] struct {
	value T
	err   *apperr.AppError
	ok    bool
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v, ok: true}
}

// Fail wraps a classified error. It panics on nil.
func Fail[T any](err *apperr.AppError) Result[T] {
	if err == nil {
		panic("result: Fail called with nil error")
	}
	return Result[T]{err: err}
}

// IsOK reports whether r holds a value.
func (r Result[T]) IsOK() bool {
	return r.ok
}

// Value returns the value and whether there is one.
func (r Result[T]) Value() (T, bool) {
	return r.value, r.ok
}

// Err returns the error, or nil for an Ok result.
func (r Result[T]) Err() *apperr.AppError {
	return r.err
}

// Unwrap converts r into the usual Go pair.
func (r Result[T]) Unwrap() (T, error) {
	if r.ok {
		return r.value, nil
	}
	if r.err == nil {
		var zero T
		return zero, nil
	}
	return r.value, r.err
}

// Map applies f to the value of an Ok result.
func Map[T, U any](r Result[T], f func(T) U) Result[U] {
	if !r.ok {
		return Result[U]{err: r.err}
	}
	return Ok(f(r.value))
}

// MarshalJSON renders {"ok":true,"value":…} or {"ok":false,"error":…}.
func (r Result[T]) MarshalJSON() ([]byte, error) {
	if r.ok {
		return json.Marshal(struct {
			OK    bool `json:"ok"`
			Value T    `json:"value"`
		}{true, r.value})
	}
	return json.Marshal(struct {
		OK    bool             `json:"ok"`
		Error *apperr.AppError `json:"error"`
	}{false, r.err})
}
