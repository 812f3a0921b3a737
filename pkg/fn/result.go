// Package fn holds the generic Result type, Stage composition and the
// retry loop shared by the pipeline stages.
package fn

import "fmt"

// Result is what a Stage produces: a value, or the error that stopped it.
// The zero Result is a successful zero value.
type Result[T any] struct {
	val T
	err error
}

// Ok wraps a value.
func Ok[T any](v T) Result[T] { return Result[T]{val: v} }

// Err wraps a non-nil error.
func Err[T any](err error) Result[T] {
	if err == nil {
		panic("fn.Err: nil error")
	}
	return Result[T]{err: err}
}

// Errf builds a failed Result with fmt.Errorf, so %w wraps.
func Errf[T any](format string, args ...any) Result[T] {
	return Result[T]{err: fmt.Errorf(format, args...)}
}

// FromPair adapts a (value, error) return. The value is dropped on error.
func FromPair[T any](v T, err error) Result[T] {
	if err != nil {
		return Result[T]{err: err}
	}
	return Result[T]{val: v}
}

// Unwrap returns the value and the error.
func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }

// Failed reports whether r carries an error.
func (r Result[T]) Failed() bool { return r.err != nil }

// Cause is the error of a failed Result, nil otherwise.
func (r Result[T]) Cause() error { return r.err }
