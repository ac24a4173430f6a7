package device

import "devicekit-go/errcode"

// Result holds either a value (success) or an error code (failure).
// The zero Result is a failure with errcode.Unknown.
type Result[T any] struct {
	v    T
	ok   bool
	code errcode.Code
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] { return Result[T]{v: v, ok: true} }

// Fail wraps a failure. errcode.OK is not a failure and becomes Unknown.
func Fail[T any](c errcode.Code) Result[T] {
	if c == errcode.OK {
		c = errcode.Unknown
	}
	return Result[T]{code: c}
}

func (r Result[T]) OK() bool { return r.ok }

// Code is errcode.OK on success.
func (r Result[T]) Code() errcode.Code {
	switch {
	case r.ok:
		return errcode.OK
	case r.code == errcode.OK:
		return errcode.Unknown
	}
	return r.code
}

// Err is nil on success, the failure code otherwise.
func (r Result[T]) Err() error {
	if r.ok {
		return nil
	}
	return r.Code()
}

// Value returns the value, or the zero value and the failure code.
func (r Result[T]) Value() (T, error) {
	if !r.ok {
		var zero T
		return zero, r.Code()
	}
	return r.v, nil
}

// ValueOr returns the value, or def on failure.
func (r Result[T]) ValueOr(def T) T {
	if !r.ok {
		return def
	}
	return r.v
}
