// Package errcode is the outcome vocabulary shared by every device
// implementation. A Code is comparable, allocation-free and implements error,
// so it can be returned directly from contract operations.
package errcode

import (
	"context"
	"errors"
)

// Code is a stable device outcome identifier.
type Code uint8

// Canonical codes. The order is fixed; new codes go before numCodes.
const (
	OK             Code = iota
	NotInitialized      // device not initialized
	Timeout             // wait or transaction timed out
	LockFailed          // lock could not be acquired in time
	CommFailure         // transport/bus failure
	InvalidParam        // argument out of range
	DataNotReady        // no processed data for this cycle
	MemoryFailure       // resource creation failed
	Busy                // another operation is outstanding
	Unsupported         // operation not supported by this device
	Unknown             // unspecified failure

	numCodes
)

var names = [numCodes]string{
	OK:             "ok",
	NotInitialized: "not_initialized",
	Timeout:        "timeout",
	LockFailed:     "lock_failed",
	CommFailure:    "comm_failure",
	InvalidParam:   "invalid_param",
	DataNotReady:   "data_not_ready",
	MemoryFailure:  "memory_failure",
	Busy:           "busy",
	Unsupported:    "unsupported",
	Unknown:        "unknown",
}

var descriptions = [numCodes]string{
	OK:             "Success",
	NotInitialized: "Not initialized",
	Timeout:        "Timeout",
	LockFailed:     "Mutex error",
	CommFailure:    "Communication error",
	InvalidParam:   "Invalid parameter",
	DataNotReady:   "Data not ready",
	MemoryFailure:  "Memory error",
	Busy:           "Device busy",
	Unsupported:    "Not supported",
	Unknown:        "Unknown error",
}

// Valid reports whether c is one of the canonical codes.
func (c Code) Valid() bool { return c < numCodes }

// String returns the short stable identifier, e.g. "not_initialized".
func (c Code) String() string {
	if !c.Valid() {
		return "invalid_code"
	}
	return names[c]
}

func (c Code) Error() string { return c.String() }

// Describe returns human readable text for logs and UIs.
func (c Code) Describe() string {
	if !c.Valid() {
		return "Invalid error code"
	}
	return descriptions[c]
}

// E wraps a Code when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := e.C.String()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is matches a bare Code target, so errors.Is(e, errcode.Busy) works.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// Wrap builds an *E. A nil err with OK code yields nil.
func Wrap(c Code, op string, err error) error {
	if c == OK && err == nil {
		return nil
	}
	return &E{C: c, Op: op, Err: err}
}

// Of extracts a Code from an error, defaulting to Unknown.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return Unknown
}

// MapDriverErr maps low-level driver/transport errors to a Code.
// Errors that already carry a code keep it; anything else is treated as a
// bus failure.
func MapDriverErr(err error) Code {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	case errors.Is(err, context.Canceled):
		return Unknown
	}
	if c := Of(err); c != Unknown {
		return c
	}
	return CommFailure
}
