package mapper

import (
	"errors"
	"fmt"
)

var (
	ErrMissingArguments = errors.New("missing arguments")
	ErrMissingField     = errors.New("missing field")
	ErrInvalidType      = errors.New("invalid type")
	ErrInvalidValue     = errors.New("invalid value")
	ErrUnsupportedValue = errors.New("unsupported status value")
	ErrEmptyCollection  = errors.New("empty collection")
)

// Error is a mapping failure. It unwraps to one of the Err* sentinels so
// callers can match with errors.Is.
type Error struct {
	Kind    error
	Context string
	Field   string
	Detail  string
}

func (e *Error) Error() string {
	msg := e.Context + ": " + e.Kind.Error()
	if e.Field != "" {
		msg += " " + fmt.Sprintf("%q", e.Field)
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}

	return msg
}

func (e *Error) Unwrap() error { return e.Kind }

// RPCError carries a non-success result string verbatim.
type RPCError struct {
	Result  string
	Context string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: daemon returned %q", e.Context, e.Result)
}
