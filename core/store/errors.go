package store

import (
	"errors"
	"fmt"
)

var (
	ErrMalformed   = errors.New("malformed record")
	ErrUnknownKind = errors.New("unknown record kind")
)

// DecodeError carries the line number and cause for a single undecodable line.
type DecodeError struct {
	Line  int
	Cause error
}

func (e *DecodeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %v", e.Line, e.Cause)
	}
	return e.Cause.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}
