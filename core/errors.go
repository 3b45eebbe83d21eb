package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for the loader's error taxonomy. Callers test for them with
// errors.Is; concrete errors carry positions and wrap one of these.
var (
	// ErrMalformedSyntax reports a token or object that cannot be classified.
	ErrMalformedSyntax = errors.New("malformed syntax")

	// ErrUnexpectedEOF reports input that ends in the middle of a token or object.
	ErrUnexpectedEOF = errors.New("unexpected end of input")

	// ErrUnresolvedReference reports a reference with no usable cross-reference entry.
	ErrUnresolvedReference = errors.New("unresolved reference")

	// ErrCorruptObject reports bytes at a resolved location that are not a valid
	// indirect object.
	ErrCorruptObject = errors.New("corrupt object")

	// ErrIO reports a failure of the underlying byte source.
	ErrIO = errors.New("i/o failure")
)

// SyntaxError is a tokenizer or parser failure at a byte position.
type SyntaxError struct {
	Pos int64
	Msg string
	Err error // ErrMalformedSyntax or ErrUnexpectedEOF
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%v at offset %d: %s", e.Err, e.Pos, e.Msg)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

func malformed(pos int64, format string, args ...interface{}) error {
	return &SyntaxError{Pos: pos, Msg: fmt.Sprintf(format, args...), Err: ErrMalformedSyntax}
}

func truncated(pos int64, format string, args ...interface{}) error {
	return &SyntaxError{Pos: pos, Msg: fmt.Sprintf(format, args...), Err: ErrUnexpectedEOF}
}

// ioFailure wraps a read error from the byte source so it stays distinguishable
// from syntax problems.
func ioFailure(err error) error {
	return fmt.Errorf("%w: %w", ErrIO, err)
}
