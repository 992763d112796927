package asm

import "fmt"

// UndefinedLabelError reports a reference to a label that is never defined.
type UndefinedLabelError struct {
	Label string
	Line  int
}

func (e *UndefinedLabelError) Error() string {
	return fmt.Sprintf("line %d: undefined label %q", e.Line, e.Label)
}

// SyntaxError reports a line that could not be assembled.
type SyntaxError struct {
	Line int
	Text string
	Err  error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %v: %q", e.Line, e.Err, e.Text)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}
