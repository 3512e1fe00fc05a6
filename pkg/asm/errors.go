package asm

import (
	"errors"
	"fmt"
)

var (
	ErrSyntax          = errors.New("syntax error")
	ErrUnknownMnemonic = errors.New("unknown instruction")
	ErrMissingOperand  = errors.New("missing operand")
	ErrOperandKind     = errors.New("invalid operand type")
	ErrOperandRange    = errors.New("operand out of range")
	ErrUndefinedLabel  = errors.New("undefined label")
	ErrDuplicateLabel  = errors.New("duplicate label")
	ErrUnexpectedToken = errors.New("unexpected token")
	ErrProgramTooLarge = errors.New("program too large")
)

// ParseError reports an assembly failure and the source line it occurred on.
// The wrapped error is one of the Err* sentinels above.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func errorf(line int, kind error, format string, args ...any) *ParseError {
	return &ParseError{
		Line: line,
		Err:  fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...)),
	}
}
