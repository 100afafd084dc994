package script

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a script error by the stage that produced it.
type ErrorKind int

const (
	// KindLexical covers malformed tokens: over-long words, bad strings.
	KindLexical ErrorKind = iota + 1
	// KindSyntax covers token sequences the parser cannot build a tree from.
	KindSyntax
	// KindRuntime covers failures during evaluation.
	KindRuntime
)

var kindNames = map[ErrorKind]string{
	KindLexical: "lexical",
	KindSyntax:  "syntax",
	KindRuntime: "runtime",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinel causes. Every *Error wraps exactly one of these (or a context error).
var (
	ErrTokenTooLong       = errors.New("token too long")
	ErrUnterminatedString = errors.New("unterminated string literal")
	ErrInvalidEscape      = errors.New("invalid escape sequence")
	ErrTokenExpected      = errors.New("token expected")
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidName        = errors.New("invalid variable name")
	ErrUnexpectedToken    = errors.New("unexpected token")
	ErrDivideByZero       = errors.New("divide by zero")
	ErrInterrupted        = errors.New("evaluation interrupted")
)

// Error is a line-numbered diagnostic. Its text is the exact message the
// command line prints: "line <N>: <message>".
type Error struct {
	Kind ErrorKind
	Line int
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, line int, cause error, format string, args ...any) *Error {
	return &Error{
		Kind: kind,
		Line: line,
		Msg:  fmt.Sprintf(format, args...),
		Err:  cause,
	}
}

// KindOf reports the kind of the first *Error in err's chain, or 0 when
// err did not come from the interpreter.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}
