package compiler

import (
	"errors"
	"fmt"
)

// Stage identifies the pipeline stage that rejected an expression.
type Stage int

const (
	StageLex Stage = iota
	StageParse
	StageValidate
	StageLower
	StageEmit
)

var stageNames = [...]string{
	StageLex:      "lex",
	StageParse:    "parse",
	StageValidate: "validate",
	StageLower:    "lower",
	StageEmit:     "emit",
}

func (s Stage) String() string {
	if int(s) >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// Error is the single failure type returned by the compiler. Callers that
// need the stage or offset recover it with errors.As.
type Error struct {
	Stage   Stage
	Pass    string // validation pass name, for StageValidate
	Message string
	Offset  int // byte offset into the source, -1 when not applicable
	Line    int // 1-based, 0 when not applicable
	Column  int // 1-based, 0 when not applicable
	Token   int // 1-based token index, for StageParse
	Err     error
}

func (e *Error) Error() string {
	prefix := e.Stage.String() + " error"
	if e.Pass != "" {
		prefix = fmt.Sprintf("%s (%s)", prefix, e.Pass)
	}
	switch {
	case e.Token > 0:
		return fmt.Sprintf("%s at token %d (offset %d): %s", prefix, e.Token, e.Offset, e.Message)
	case e.Offset >= 0:
		return fmt.Sprintf("%s at offset %d: %s", prefix, e.Offset, e.Message)
	default:
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts a compiler *Error from err.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

func lexError(pos Position, msg string) *Error {
	return &Error{Stage: StageLex, Message: msg, Offset: pos.Offset, Line: pos.Line, Column: pos.Column}
}

func parseError(tokenIndex int, tok Token, format string, args ...any) *Error {
	return &Error{
		Stage:   StageParse,
		Message: fmt.Sprintf(format, args...),
		Offset:  tok.Pos.Offset,
		Line:    tok.Pos.Line,
		Column:  tok.Pos.Column,
		Token:   tokenIndex,
	}
}

func validationError(pass string, pos Position, format string, args ...any) *Error {
	return &Error{
		Stage:   StageValidate,
		Pass:    pass,
		Message: fmt.Sprintf(format, args...),
		Offset:  pos.Offset,
		Line:    pos.Line,
		Column:  pos.Column,
	}
}

func lowerError(pos Position, format string, args ...any) *Error {
	return &Error{
		Stage:   StageLower,
		Message: fmt.Sprintf(format, args...),
		Offset:  pos.Offset,
		Line:    pos.Line,
		Column:  pos.Column,
	}
}

func emitError(err error) *Error {
	return &Error{Stage: StageEmit, Message: err.Error(), Offset: -1, Err: err}
}
