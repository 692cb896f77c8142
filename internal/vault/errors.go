package vault

import (
	"errors"
	"fmt"
	"strings"
)

// 错误分类哨兵，配合 errors.Is 使用
// Sentinel kinds for errors.Is.
var (
	ErrPersistence        = errors.New("persistence error")
	ErrNotFound           = errors.New("session not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrAmbiguousReference = errors.New("ambiguous reference")
	ErrCorruptLog         = errors.New("corrupt session log")
)

// Error 携带操作与会话上下文的 vault 错误
// Error is a vault failure carrying the operation and session involved.
type Error struct {
	Kind      error
	Op        string
	SessionID string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("vault ")
	b.WriteString(e.Op)
	if e.SessionID != "" {
		b.WriteString(" ")
		b.WriteString(e.SessionID)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op, sessionID string, err error) *Error {
	return &Error{Kind: kind, Op: op, SessionID: sessionID, Err: err}
}

// CorruptLogError 顺序读取时遇到无法解析的行；之前的内容仍然返回
// CorruptLogError reports an unparsable log line. Reading stops there; the
// turns before it are still returned to the caller.
type CorruptLogError struct {
	SessionID string
	Line      int   // 1-based
	Offset    int64 // byte offset of the line start
	Err       error
}

func (e *CorruptLogError) Error() string {
	return fmt.Sprintf("vault: session %s: corrupt log line %d at offset %d: %v", e.SessionID, e.Line, e.Offset, e.Err)
}

func (e *CorruptLogError) Unwrap() error { return e.Err }

func (e *CorruptLogError) Is(target error) bool { return target == ErrCorruptLog }
