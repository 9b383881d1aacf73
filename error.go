package apmz

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Error is a captured fault or message, linked to the unit of work that
// was active when it was reported.
//
//nolint:govet // Field order follows the wire shape.
type Error struct {
	ID            string
	Timestamp     time.Time
	Culprit       string
	Exception     *Exception
	Log           *ErrorLog
	Backtrace     []Frame
	Context       *Context
	TransactionID string
	TraceContext  *TraceContext
}

// Exception describes a Go error or a recovered panic value.
type Exception struct {
	Type    string
	Message string
	Handled bool
}

// ErrorLog describes a reported message.
type ErrorLog struct {
	Message string
}

// Kind implements Event.
func (*Error) Kind() EventKind {
	return KindError
}

// NewError builds an Error for err. The exception type is the dynamic type
// of the innermost error in the wrap chain.
func NewError(err error, handled bool) *Error {
	return &Error{
		ID: newErrorID(),
		Exception: &Exception{
			Type:    fmt.Sprintf("%T", rootCause(err)),
			Message: err.Error(),
			Handled: handled,
		},
	}
}

// NewPanicError builds an Error for a recovered panic value.
func NewPanicError(v any) *Error {
	if err, ok := v.(error); ok {
		return NewError(err, false)
	}
	return &Error{
		ID: newErrorID(),
		Exception: &Exception{
			Type:    fmt.Sprintf("%T", v),
			Message: fmt.Sprint(v),
		},
	}
}

// NewMessageError builds an Error carrying a log message instead of an
// exception.
func NewMessageError(message string) *Error {
	return &Error{
		ID:  newErrorID(),
		Log: &ErrorLog{Message: message},
	}
}

// link attaches the error to the current transaction and span.
func (e *Error) link(tx *Transaction, span *Span) {
	if tx == nil {
		return
	}
	parent := tx.ID()
	if span != nil {
		parent = span.ID()
	}
	e.TransactionID = tx.ID()
	e.TraceContext = &TraceContext{
		Version:  tx.TraceContext.Version,
		TraceID:  tx.TraceID(),
		ParentID: parent,
		Flags:    tx.TraceContext.Flags,
	}
	e.Context = tx.contextSnapshot()
}

func (e *Error) setBacktrace(frames []Frame) {
	e.Backtrace = frames
	if len(frames) > 0 {
		e.Culprit = frames[0].Function
	}
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

func newErrorID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
