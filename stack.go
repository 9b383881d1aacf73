package apmz

import (
	"context"
	"errors"
	"slices"
)

// stackKeyType is a private type for context keys to avoid collisions.
type stackKeyType string

const stackKey stackKeyType = "apmz"

// Stack records the current transaction and the spans active under it for
// one logical execution context. A Stack is not safe for concurrent use;
// each goroutine that traces on its own gets its own Stack.
type Stack struct {
	transaction *Transaction
	spans       []*Span
	reported    []reportedError
	scopes      int
	panickedAt  int
}

// reportedError is an error reported by the scoped helper running at scope.
type reportedError struct {
	err   error
	scope int
}

// ContextWithStack returns a context carrying a new, empty Stack.
// Nothing recorded on the parent's stack is visible through it.
func ContextWithStack(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, stackKey, &Stack{})
}

// ForkStack returns a context whose Stack starts as a copy of the one in
// ctx. Spans started through the fork are parented to the span current at
// fork time, but pushes and pops never reach the original stack. Use it
// before handing ctx to a goroutine.
func ForkStack(ctx context.Context) context.Context {
	parent := StackFromContext(ctx)
	if parent == nil {
		return ContextWithStack(ctx)
	}
	fork := &Stack{
		transaction: parent.transaction,
		spans:       append([]*Span(nil), parent.spans...),
	}
	return context.WithValue(ctx, stackKey, fork)
}

// StackFromContext returns the Stack carried by ctx, or nil.
func StackFromContext(ctx context.Context) *Stack {
	if ctx == nil {
		return nil
	}
	if s, ok := ctx.Value(stackKey).(*Stack); ok {
		return s
	}
	return nil
}

// CurrentTransaction returns the current transaction of ctx, or nil.
func CurrentTransaction(ctx context.Context) *Transaction {
	return StackFromContext(ctx).Transaction()
}

// CurrentSpan returns the innermost active span of ctx, or nil.
func CurrentSpan(ctx context.Context) *Span {
	return StackFromContext(ctx).Span()
}

// Transaction returns the current transaction.
func (s *Stack) Transaction() *Transaction {
	if s == nil {
		return nil
	}
	return s.transaction
}

// Span returns the innermost active span.
func (s *Stack) Span() *Span {
	if s == nil || len(s.spans) == 0 {
		return nil
	}
	return s.spans[len(s.spans)-1]
}

// Depth returns the number of active spans.
func (s *Stack) Depth() int {
	if s == nil {
		return 0
	}
	return len(s.spans)
}

// setTransaction makes tx current, dropping any active spans, and returns
// the transaction it replaced.
func (s *Stack) setTransaction(tx *Transaction) *Transaction {
	prev := s.transaction
	s.transaction = tx
	s.spans = nil
	s.reported = nil
	s.panickedAt = 0
	return prev
}

func (s *Stack) push(span *Span) {
	s.spans = append(s.spans, span)
}

func (s *Stack) pop() *Span {
	if len(s.spans) == 0 {
		return nil
	}
	top := s.spans[len(s.spans)-1]
	s.spans[len(s.spans)-1] = nil
	s.spans = s.spans[:len(s.spans)-1]
	return top
}

// parent returns the trace context new spans are created under: the
// innermost span, or the transaction when no span is active.
func (s *Stack) parent() TraceContext {
	if span := s.Span(); span != nil {
		return span.TraceContext
	}
	return s.transaction.TraceContext
}

// enterScope records that a scoped helper started and returns its scope
// level, 1 for the outermost.
func (s *Stack) enterScope() int {
	s.scopes++
	return s.scopes
}

// leaveScope ends the scoped helper at scope. Reports from helpers nested
// deeper are forgotten; reports made at scope stay visible to the enclosing
// helper until it leaves too.
func (s *Stack) leaveScope(scope int) {
	s.scopes = scope - 1
	if s.scopes <= 0 {
		s.scopes = 0
		s.reported = nil
		s.panickedAt = 0
		return
	}
	s.reported = slices.DeleteFunc(s.reported, func(r reportedError) bool {
		return r.scope > scope
	})
	if s.panickedAt > scope {
		s.panickedAt = 0
	}
}

// markReported records err as reported at scope and reports whether a
// helper nested inside scope already reported it, or an error it wraps.
// Errors reported by sibling helpers do not count.
func (s *Stack) markReported(err error, scope int) bool {
	seen := false
	kept := s.reported[:0]
	for _, r := range s.reported {
		if r.scope > scope {
			if errors.Is(err, r.err) {
				seen = true
			}
			continue
		}
		kept = append(kept, r)
	}
	s.reported = append(kept, reportedError{err: err, scope: scope})
	return seen
}

// markPanicked records a panic unwinding through scope and reports whether a
// nested helper already reported it.
func (s *Stack) markPanicked(scope int) bool {
	seen := s.panickedAt > scope
	s.panickedAt = scope
	return seen
}
