package apmz

import (
	"context"
)

// WithTransaction runs fn inside a new transaction and ends the transaction
// on every exit path. fn's result and error are returned untouched.
//
// When fn returns an error or panics, the fault is reported, the
// transaction result becomes ResultError, and the error is returned or the
// panic re-raised with its original value. With a nil or stopped agent fn
// still runs, with a nil transaction.
func WithTransaction[T any](
	ctx context.Context,
	agent *Agent,
	name, typ string,
	fn func(context.Context, *Transaction) (T, error),
	opts ...TransactionOption,
) (result T, err error) {
	if !agent.Running() {
		return fn(ctx, nil)
	}

	ctx, tx := agent.StartTransaction(ctx, name, typ, opts...)
	scope := enterScope(ctx)
	defer func() {
		if r := recover(); r != nil {
			agent.observePanic(ctx, scope, r)
			scope.leave()
			agent.EndTransaction(ctx, "")
			panic(r)
		}
		if err != nil {
			agent.observeError(ctx, scope, err)
		}
		scope.leave()
		agent.EndTransaction(ctx, "")
	}()

	return fn(ctx, tx)
}

// WithSpan runs fn inside a new span and ends the span on every exit path.
// Spans nest: calling WithSpan from fn parents the inner span to this one.
//
// Faults are handled as in WithTransaction, with the error linked to the
// span. An outer WithTransaction does not report the same fault again.
// fn receives a nil span when none was recorded.
func WithSpan[T any](
	ctx context.Context,
	agent *Agent,
	name, typ string,
	fn func(context.Context, *Span) (T, error),
	opts ...SpanOption,
) (result T, err error) {
	if !agent.Running() {
		return fn(ctx, nil)
	}

	span := agent.StartSpan(ctx, name, typ, opts...)
	scope := enterScope(ctx)
	end := func() {
		scope.leave()
		if span != nil {
			agent.EndSpan(ctx)
		}
	}
	defer func() {
		if r := recover(); r != nil {
			agent.observePanic(ctx, scope, r)
			end()
			panic(r)
		}
		if err != nil {
			agent.observeError(ctx, scope, err)
		}
		end()
	}()

	return fn(ctx, span)
}

// scopeFrame is one running scoped helper on a stack. Without a stack no
// reports are deduplicated.
type scopeFrame struct {
	stack *Stack
	level int
}

func enterScope(ctx context.Context) scopeFrame {
	stack := StackFromContext(ctx)
	if stack == nil {
		return scopeFrame{}
	}
	return scopeFrame{stack: stack, level: stack.enterScope()}
}

func (f scopeFrame) leave() {
	if f.stack != nil {
		f.stack.leaveScope(f.level)
	}
}

// observeError reports err unless a helper nested inside scope already
// reported it, and marks the current transaction failed.
func (a *Agent) observeError(ctx context.Context, scope scopeFrame, err error) {
	defer a.recoverBookkeeping("observe error")

	if scope.stack != nil && scope.stack.markReported(err, scope.level) {
		return
	}
	a.Report(ctx, err, false)
	if tx := CurrentTransaction(ctx); tx != nil {
		tx.fail()
	}
}

// observePanic reports a recovered panic unless a nested helper already
// reported it, and marks the current transaction failed.
func (a *Agent) observePanic(ctx context.Context, scope scopeFrame, v any) {
	defer a.recoverBookkeeping("observe panic")

	if scope.stack != nil && scope.stack.markPanicked(scope.level) {
		return
	}
	a.reportPanic(ctx, v)
	if tx := CurrentTransaction(ctx); tx != nil {
		tx.fail()
	}
}
