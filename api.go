// Package apmz provides the tracing core of an application performance
// monitoring agent.
//
// apmz models a unit of work as a Transaction and its nested sub-operations
// as Spans, correlates them across process boundaries with W3C trace context
// headers, bounds their volume, and hands finished objects to a serializer
// for transport to a collector.
//
// Core Components:
//   - Agent: Public API used by instrumentation adapters.
//   - Transaction: Root timed unit of work for one trace on one service.
//   - Span: Timed sub-operation nested under a transaction or span.
//   - TraceContext: Propagation triple parsed from and written to traceparent.
//   - Stack: Per execution context record of the current transaction and spans.
//   - Collector: Buffers finished events until they are flushed.
//
// Basic Usage:
//
//	agent, err := apmz.New(apmz.DefaultConfig(),
//		apmz.WithSerializer(serializers.New()),
//	)
//	if err != nil {
//		return err
//	}
//	defer agent.Close()
//
//	ctx, tx := agent.StartTransaction(ctx, "GET /users", "request")
//	defer agent.EndTransaction(ctx, "HTTP 2xx")
//
//	span := agent.StartSpan(ctx, "SELECT users", "db", apmz.WithSubtype("postgresql"))
//	defer agent.EndSpan(ctx)
//
// Scoped helpers end the transaction or span on every exit path:
//
//	user, err := apmz.WithSpan(ctx, agent, "load user", "db",
//		func(ctx context.Context, span *apmz.Span) (*User, error) {
//			return repo.Load(ctx, id)
//		})
//
// Execution Contexts:
//
// The current transaction and span stack live in a *Stack carried by
// context.Context. StartTransaction attaches one when the context has none.
// Goroutines that run concurrently with their parent must call ForkStack so
// the two never push onto the same stack.
//
// Thread Safety:
//
// Agent and Collector are safe for concurrent use. A Stack must only be used
// by one goroutine at a time. Transaction counters are atomic; other
// Transaction and Span mutation goes through methods guarded by a mutex.
package apmz

// Version is the agent version reported in metadata.
const Version = "0.1.0"

// AgentName is the agent name reported in metadata.
const AgentName = "go-apmz"

// Propagation header names.
const (
	TraceparentHeader = "traceparent"
	TracestateHeader  = "tracestate"
)

// Results set by the scoped helpers.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// EventKind tags the closed set of objects a collector accepts and a
// serializer understands.
type EventKind string

// Known event kinds.
const (
	KindTransaction EventKind = "transaction"
	KindSpan        EventKind = "span"
	KindError       EventKind = "error"
	KindMetricset   EventKind = "metricset"
	KindMetadata    EventKind = "metadata"
)

// Event is a finished object waiting for serialization.
type Event interface {
	Kind() EventKind
}

// Serializer converts an event into its wire mapping.
type Serializer interface {
	Serialize(v any) (map[string]any, error)
}

// Payload is a serialized event that survived filtering.
type Payload struct {
	Body map[string]any
	Kind EventKind
}
