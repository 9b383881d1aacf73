package apmz

import (
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
)

// DefaultTransactionType is used when a transaction is started without a type.
const DefaultTransactionType = "custom"

// Transaction is the root timed unit of work for one trace on one service.
//
//nolint:govet // Field order follows the wire shape.
type Transaction struct {
	Name         string
	Type         string
	Result       string
	Timestamp    time.Time
	Duration     time.Duration
	TraceContext TraceContext
	Context      *Context

	clock             clockz.Clock
	maxSpans          int
	framesMinDuration time.Duration
	startedSpans      atomic.Int64
	droppedSpans      atomic.Int64
	mu                sync.Mutex
	stopped           bool
	failed            bool
}

// TransactionOption configures a Transaction at construction.
type TransactionOption func(*Transaction)

// WithTraceContext continues an existing trace, typically one parsed from
// an inbound traceparent header.
func WithTraceContext(tc TraceContext) TransactionOption {
	return func(t *Transaction) {
		t.TraceContext = tc
	}
}

// WithContext seeds the transaction context. Its labels are merged over the
// configured default labels.
func WithContext(c *Context) TransactionOption {
	return func(t *Transaction) {
		if c == nil {
			return
		}
		labels := t.Context.Labels
		t.Context = c.clone()
		if len(labels) > 0 {
			merged := maps.Clone(labels)
			maps.Copy(merged, t.Context.Labels)
			t.Context.Labels = merged
		}
	}
}

// WithTransactionClock sets the clock used for timestamps and durations.
func WithTransactionClock(clock clockz.Clock) TransactionOption {
	return func(t *Transaction) {
		t.clock = clock
	}
}

// NewTransaction creates an unstarted transaction. Without WithTraceContext
// it becomes the sampled root of a new trace.
func NewTransaction(name, typ string, cfg *Config, opts ...TransactionOption) *Transaction {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if typ == "" {
		typ = DefaultTransactionType
	}

	t := &Transaction{
		Name:              name,
		Type:              typ,
		TraceContext:      NewTraceContext(newTraceID(), newSpanID(), true),
		Context:           &Context{},
		clock:             clockz.RealClock,
		maxSpans:          cfg.TransactionMaxSpans,
		framesMinDuration: cfg.SpanFramesMinDuration,
	}
	for key, value := range cfg.DefaultLabels {
		t.Context.setLabel(key, value)
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Kind implements Event.
func (*Transaction) Kind() EventKind {
	return KindTransaction
}

// ID returns the transaction id.
func (t *Transaction) ID() string {
	return t.TraceContext.ID
}

// TraceID returns the id shared by every participant of the trace.
func (t *Transaction) TraceID() string {
	return t.TraceContext.TraceID
}

// ParentID returns the parent id without minting one.
func (t *Transaction) ParentID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.TraceContext.ParentID
}

// Sampled reports whether spans are recorded for this transaction.
func (t *Transaction) Sampled() bool {
	return t.TraceContext.Sampled()
}

// Start records the start timestamp. A second call overwrites it.
func (t *Transaction) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Timestamp = t.now()
}

// Stop computes the duration from the start timestamp and marks the
// transaction stopped. Calling it again recomputes the duration.
func (t *Transaction) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *Transaction) stopLocked() {
	t.Duration = t.now().Sub(t.Timestamp)
	t.stopped = true
}

// Done sets the result and stops the transaction unless it already stopped.
func (t *Transaction) Done(result string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Result = result
	if !t.stopped {
		t.stopLocked()
	}
}

// Stopped reports whether Stop or Done has run.
func (t *Transaction) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// SetResult sets the outcome code.
func (t *Transaction) SetResult(result string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Result = result
}

// fail sets the error result the first time it is called and reports
// whether it did.
func (t *Transaction) fail() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failed {
		return false
	}
	t.failed = true
	t.Result = ResultError
	return true
}

// IncStartedSpans counts a recorded span.
func (t *Transaction) IncStartedSpans() {
	t.startedSpans.Add(1)
}

// IncDroppedSpans counts a span that was not recorded.
func (t *Transaction) IncDroppedSpans() {
	t.droppedSpans.Add(1)
}

// StartedSpans returns the number of recorded spans.
func (t *Transaction) StartedSpans() int64 {
	return t.startedSpans.Load()
}

// DroppedSpans returns the number of spans dropped by the max span limit.
func (t *Transaction) DroppedSpans() int64 {
	return t.droppedSpans.Load()
}

// MaxSpansReached reports whether no further span may be recorded.
// A negative limit means unlimited; zero records no spans.
func (t *Transaction) MaxSpansReached() bool {
	return t.maxSpans >= 0 && t.StartedSpans() >= int64(t.maxSpans)
}

// EnsureParentID returns the parent id, minting and storing one first if
// the transaction has none. Every call returns the same id.
func (t *Transaction) EnsureParentID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.TraceContext.ParentID == "" {
		t.TraceContext.ParentID = newSpanID()
	}
	return t.TraceContext.ParentID
}

// Traceparent returns the transaction's trace context as a traceparent
// value. A root transaction gets its parent id from EnsureParentID, so the
// value always parses and is the same on every call.
func (t *Transaction) Traceparent() string {
	t.EnsureParentID()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.TraceContext.Header()
}

// AddResponse attaches HTTP response metadata.
func (t *Transaction) AddResponse(statusCode int, headers map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Context.Response = &Response{
		StatusCode: statusCode,
		Headers:    maps.Clone(headers),
	}
}

// AddRequest attaches HTTP request metadata.
func (t *Transaction) AddRequest(method, url string, headers map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Context.Request = &Request{
		Method:  method,
		URL:     url,
		Headers: maps.Clone(headers),
	}
}

// SetLabel sets a label. Keys are sanitized and values outside
// string/bool/number are stored as nil.
func (t *Transaction) SetLabel(key string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Context.setLabel(key, value)
}

// SetCustom merges arbitrary custom context.
func (t *Transaction) SetCustom(custom map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Context.Custom == nil {
		t.Context.Custom = make(map[string]any, len(custom))
	}
	maps.Copy(t.Context.Custom, custom)
}

// SetUser sets the end user.
func (t *Transaction) SetUser(user User) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Context.User = &user
}

func (t *Transaction) contextSnapshot() *Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Context.clone()
}

func (t *Transaction) now() time.Time {
	if t.clock == nil {
		return time.Now()
	}
	return t.clock.Now()
}
