package apmz

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// ErrNoSerializer is returned by Flush when the agent has no serializer.
var ErrNoSerializer = errors.New("agent has no serializer")

// Agent is the public API instrumentation adapters call.
// Safe for concurrent use by multiple goroutines; per execution context
// state lives in the Stack carried by context.Context.
//
// Methods on a nil or closed Agent are no-ops, so code instrumented with an
// absent agent behaves exactly as uninstrumented code.
//
//nolint:govet // Field order optimized for functionality over memory
type Agent struct {
	config      *Config
	logger      *zap.Logger
	clock       clockz.Clock
	collector   *Collector
	serializer  Serializer
	metrics     *Metrics
	frames      *frameCache
	traceIDs    *IDPool
	spanIDs     *IDPool
	filters     []filterEntry
	filtersLock sync.RWMutex
	closed      atomic.Bool
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger used for the agent's own diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Agent) {
		a.logger = logger
	}
}

// WithClock sets the clock used for timestamps and durations.
// Enables clock injection for deterministic testing.
func WithClock(clock clockz.Clock) Option {
	return func(a *Agent) {
		a.clock = clock
	}
}

// WithSerializer sets the serializer Flush uses.
func WithSerializer(s Serializer) Option {
	return func(a *Agent) {
		a.serializer = s
	}
}

// WithMetrics enables Prometheus self metrics.
func WithMetrics(m *Metrics) Option {
	return func(a *Agent) {
		a.metrics = m
	}
}

// WithCollector replaces the default collector.
func WithCollector(c *Collector) Option {
	return func(a *Agent) {
		a.collector = c
	}
}

// New creates a running agent.
func New(cfg *Config, opts ...Option) (*Agent, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Agent{
		config: cfg,
		logger: zap.NewNop(),
		clock:  clockz.RealClock,
	}
	for _, opt := range opts {
		opt(a)
	}

	frames, err := newFrameCache(cfg.FrameCacheSize)
	if err != nil {
		return nil, fmt.Errorf("frame cache: %w", err)
	}
	a.frames = frames

	if a.collector == nil {
		a.collector = NewCollector("apmz", cfg.CollectorBufferSize)
	}
	a.metrics.observeCollector(a.collector)

	// Pool size based on number of CPUs for optimal contention balance.
	poolSize := runtime.NumCPU() * 100
	a.traceIDs = NewIDPool(poolSize, func() string {
		return randomHex(traceIDLength/2, a.clock.Now)
	})
	a.spanIDs = NewIDPool(poolSize, func() string {
		return randomHex(spanIDLength/2, a.clock.Now)
	})

	a.logger.Debug("agent started",
		zap.String("service", cfg.ServiceName),
		zap.Int("transaction_max_spans", cfg.TransactionMaxSpans),
		zap.Float64("transaction_sample_rate", cfg.TransactionSampleRate),
	)
	return a, nil
}

// Running reports whether the agent records data.
func (a *Agent) Running() bool {
	return a != nil && !a.closed.Load() && a.config.Enabled
}

// Config returns the agent configuration.
func (a *Agent) Config() *Config {
	return a.config
}

// Collector returns the collector finished events are handed to.
func (a *Agent) Collector() *Collector {
	return a.collector
}

// StartTransaction starts a transaction and makes it current on the stack
// of ctx, attaching a new stack when ctx has none. The returned context must
// be used for the spans and the end call of this transaction.
//
// A transaction already current on the stack is replaced and discarded,
// never ended or collected; the replacement is logged at warn level.
func (a *Agent) StartTransaction(ctx context.Context, name, typ string, opts ...TransactionOption) (context.Context, *Transaction) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !a.Running() {
		return ctx, nil
	}

	stack := StackFromContext(ctx)
	if stack == nil {
		ctx = ContextWithStack(ctx)
		stack = StackFromContext(ctx)
	}

	root := NewTraceContext(a.traceIDs.Next(), a.spanIDs.Next(), a.sample())
	base := []TransactionOption{WithTraceContext(root), WithTransactionClock(a.clock)}
	tx := NewTransaction(name, typ, a.config, append(base, opts...)...)
	tx.Start()

	if prev := stack.setTransaction(tx); prev != nil {
		a.logger.Warn("replacing current transaction",
			zap.String("transaction.id", prev.ID()),
			zap.String("transaction.name", prev.Name),
			zap.String("replacement.name", name),
		)
		a.metrics.transactionReplaced()
	}
	return ctx, tx
}

// EndTransaction stops the current transaction, sets result when it is not
// empty, clears it from the stack and collects it. It returns the ended
// transaction, or nil when none was current.
func (a *Agent) EndTransaction(ctx context.Context, result string) *Transaction {
	if a == nil {
		return nil
	}
	stack := StackFromContext(ctx)
	tx := stack.Transaction()
	if tx == nil {
		return nil
	}

	if result != "" {
		tx.Done(result)
	} else if !tx.Stopped() {
		tx.Stop()
	}
	if open := stack.Depth(); open > 0 {
		a.logger.Debug("ending transaction with open spans",
			zap.String("transaction.id", tx.ID()),
			zap.Int("open_spans", open),
		)
	}
	stack.setTransaction(nil)

	a.metrics.transactionEnded(tx.Sampled())
	a.collector.Collect(tx)
	return tx
}

// StartSpan starts a span under the innermost active span, or under the
// current transaction when no span is active, and pushes it on the stack.
//
// It returns nil when there is no current transaction, when the transaction
// is not sampled, or when the transaction reached its span limit; in the
// last case the transaction's dropped span count is incremented.
func (a *Agent) StartSpan(ctx context.Context, name, typ string, opts ...SpanOption) *Span {
	if !a.Running() {
		return nil
	}
	stack := StackFromContext(ctx)
	tx := stack.Transaction()
	if tx == nil || !tx.Sampled() {
		return nil
	}

	if tx.MaxSpansReached() {
		tx.IncDroppedSpans()
		a.metrics.spanDropped()
		a.logger.Debug("span dropped",
			zap.String("transaction.id", tx.ID()),
			zap.String("span.name", name),
			zap.Int64("dropped", tx.DroppedSpans()),
		)
		return nil
	}

	tc := stack.parent().childWithID(a.spanIDs.Next())
	span := newSpan(name, typ, tx, tc, a.config.StackTraceLimit, a.frames, opts...)
	span.Start()
	stack.push(span)
	tx.IncStartedSpans()
	a.metrics.spanStarted()
	return span
}

// EndSpan pops and stops the innermost span and collects it.
// It returns the ended span, or nil when no span was active.
func (a *Agent) EndSpan(ctx context.Context) *Span {
	if a == nil {
		return nil
	}
	stack := StackFromContext(ctx)
	if stack == nil {
		return nil
	}
	span := stack.pop()
	if span == nil {
		return nil
	}
	span.Stop()
	a.collector.Collect(span)
	return span
}

// SetLabel sets a label on the current transaction.
func (a *Agent) SetLabel(ctx context.Context, key string, value any) {
	if tx := CurrentTransaction(ctx); a.Running() && tx != nil {
		tx.SetLabel(key, value)
	}
}

// SetCustomContext merges custom data into the current transaction.
func (a *Agent) SetCustomContext(ctx context.Context, custom map[string]any) {
	if tx := CurrentTransaction(ctx); a.Running() && tx != nil {
		tx.SetCustom(custom)
	}
}

// SetUser sets the end user of the current transaction.
func (a *Agent) SetUser(ctx context.Context, user User) {
	if tx := CurrentTransaction(ctx); a.Running() && tx != nil {
		tx.SetUser(user)
	}
}

// Report captures err, links it to the current transaction and span, and
// collects it. Reporting never panics into the caller.
func (a *Agent) Report(ctx context.Context, err error, handled bool) *Error {
	if !a.Running() || err == nil {
		return nil
	}
	defer a.recoverBookkeeping("report")

	e := NewError(err, handled)
	pcs := errorStack(err)
	if pcs == nil {
		pcs = callers(1, a.config.StackTraceLimit)
	}
	return a.collectError(ctx, e, pcs)
}

// ReportMessage captures a message as an error event.
func (a *Agent) ReportMessage(ctx context.Context, message string) *Error {
	if !a.Running() {
		return nil
	}
	defer a.recoverBookkeeping("report message")

	e := NewMessageError(message)
	return a.collectError(ctx, e, callers(1, a.config.StackTraceLimit))
}

func (a *Agent) reportPanic(ctx context.Context, v any) *Error {
	if !a.Running() {
		return nil
	}
	defer a.recoverBookkeeping("report panic")

	e := NewPanicError(v)
	var pcs []uintptr
	if err, ok := v.(error); ok {
		pcs = errorStack(err)
	}
	if pcs == nil {
		// Start at the function that panicked, above the recover in the
		// scoped helper and runtime.gopanic.
		pcs = callers(4, a.config.StackTraceLimit)
	}
	return a.collectError(ctx, e, pcs)
}

func (a *Agent) collectError(ctx context.Context, e *Error, pcs []uintptr) *Error {
	stack := StackFromContext(ctx)
	e.Timestamp = a.clock.Now()
	e.link(stack.Transaction(), stack.Span())
	e.setBacktrace(a.frames.resolve(pcs, a.config.StackTraceLimit))

	a.metrics.errorReported()
	a.collector.Collect(e)
	return e
}

// ReportMetricset collects a metricset for the next flush.
func (a *Agent) ReportMetricset(ms *Metricset) {
	if a.Running() && ms != nil {
		a.collector.Collect(ms)
	}
}

// OutgoingTraceContext returns the trace context to propagate downstream:
// a child of the current span, or of the current transaction when no span
// is active. Its Header is the traceparent value to send.
func (a *Agent) OutgoingTraceContext(ctx context.Context) (TraceContext, bool) {
	if !a.Running() {
		return TraceContext{}, false
	}
	stack := StackFromContext(ctx)
	if stack.Transaction() == nil {
		return TraceContext{}, false
	}
	return stack.parent().childWithID(a.spanIDs.Next()), true
}

// Metadata describes this agent's service and process.
func (a *Agent) Metadata() *Metadata {
	return NewMetadata(a.config)
}

// Flush drains the collector, serializes every event and runs the filters.
// Events the serializer rejects are logged and skipped.
func (a *Agent) Flush() ([]Payload, error) {
	if a == nil {
		return nil, nil
	}
	if a.serializer == nil {
		return nil, ErrNoSerializer
	}

	events := a.collector.Export()
	payloads := make([]Payload, 0, len(events))
	for _, ev := range events {
		body, err := a.serializer.Serialize(ev)
		if err != nil {
			a.logger.Error("event not serialized",
				zap.String("kind", string(ev.Kind())),
				zap.Error(err),
			)
			a.metrics.eventRejected()
			continue
		}
		body, keep := a.applyFilters(ev.Kind(), body)
		if !keep {
			a.metrics.eventFiltered()
			continue
		}
		payloads = append(payloads, Payload{Kind: ev.Kind(), Body: body})
	}
	return payloads, nil
}

// Close stops the agent. Later calls record nothing.
func (a *Agent) Close() {
	if a == nil || !a.closed.CompareAndSwap(false, true) {
		return
	}

	a.filtersLock.Lock()
	a.filters = nil
	a.filtersLock.Unlock()

	a.collector.close()
	a.traceIDs.Close()
	a.spanIDs.Close()
	a.frames.close()
	a.logger.Debug("agent stopped")
}

// LogIDs returns the ids of the current transaction, span and trace in
// key=value form for log correlation, or "" without a transaction.
func LogIDs(ctx context.Context) string {
	stack := StackFromContext(ctx)
	tx := stack.Transaction()
	if tx == nil {
		return ""
	}
	ids := []string{"transaction.id=" + tx.ID()}
	if span := stack.Span(); span != nil {
		ids = append(ids, "span.id="+span.ID())
	}
	ids = append(ids, "trace.id="+tx.TraceID())
	return strings.Join(ids, " ")
}

// LogFields returns the same ids as LogIDs as zap fields.
func LogFields(ctx context.Context) []zap.Field {
	stack := StackFromContext(ctx)
	tx := stack.Transaction()
	if tx == nil {
		return nil
	}
	fields := []zap.Field{zap.String("transaction.id", tx.ID())}
	if span := stack.Span(); span != nil {
		fields = append(fields, zap.String("span.id", span.ID()))
	}
	return append(fields, zap.String("trace.id", tx.TraceID()))
}

func (a *Agent) sample() bool {
	rate := a.config.TransactionSampleRate
	switch {
	case rate >= 1:
		return true
	case rate <= 0:
		return false
	default:
		return rand.Float64() < rate
	}
}

// recoverBookkeeping keeps faults in the agent's own code away from the
// host program.
func (a *Agent) recoverBookkeeping(op string) {
	if r := recover(); r != nil {
		a.logger.Error("agent bookkeeping failed", zap.String("op", op), zap.Any("panic", r))
	}
}
