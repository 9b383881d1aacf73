package apmz

import (
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// Span is a timed sub-operation nested under a transaction or another span.
// Type, Subtype and Action categorize it from coarse to fine, for example
// "ext", "net_http", "GET".
//
//nolint:govet // Field order follows the wire shape.
type Span struct {
	Name          string
	Type          string
	Subtype       string
	Action        string
	TransactionID string
	TraceContext  TraceContext
	Timestamp     time.Time
	Duration      time.Duration
	Context       *SpanContext
	Stacktrace    []Frame

	clock             clockz.Clock
	frames            *frameCache
	pcs               []uintptr
	framesMinDuration time.Duration
	stackLimit        int
	mu                sync.Mutex
	stopped           bool
}

// SpanContext holds what a span talked to.
type SpanContext struct {
	Labels      map[string]any
	DB          *DBContext
	HTTP        *HTTPContext
	Destination *Destination
}

// DBContext describes a database call.
type DBContext struct {
	Instance  string
	Statement string
	Type      string
	User      string
}

// HTTPContext describes an outbound HTTP call.
type HTTPContext struct {
	Method     string
	URL        string
	StatusCode int
}

// Destination identifies the remote end of a span.
type Destination struct {
	Address  string
	Resource string
	Port     int
}

// SpanOption configures a Span at construction.
type SpanOption func(*Span)

// WithSubtype sets the second categorization level.
func WithSubtype(subtype string) SpanOption {
	return func(s *Span) {
		s.Subtype = subtype
	}
}

// WithAction sets the third categorization level.
func WithAction(action string) SpanOption {
	return func(s *Span) {
		s.Action = action
	}
}

// WithSpanContext attaches db/http/destination data.
func WithSpanContext(c *SpanContext) SpanOption {
	return func(s *Span) {
		s.Context = c
	}
}

// ShouldCapture decides whether a span of the given duration keeps its
// stacktrace. A negative threshold always captures, zero never captures,
// and a positive threshold captures durations at or above it.
func ShouldCapture(duration, threshold time.Duration) bool {
	switch {
	case threshold < 0:
		return true
	case threshold == 0:
		return false
	default:
		return duration >= threshold
	}
}

// newSpan creates an unstarted span under tx whose trace context is tc.
func newSpan(name, typ string, tx *Transaction, tc TraceContext, stackLimit int, frames *frameCache, opts ...SpanOption) *Span {
	s := &Span{
		Name:              name,
		Type:              typ,
		TransactionID:     tx.ID(),
		TraceContext:      tc,
		clock:             tx.clock,
		frames:            frames,
		framesMinDuration: tx.framesMinDuration,
		stackLimit:        stackLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Kind implements Event.
func (*Span) Kind() EventKind {
	return KindSpan
}

// ID returns the span id.
func (s *Span) ID() string {
	return s.TraceContext.ID
}

// ParentID returns the id of the transaction or span this span was created
// under.
func (s *Span) ParentID() string {
	return s.TraceContext.ParentID
}

// TraceID returns the trace id.
func (s *Span) TraceID() string {
	return s.TraceContext.TraceID
}

// Start records the start timestamp and, unless capture is disabled, the
// call stack of the caller.
func (s *Span) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Timestamp = s.now()
	if s.framesMinDuration != 0 {
		s.pcs = callers(2, s.stackLimit)
	}
}

// Stop computes the duration and resolves the recorded stack when
// ShouldCapture allows it.
func (s *Span) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Duration = s.now().Sub(s.Timestamp)
	s.stopped = true
	if len(s.pcs) > 0 && ShouldCapture(s.Duration, s.framesMinDuration) {
		s.Stacktrace = s.frames.resolve(s.pcs, s.stackLimit)
	}
	s.pcs = nil
}

// Stopped reports whether Stop has run.
func (s *Span) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// SetLabel sets a span label.
func (s *Span) SetLabel(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Context == nil {
		s.Context = &SpanContext{}
	}
	if s.Context.Labels == nil {
		s.Context.Labels = make(map[string]any)
	}
	s.Context.Labels[SanitizeLabelKey(key)] = NormalizeLabelValue(value)
}

// SetLabels sets several span labels.
func (s *Span) SetLabels(labels map[string]any) {
	for key, value := range labels {
		s.SetLabel(key, value)
	}
}

func (s *Span) now() time.Time {
	if s.clock == nil {
		return time.Now()
	}
	return s.clock.Now()
}
