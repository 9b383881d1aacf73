// Package otlp converts finished apmz transactions and spans into an
// OpenTelemetry trace export request, for collectors that speak OTLP
// instead of the intake v2 stream.
package otlp

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/zoobzio/apmz"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/proto"
)

// ScopeName identifies apmz as the instrumentation scope.
const ScopeName = "github.com/zoobzio/apmz"

// ErrInvalidID is returned when an id is not valid hex of the expected size.
var ErrInvalidID = errors.New("invalid trace or span id")

// NewExportRequest converts the transactions and spans in events into one
// request. Errors become "exception" events on the span or transaction they
// are linked to. Unmatched errors, metricsets and metadata are skipped.
func NewExportRequest(md *apmz.Metadata, events []apmz.Event) (*coltracepb.ExportTraceServiceRequest, error) {
	var spans []*tracepb.Span
	byID := make(map[string]*tracepb.Span)

	for _, ev := range events {
		var (
			span *tracepb.Span
			id   string
			err  error
		)
		switch e := ev.(type) {
		case *apmz.Transaction:
			span, err = FromTransaction(e)
			id = e.ID()
		case *apmz.Span:
			span, err = FromSpan(e)
			id = e.ID()
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
		spans = append(spans, span)
		byID[id] = span
	}

	for _, ev := range events {
		e, ok := ev.(*apmz.Error)
		if !ok || e.TraceContext == nil {
			continue
		}
		if span, ok := byID[e.TraceContext.ParentID]; ok {
			span.Events = append(span.Events, exceptionEvent(e))
			if e.Exception != nil && !e.Exception.Handled {
				span.Status = &tracepb.Status{
					Code:    tracepb.Status_STATUS_CODE_ERROR,
					Message: e.Exception.Message,
				}
			}
		}
	}

	return &coltracepb.ExportTraceServiceRequest{
		ResourceSpans: []*tracepb.ResourceSpans{{
			Resource: resource(md),
			ScopeSpans: []*tracepb.ScopeSpans{{
				Scope: &commonpb.InstrumentationScope{
					Name:    ScopeName,
					Version: apmz.Version,
				},
				Spans: spans,
			}},
		}},
	}, nil
}

// Marshal encodes req in the protobuf wire format.
func Marshal(req *coltracepb.ExportTraceServiceRequest) ([]byte, error) {
	return proto.Marshal(req)
}

// FromTransaction converts a finished transaction into a server span.
func FromTransaction(tx *apmz.Transaction) (*tracepb.Span, error) {
	span, err := newSpan(tx.TraceContext, tx.ParentID())
	if err != nil {
		return nil, err
	}
	span.Name = tx.Name
	span.Kind = tracepb.Span_SPAN_KIND_SERVER
	span.StartTimeUnixNano = uint64(tx.Timestamp.UnixNano())
	span.EndTimeUnixNano = uint64(tx.Timestamp.Add(tx.Duration).UnixNano())

	attrs := map[string]any{
		"apm.transaction.type":    tx.Type,
		"apm.transaction.result":  tx.Result,
		"apm.transaction.sampled": tx.Sampled(),
		"apm.span_count.started":  tx.StartedSpans(),
		"apm.span_count.dropped":  tx.DroppedSpans(),
	}
	if c := tx.Context; c != nil {
		for k, v := range c.Labels {
			attrs["labels."+k] = v
		}
		if c.Response != nil {
			attrs["http.response.status_code"] = c.Response.StatusCode
		}
		if c.Request != nil {
			attrs["url.full"] = c.Request.URL
			attrs["http.request.method"] = c.Request.Method
		}
		if c.User != nil {
			attrs["enduser.id"] = c.User.ID
		}
	}
	span.Attributes = attributes(attrs)
	if tx.Result == apmz.ResultError {
		span.Status = &tracepb.Status{Code: tracepb.Status_STATUS_CODE_ERROR}
	}
	return span, nil
}

// FromSpan converts a finished span. Spans with a destination are client
// spans; the rest are internal.
func FromSpan(s *apmz.Span) (*tracepb.Span, error) {
	span, err := newSpan(s.TraceContext, s.ParentID())
	if err != nil {
		return nil, err
	}
	span.Name = s.Name
	span.Kind = tracepb.Span_SPAN_KIND_INTERNAL
	span.StartTimeUnixNano = uint64(s.Timestamp.UnixNano())
	span.EndTimeUnixNano = uint64(s.Timestamp.Add(s.Duration).UnixNano())

	attrs := map[string]any{
		"apm.span.type":    s.Type,
		"apm.span.subtype": s.Subtype,
		"apm.span.action":  s.Action,
	}
	if c := s.Context; c != nil {
		for k, v := range c.Labels {
			attrs["labels."+k] = v
		}
		if db := c.DB; db != nil {
			attrs["db.system"] = db.Type
			attrs["db.statement"] = db.Statement
			attrs["db.user"] = db.User
			attrs["db.name"] = db.Instance
		}
		if h := c.HTTP; h != nil {
			attrs["http.request.method"] = h.Method
			attrs["url.full"] = h.URL
			if h.StatusCode != 0 {
				attrs["http.response.status_code"] = h.StatusCode
			}
		}
		if d := c.Destination; d != nil {
			span.Kind = tracepb.Span_SPAN_KIND_CLIENT
			attrs["server.address"] = d.Address
			if d.Port != 0 {
				attrs["server.port"] = d.Port
			}
			attrs["peer.service"] = d.Resource
		}
	}
	span.Attributes = attributes(attrs)
	return span, nil
}

func newSpan(tc apmz.TraceContext, parentID string) (*tracepb.Span, error) {
	traceID, err := decodeID(tc.TraceID, 16)
	if err != nil {
		return nil, fmt.Errorf("trace id: %w", err)
	}
	spanID, err := decodeID(tc.ID, 8)
	if err != nil {
		return nil, fmt.Errorf("span id: %w", err)
	}
	span := &tracepb.Span{
		TraceId:    traceID,
		SpanId:     spanID,
		TraceState: tc.TraceState,
	}
	if parentID != "" {
		parent, err := decodeID(parentID, 8)
		if err != nil {
			return nil, fmt.Errorf("parent id: %w", err)
		}
		span.ParentSpanId = parent
	}
	return span, nil
}

func decodeID(id string, size int) ([]byte, error) {
	b, err := hex.DecodeString(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidID, id, err)
	}
	if len(b) != size {
		return nil, fmt.Errorf("%w: %q is %d bytes, want %d", ErrInvalidID, id, len(b), size)
	}
	return b, nil
}

func exceptionEvent(e *apmz.Error) *tracepb.Span_Event {
	attrs := map[string]any{"apm.error.id": e.ID}
	if ex := e.Exception; ex != nil {
		attrs["exception.type"] = ex.Type
		attrs["exception.message"] = ex.Message
		attrs["exception.escaped"] = !ex.Handled
	}
	if l := e.Log; l != nil {
		attrs["exception.message"] = l.Message
	}
	if len(e.Backtrace) > 0 {
		f := e.Backtrace[0]
		attrs["code.function"] = f.Function
		attrs["code.filepath"] = f.File
		attrs["code.lineno"] = f.Line
	}
	return &tracepb.Span_Event{
		Name:         "exception",
		TimeUnixNano: uint64(e.Timestamp.UnixNano()),
		Attributes:   attributes(attrs),
	}
}

func resource(md *apmz.Metadata) *resourcepb.Resource {
	if md == nil {
		return &resourcepb.Resource{}
	}
	attrs := map[string]any{
		"service.name":            md.Service.Name,
		"service.version":         md.Service.Version,
		"deployment.environment":  md.Service.Environment,
		"telemetry.sdk.name":      md.Service.AgentName,
		"telemetry.sdk.version":   md.Service.AgentVersion,
		"telemetry.sdk.language":  md.Service.LanguageName,
		"process.pid":             md.Process.Pid,
		"process.runtime.version": md.Service.LanguageVersion,
		"host.name":               md.System.Hostname,
		"host.arch":               md.System.Architecture,
		"os.type":                 md.System.Platform,
	}
	for k, v := range md.Labels {
		attrs["labels."+k] = v
	}
	return &resourcepb.Resource{Attributes: attributes(attrs)}
}

// attributes converts m into key values sorted by key. Nil values and
// empty strings are left out.
func attributes(m map[string]any) []*commonpb.KeyValue {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if v == nil || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*commonpb.KeyValue, 0, len(keys))
	for _, k := range keys {
		if value := anyValue(m[k]); value != nil {
			out = append(out, &commonpb.KeyValue{Key: k, Value: value})
		}
	}
	return out
}

func anyValue(v any) *commonpb.AnyValue {
	switch val := v.(type) {
	case string:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: val}}
	case bool:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_BoolValue{BoolValue: val}}
	case int:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: int64(val)}}
	case int8:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: int64(val)}}
	case int16:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: int64(val)}}
	case int32:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: int64(val)}}
	case int64:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: val}}
	case uint:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: int64(val)}}
	case uint8:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: int64(val)}}
	case uint16:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: int64(val)}}
	case uint32:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: int64(val)}}
	case uint64:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: int64(val)}}
	case float32:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_DoubleValue{DoubleValue: float64(val)}}
	case float64:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_DoubleValue{DoubleValue: val}}
	default:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: fmt.Sprint(val)}}
	}
}
