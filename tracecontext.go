package apmz

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrMalformedHeader is returned when a traceparent header cannot be parsed.
// Callers should treat the request as carrying no inbound trace context.
var ErrMalformedHeader = errors.New("malformed traceparent header")

const (
	traceparentVersion byte = 0x00
	invalidVersion     byte = 0xff
	flagSampled        byte = 0x01

	traceIDLength = 32
	spanIDLength  = 16
)

// TraceContext carries the identifiers that correlate a transaction or span
// with the rest of its trace.
//
// Header serializes ParentID, so a context parsed from an inbound header
// writes back exactly what was received. Use Child to derive the context to
// send downstream.
type TraceContext struct {
	TraceID    string
	ID         string
	ParentID   string
	TraceState string
	Version    byte
	Flags      byte
}

// NewTraceContext creates the context of a trace root.
func NewTraceContext(traceID, id string, sampled bool) TraceContext {
	tc := TraceContext{
		Version: traceparentVersion,
		TraceID: traceID,
		ID:      id,
	}
	if sampled {
		tc.Flags |= flagSampled
	}
	return tc
}

// Sampled reports whether the trace is recorded.
func (tc TraceContext) Sampled() bool {
	return tc.Flags&flagSampled != 0
}

// Header returns the traceparent value {version}-{trace_id}-{parent_id}-{flags}.
// ParentID must be set for the value to parse; contexts from Child,
// ParseTraceparent and Agent.OutgoingTraceContext always have one, and
// Transaction.Traceparent mints one for a root transaction.
func (tc TraceContext) Header() string {
	return fmt.Sprintf("%02x-%s-%s-%02x", tc.Version, tc.TraceID, tc.ParentID, tc.Flags)
}

// Child derives the context of a descendant: same trace and sampling
// decision, a fresh ID, and ParentID set to this context's ID.
func (tc TraceContext) Child() TraceContext {
	return tc.childWithID(newSpanID())
}

func (tc TraceContext) childWithID(id string) TraceContext {
	return TraceContext{
		Version:    tc.Version,
		TraceID:    tc.TraceID,
		ID:         id,
		ParentID:   tc.ID,
		Flags:      tc.Flags,
		TraceState: tc.TraceState,
	}
}

// ParseTraceparent parses a traceparent header value.
// The returned context has a freshly generated ID; ParentID holds the
// sender's id. Any malformed segment fails the whole parse.
func ParseTraceparent(header string) (TraceContext, error) {
	parts := strings.Split(header, "-")
	if len(parts) != 4 {
		return TraceContext{}, fmt.Errorf("%w: expected 4 segments, got %d", ErrMalformedHeader, len(parts))
	}

	version, err := parseHexByte(parts[0])
	if err != nil {
		return TraceContext{}, fmt.Errorf("%w: version: %w", ErrMalformedHeader, err)
	}
	if version == invalidVersion {
		return TraceContext{}, fmt.Errorf("%w: version ff is invalid", ErrMalformedHeader)
	}

	if err := validateID(parts[1], traceIDLength); err != nil {
		return TraceContext{}, fmt.Errorf("%w: trace id: %w", ErrMalformedHeader, err)
	}
	if err := validateID(parts[2], spanIDLength); err != nil {
		return TraceContext{}, fmt.Errorf("%w: parent id: %w", ErrMalformedHeader, err)
	}

	flags, err := parseHexByte(parts[3])
	if err != nil {
		return TraceContext{}, fmt.Errorf("%w: flags: %w", ErrMalformedHeader, err)
	}

	return TraceContext{
		Version:  version,
		TraceID:  parts[1],
		ID:       newSpanID(),
		ParentID: parts[2],
		Flags:    flags,
	}, nil
}

// ExtractTraceContext reads traceparent and tracestate from HTTP headers.
func ExtractTraceContext(headers http.Header) (TraceContext, error) {
	traceparent := headers.Get(TraceparentHeader)
	if traceparent == "" {
		return TraceContext{}, fmt.Errorf("%w: header not present", ErrMalformedHeader)
	}
	tc, err := ParseTraceparent(traceparent)
	if err != nil {
		return TraceContext{}, err
	}
	tc.TraceState = headers.Get(TracestateHeader)
	return tc, nil
}

// InjectTraceContext writes tc into HTTP headers.
func InjectTraceContext(headers http.Header, tc TraceContext) {
	headers.Set(TraceparentHeader, tc.Header())
	if tc.TraceState != "" {
		headers.Set(TracestateHeader, tc.TraceState)
	}
}

func parseHexByte(s string) (byte, error) {
	if len(s) != 2 || !isLowerHex(s) {
		return 0, fmt.Errorf("%q is not 2 lowercase hex digits", s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func validateID(s string, length int) error {
	if len(s) != length {
		return fmt.Errorf("expected %d hex digits, got %d", length, len(s))
	}
	if !isLowerHex(s) {
		return fmt.Errorf("%q is not lowercase hex", s)
	}
	if strings.Trim(s, "0") == "" {
		return errors.New("all zero id")
	}
	return nil
}

func isLowerHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
