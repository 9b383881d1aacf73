package serializers

import (
	"github.com/zoobzio/apmz"
)

// Span builds the wire body of a span.
func Span(s *apmz.Span) map[string]any {
	out := map[string]any{
		"id":             s.ID(),
		"trace_id":       s.TraceID(),
		"parent_id":      s.ParentID(),
		"transaction_id": s.TransactionID,
		"name":           keyword(s.Name),
		"type":           keyword(s.Type),
		"timestamp":      micros(s.Timestamp),
		"duration":       millis(s.Duration),
	}
	putIf(out, "subtype", keyword(s.Subtype))
	putIf(out, "action", keyword(s.Action))
	if len(s.Stacktrace) > 0 {
		out["stacktrace"] = stacktrace(s.Stacktrace)
	}
	if ctx := spanContext(s.Context); len(ctx) > 0 {
		out["context"] = ctx
	}
	return out
}

func spanContext(c *apmz.SpanContext) map[string]any {
	if c == nil {
		return nil
	}
	out := make(map[string]any)
	if len(c.Labels) > 0 {
		out["tags"] = MixedObject(c.Labels)
	}
	if db := c.DB; db != nil {
		m := make(map[string]any)
		putIf(m, "instance", keyword(db.Instance))
		// Statements are not keywords; the collector stores them in full.
		putIf(m, "statement", db.Statement)
		putIf(m, "type", keyword(db.Type))
		putIf(m, "user", keyword(db.User))
		out["db"] = m
	}
	if h := c.HTTP; h != nil {
		m := map[string]any{"url": h.URL}
		putIf(m, "method", keyword(h.Method))
		if h.StatusCode != 0 {
			m["status_code"] = h.StatusCode
		}
		out["http"] = m
	}
	if d := c.Destination; d != nil {
		m := make(map[string]any)
		putIf(m, "address", keyword(d.Address))
		if d.Port != 0 {
			m["port"] = d.Port
		}
		if d.Resource != "" {
			m["service"] = map[string]any{"resource": keyword(d.Resource)}
		}
		out["destination"] = m
	}
	return out
}

func stacktrace(frames []apmz.Frame) []map[string]any {
	out := make([]map[string]any, len(frames))
	for i, f := range frames {
		out[i] = map[string]any{
			"function": keyword(f.Function),
			"abs_path": f.File,
			"filename": keyword(f.Filename()),
			"lineno":   f.Line,
		}
	}
	return out
}
