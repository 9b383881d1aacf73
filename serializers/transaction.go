package serializers

import (
	"github.com/zoobzio/apmz"
)

// Transaction builds the wire body of a transaction.
func Transaction(tx *apmz.Transaction) map[string]any {
	out := map[string]any{
		"id":        tx.ID(),
		"trace_id":  tx.TraceID(),
		"name":      keyword(tx.Name),
		"type":      keyword(tx.Type),
		"timestamp": micros(tx.Timestamp),
		"duration":  millis(tx.Duration),
		"sampled":   tx.Sampled(),
		"span_count": map[string]any{
			"started": tx.StartedSpans(),
			"dropped": tx.DroppedSpans(),
		},
	}
	if parent := tx.ParentID(); parent != "" {
		out["parent_id"] = parent
	}
	putIf(out, "result", keyword(tx.Result))
	if ctx := contextObject(tx.Context); len(ctx) > 0 {
		out["context"] = ctx
	}
	return out
}

// contextObject builds the wire form of a transaction or error context.
func contextObject(c *apmz.Context) map[string]any {
	if c == nil {
		return nil
	}
	out := make(map[string]any)
	if len(c.Labels) > 0 {
		out["tags"] = MixedObject(c.Labels)
	}
	if len(c.Custom) > 0 {
		out["custom"] = c.Custom
	}
	if u := c.User; u != nil {
		user := make(map[string]any)
		putIf(user, "id", keyword(u.ID))
		putIf(user, "email", keyword(u.Email))
		putIf(user, "username", keyword(u.Username))
		out["user"] = user
	}
	if r := c.Request; r != nil {
		req := map[string]any{
			"method": keyword(r.Method),
			"url":    map[string]any{"full": keyword(r.URL)},
		}
		if len(r.Headers) > 0 {
			req["headers"] = stringMap(r.Headers)
		}
		out["request"] = req
	}
	if r := c.Response; r != nil {
		resp := map[string]any{"status_code": r.StatusCode}
		if len(r.Headers) > 0 {
			resp["headers"] = stringMap(r.Headers)
		}
		out["response"] = resp
	}
	return out
}

func stringMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
