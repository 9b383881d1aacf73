package serializers

import (
	"github.com/zoobzio/apmz"
)

// Metricset builds the wire body of a metricset. Samples are written as
// {name: {"value": v}}.
func Metricset(ms *apmz.Metricset) map[string]any {
	samples := make(map[string]any, len(ms.Samples))
	for name, v := range ms.Samples {
		samples[keyword(name)] = map[string]any{"value": v}
	}

	out := map[string]any{
		"timestamp": micros(ms.Timestamp),
		"samples":   samples,
	}
	if len(ms.Labels) > 0 {
		out["tags"] = MixedObject(ms.Labels)
	}
	if ms.TransactionName != "" || ms.TransactionType != "" {
		tx := make(map[string]any)
		putIf(tx, "name", keyword(ms.TransactionName))
		putIf(tx, "type", keyword(ms.TransactionType))
		out["transaction"] = tx
	}
	if ms.SpanType != "" || ms.SpanSubtype != "" {
		span := make(map[string]any)
		putIf(span, "type", keyword(ms.SpanType))
		putIf(span, "subtype", keyword(ms.SpanSubtype))
		out["span"] = span
	}
	return out
}
