package serializers

import (
	"github.com/zoobzio/apmz"
)

// Error builds the wire body of an error or message.
func Error(e *apmz.Error) map[string]any {
	out := map[string]any{
		"id":        e.ID,
		"timestamp": micros(e.Timestamp),
	}
	putIf(out, "culprit", keyword(e.Culprit))
	if tc := e.TraceContext; tc != nil {
		out["trace_id"] = tc.TraceID
		out["parent_id"] = tc.ParentID
		out["transaction_id"] = e.TransactionID
		out["transaction"] = map[string]any{"sampled": tc.Sampled()}
	}
	if ex := e.Exception; ex != nil {
		exception := map[string]any{
			"message": ex.Message,
			"type":    keyword(ex.Type),
			"handled": ex.Handled,
		}
		if len(e.Backtrace) > 0 {
			exception["stacktrace"] = stacktrace(e.Backtrace)
		}
		out["exception"] = exception
	}
	if l := e.Log; l != nil {
		log := map[string]any{"message": l.Message}
		if e.Exception == nil && len(e.Backtrace) > 0 {
			log["stacktrace"] = stacktrace(e.Backtrace)
		}
		out["log"] = log
	}
	if ctx := contextObject(e.Context); len(ctx) > 0 {
		out["context"] = ctx
	}
	return out
}
