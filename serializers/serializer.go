// Package serializers converts finished apmz events into the intake v2 wire
// shape: one map per event, keyed by the event kind.
//
// Every string that lands in a keyword field is bounded to KeywordLength
// runes, so an oversized label or name can never make the collector reject
// a whole payload.
package serializers

import (
	"errors"
	"time"
	"unicode/utf8"
)

// KeywordLength is the maximum number of runes in a keyword field.
const KeywordLength = 1024

const ellipsis = "…"

// ErrUnrecognizedResource is returned for values outside the known event
// kinds.
var ErrUnrecognizedResource = errors.New("unrecognized resource")

// KeywordField truncates strings longer than KeywordLength runes to the
// first KeywordLength-1 runes followed by an ellipsis. Other values are
// returned unchanged.
func KeywordField(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	return truncate(s)
}

// KeywordObject applies KeywordField to every value of m.
func KeywordObject(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = KeywordField(v)
	}
	return out
}

// MixedObject truncates the string values of m and passes bools, numbers
// and everything else through.
func MixedObject(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			out[k] = truncate(val)
		default:
			out[k] = val
		}
	}
	return out
}

func truncate(s string) string {
	if len(s) <= KeywordLength || utf8.RuneCountInString(s) <= KeywordLength {
		return s
	}
	n := 0
	for i := range s {
		if n == KeywordLength-1 {
			return s[:i] + ellipsis
		}
		n++
	}
	return s
}

// keyword truncates a string field.
func keyword(s string) string {
	return truncate(s)
}

// micros is the wire form of a timestamp.
func micros(t time.Time) int64 {
	return t.UnixMicro()
}

// millis is the wire form of a duration.
func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// putIf stores v under key unless it is the zero string.
func putIf(m map[string]any, key, v string) {
	if v != "" {
		m[key] = v
	}
}
