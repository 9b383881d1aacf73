package apmz

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrNilFilter is returned when a filter is registered without a callback.
var ErrNilFilter = errors.New("filter callback is required")

// FilterOptions describes the payload a filter is invoked on.
type FilterOptions struct {
	Kind EventKind
}

// Filter inspects or rewrites a serialized payload before it leaves the
// agent. Returning nil drops the payload.
type Filter func(payload map[string]any, opts FilterOptions) map[string]any

type filterEntry struct {
	filter Filter
	key    string
}

// AddFilter registers f under key, replacing any filter with the same key.
// Filters run in registration order.
func (a *Agent) AddFilter(key string, f Filter) error {
	if f == nil {
		return fmt.Errorf("%w: %q", ErrNilFilter, key)
	}

	a.filtersLock.Lock()
	defer a.filtersLock.Unlock()

	for i, entry := range a.filters {
		if entry.key == key {
			a.filters[i].filter = f
			return nil
		}
	}
	a.filters = append(a.filters, filterEntry{key: key, filter: f})
	return nil
}

// RemoveFilter unregisters the filter stored under key.
func (a *Agent) RemoveFilter(key string) {
	a.filtersLock.Lock()
	defer a.filtersLock.Unlock()

	// Preserve order
	for i, entry := range a.filters {
		if entry.key == key {
			copy(a.filters[i:], a.filters[i+1:])
			a.filters = a.filters[:len(a.filters)-1]
			return
		}
	}
}

// applyFilters runs every filter over payload. It returns false when a
// filter dropped the payload. A panicking filter is logged and skipped.
func (a *Agent) applyFilters(kind EventKind, payload map[string]any) (map[string]any, bool) {
	a.filtersLock.RLock()
	filters := make([]filterEntry, len(a.filters))
	copy(filters, a.filters)
	a.filtersLock.RUnlock()

	opts := FilterOptions{Kind: kind}
	for _, entry := range filters {
		out, ok := a.safeFilter(entry, payload, opts)
		if !ok {
			continue
		}
		if out == nil {
			return nil, false
		}
		payload = out
	}
	return payload, true
}

func (a *Agent) safeFilter(entry filterEntry, payload map[string]any, opts FilterOptions) (out map[string]any, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("filter panicked",
				zap.String("filter", entry.key),
				zap.String("kind", string(opts.Kind)),
				zap.Any("panic", r),
			)
			a.metrics.filterFailed()
			out, ok = nil, false
		}
	}()
	return entry.filter(payload, opts), true
}
