package serializers

import (
	"fmt"

	"github.com/zoobzio/apmz"
)

// serializeFunc turns one event into its wire body.
type serializeFunc func(apmz.Event) (map[string]any, error)

// Container dispatches events to the serializer registered for their kind.
// The output of Serialize is {kind: body}.
type Container struct {
	registry map[apmz.EventKind]serializeFunc
}

// New creates a Container for every known event kind.
func New() *Container {
	return &Container{
		registry: map[apmz.EventKind]serializeFunc{
			apmz.KindTransaction: typed(Transaction),
			apmz.KindSpan:        typed(Span),
			apmz.KindError:       typed(Error),
			apmz.KindMetricset:   typed(Metricset),
			apmz.KindMetadata:    typed(Metadata),
		},
	}
}

// typed adapts a per-kind serializer to the registry, rejecting events
// whose concrete type does not match the kind they claim.
func typed[E apmz.Event](fn func(E) map[string]any) serializeFunc {
	return func(ev apmz.Event) (map[string]any, error) {
		e, ok := ev.(E)
		if !ok {
			return nil, fmt.Errorf("%w: %T claims kind %q", ErrUnrecognizedResource, ev, ev.Kind())
		}
		return fn(e), nil
	}
}

// Serialize implements apmz.Serializer.
func (c *Container) Serialize(v any) (map[string]any, error) {
	ev, ok := v.(apmz.Event)
	if !ok || isNilEvent(ev) {
		return nil, fmt.Errorf("%w: %T", ErrUnrecognizedResource, v)
	}
	fn, ok := c.registry[ev.Kind()]
	if !ok {
		return nil, fmt.Errorf("%w: kind %q", ErrUnrecognizedResource, ev.Kind())
	}
	body, err := fn(ev)
	if err != nil {
		return nil, err
	}
	return map[string]any{string(ev.Kind()): body}, nil
}

func isNilEvent(ev apmz.Event) bool {
	switch e := ev.(type) {
	case *apmz.Transaction:
		return e == nil
	case *apmz.Span:
		return e == nil
	case *apmz.Error:
		return e == nil
	case *apmz.Metricset:
		return e == nil
	case *apmz.Metadata:
		return e == nil
	}
	return false
}
