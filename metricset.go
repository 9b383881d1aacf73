package apmz

import "time"

// Metricset is a group of samples sharing a timestamp and labels.
// TransactionName/TransactionType and SpanType/SpanSubtype scope breakdown
// samples to the unit of work they were measured for.
type Metricset struct {
	Timestamp       time.Time
	Labels          map[string]any
	Samples         map[string]float64
	TransactionName string
	TransactionType string
	SpanType        string
	SpanSubtype     string
}

// Kind implements Event.
func (*Metricset) Kind() EventKind {
	return KindMetricset
}

// SpanCountMetricset summarizes the span governance of a finished
// transaction.
func SpanCountMetricset(tx *Transaction, at time.Time) *Metricset {
	return &Metricset{
		Timestamp:       at,
		TransactionName: tx.Name,
		TransactionType: tx.Type,
		Samples: map[string]float64{
			"transaction.span_count.started": float64(tx.StartedSpans()),
			"transaction.span_count.dropped": float64(tx.DroppedSpans()),
			"transaction.duration.us":        float64(tx.Duration.Microseconds()),
		},
	}
}
