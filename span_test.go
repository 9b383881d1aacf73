package apmz

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

func newTestTransaction(cfg *Config, clock clockz.Clock) *Transaction {
	tx := NewTransaction("GET /", "request", cfg, WithTransactionClock(clock))
	tx.Start()
	return tx
}

func TestShouldCapture(t *testing.T) {
	tests := []struct {
		name      string
		duration  time.Duration
		threshold time.Duration
		want      bool
	}{
		{"negative threshold always captures", 0, -1, true},
		{"negative threshold long span", time.Second, -time.Millisecond, true},
		{"zero threshold never captures", time.Hour, 0, false},
		{"zero threshold zero duration", 0, 0, false},
		{"below threshold", 4 * time.Millisecond, 5 * time.Millisecond, false},
		{"at threshold", 5 * time.Millisecond, 5 * time.Millisecond, true},
		{"above threshold", 6 * time.Millisecond, 5 * time.Millisecond, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldCapture(tt.duration, tt.threshold); got != tt.want {
				t.Errorf("ShouldCapture(%v, %v) = %v, want %v", tt.duration, tt.threshold, got, tt.want)
			}
		})
	}
}

func TestSpanDurationUsesClock(t *testing.T) {
	clock := clockz.NewFakeClock()
	tx := newTestTransaction(DefaultConfig(), clock)

	span := newSpan("SELECT", "db", tx, tx.TraceContext.Child(), 10, nil)
	span.Start()
	clock.Advance(25 * time.Millisecond)
	span.Stop()

	if span.Duration != 25*time.Millisecond {
		t.Errorf("Expected 25ms duration, got %v", span.Duration)
	}
	if !span.Stopped() {
		t.Error("Expected span to be stopped")
	}
	if span.TransactionID != tx.ID() {
		t.Errorf("Expected transaction id %s, got %s", tx.ID(), span.TransactionID)
	}
	if span.ParentID() != tx.ID() {
		t.Errorf("Expected parent id %s, got %s", tx.ID(), span.ParentID())
	}
	if span.TraceID() != tx.TraceID() {
		t.Errorf("Expected trace id %s, got %s", tx.TraceID(), span.TraceID())
	}
}

func TestSpanStacktraceCapture(t *testing.T) {
	tests := []struct {
		name      string
		threshold time.Duration
		elapsed   time.Duration
		captured  bool
	}{
		{"long span keeps frames", 5 * time.Millisecond, 10 * time.Millisecond, true},
		{"short span drops frames", 5 * time.Millisecond, time.Millisecond, false},
		{"always capture", -1, 0, true},
		{"capture disabled", 0, time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.SpanFramesMinDuration = tt.threshold
			clock := clockz.NewFakeClock()
			tx := newTestTransaction(cfg, clock)

			span := newSpan("work", "app", tx, tx.TraceContext.Child(), 20, nil)
			span.Start()
			clock.Advance(tt.elapsed)
			span.Stop()

			if got := len(span.Stacktrace) > 0; got != tt.captured {
				t.Errorf("Expected captured=%v, got %d frames", tt.captured, len(span.Stacktrace))
			}
			if len(span.Stacktrace) > 20 {
				t.Errorf("Expected at most 20 frames, got %d", len(span.Stacktrace))
			}
		})
	}
}

func TestSpanStacktraceThroughFrameCache(t *testing.T) {
	frames, err := newFrameCache(128)
	if err != nil {
		t.Fatalf("newFrameCache: %v", err)
	}
	defer frames.close()

	cfg := DefaultConfig()
	cfg.SpanFramesMinDuration = -1
	tx := newTestTransaction(cfg, clockz.NewFakeClock())

	for i := 0; i < 3; i++ {
		span := newSpan("work", "app", tx, tx.TraceContext.Child(), 10, frames)
		span.Start()
		span.Stop()
		if len(span.Stacktrace) == 0 {
			t.Fatalf("iteration %d: expected frames", i)
		}
		for _, f := range span.Stacktrace {
			if f.Function == "" && f.File == "" {
				t.Errorf("iteration %d: empty frame", i)
			}
		}
	}
}

func TestSpanOptions(t *testing.T) {
	tx := newTestTransaction(DefaultConfig(), clockz.NewFakeClock())
	dbCtx := &SpanContext{DB: &DBContext{Type: "sql", Statement: "SELECT 1"}}

	span := newSpan("SELECT 1", "db", tx, tx.TraceContext.Child(), 0, nil,
		WithSubtype("postgresql"),
		WithAction("query"),
		WithSpanContext(dbCtx),
	)

	if span.Subtype != "postgresql" || span.Action != "query" {
		t.Errorf("Expected subtype/action postgresql/query, got %s/%s", span.Subtype, span.Action)
	}
	if span.Context.DB.Statement != "SELECT 1" {
		t.Errorf("Expected statement 'SELECT 1', got %s", span.Context.DB.Statement)
	}
	if span.Kind() != KindSpan {
		t.Errorf("Expected kind span, got %s", span.Kind())
	}
}

func TestSpanSetLabel(t *testing.T) {
	tx := newTestTransaction(DefaultConfig(), clockz.NewFakeClock())
	span := newSpan("work", "app", tx, tx.TraceContext.Child(), 0, nil)

	span.SetLabel("http.status", 200)
	span.SetLabels(map[string]any{
		`a*b"c`: "x",
		"flag":  true,
		"obj":   struct{}{},
	})

	labels := span.Context.Labels
	if labels["http_status"] != 200 {
		t.Errorf("Expected sanitized key http_status=200, got %v", labels)
	}
	if labels["a_b_c"] != "x" {
		t.Errorf("Expected sanitized key a_b_c, got %v", labels)
	}
	if labels["flag"] != true {
		t.Errorf("Expected flag=true, got %v", labels["flag"])
	}
	if v, ok := labels["obj"]; !ok || v != nil {
		t.Errorf("Expected unsupported value stored as nil, got %v (present=%v)", v, ok)
	}
}

func TestConcurrentSpanLabels(t *testing.T) {
	tx := newTestTransaction(DefaultConfig(), clockz.NewFakeClock())
	span := newSpan("work", "app", tx, tx.TraceContext.Child(), 0, nil)

	var wg sync.WaitGroup
	numGoroutines := 100
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			span.SetLabel(fmt.Sprintf("key%d", n), n)
		}(i)
	}
	wg.Wait()

	if len(span.Context.Labels) != numGoroutines {
		t.Errorf("Expected %d labels, got %d", numGoroutines, len(span.Context.Labels))
	}
}
