package apmz

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func testSpanEvent(name string) *Span {
	return &Span{Name: name, Type: "app", TraceContext: TraceContext{ID: name}}
}

func TestNewCollector(t *testing.T) {
	collector := NewCollector("test-collector", 100)
	defer collector.close()

	if collector.Count() != 0 {
		t.Errorf("Expected 0 events initially, got %d", collector.Count())
	}
	if collector.DroppedCount() != 0 {
		t.Errorf("Expected 0 dropped events initially, got %d", collector.DroppedCount())
	}
}

func TestCollectorBasicCollection(t *testing.T) {
	collector := NewCollector("test", 10)
	collector.SetSyncMode(true)
	defer collector.close()

	collector.Collect(testSpanEvent("span-1"))

	if collector.Count() != 1 {
		t.Errorf("Expected 1 event, got %d", collector.Count())
	}

	events := collector.Export()
	if len(events) != 1 {
		t.Fatalf("Expected 1 exported event, got %d", len(events))
	}
	span, ok := events[0].(*Span)
	if !ok {
		t.Fatalf("Expected *Span, got %T", events[0])
	}
	if span.ID() != "span-1" {
		t.Errorf("Expected span ID 'span-1', got %s", span.ID())
	}

	if collector.Count() != 0 {
		t.Errorf("Expected 0 events after export, got %d", collector.Count())
	}
}

func TestCollectorKeepsArrivalOrderAcrossKinds(t *testing.T) {
	collector := NewCollector("test", 10)
	collector.SetSyncMode(true)
	defer collector.close()

	collector.Collect(testSpanEvent("span"))
	collector.Collect(&Error{ID: "err"})
	collector.Collect(&Metricset{})
	collector.Collect(&Transaction{Name: "tx"})

	want := []EventKind{KindSpan, KindError, KindMetricset, KindTransaction}
	events := collector.Export()
	if len(events) != len(want) {
		t.Fatalf("Expected %d events, got %d", len(want), len(events))
	}
	for i, ev := range events {
		if ev.Kind() != want[i] {
			t.Errorf("event %d: expected kind %s, got %s", i, want[i], ev.Kind())
		}
	}
}

func TestCollectorNilEventDropped(t *testing.T) {
	collector := NewCollector("test", 10)
	collector.SetSyncMode(true)
	defer collector.close()

	collector.Collect(nil)

	if collector.Count() != 0 {
		t.Errorf("Expected nil event to be ignored, got %d buffered", collector.Count())
	}
	if collector.DroppedCount() != 1 {
		t.Errorf("Expected nil event to be counted as dropped, got %d", collector.DroppedCount())
	}
}

func TestCollectorBackpressure(t *testing.T) {
	// Small buffer to trigger backpressure quickly.
	collector := NewCollector("test", 2)
	defer collector.close()

	for i := 0; i < 100; i++ {
		collector.Collect(testSpanEvent("span"))
	}

	time.Sleep(50 * time.Millisecond)

	collected := collector.Count()
	dropped := collector.DroppedCount()
	if collected+int(dropped) != 100 {
		t.Errorf("Expected every event collected or dropped, got collected=%d dropped=%d", collected, dropped)
	}
	t.Logf("Dropped %d events due to backpressure", dropped)
}

func TestCollectorMemoryShrink(t *testing.T) {
	collector := NewCollector("test", 1000)
	collector.SetSyncMode(true)
	defer collector.close()

	for i := 0; i < 300; i++ {
		collector.Collect(testSpanEvent("span"))
	}
	if events := collector.Export(); len(events) != 300 {
		t.Errorf("Expected 300 events in export, got %d", len(events))
	}

	for i := 0; i < 5; i++ {
		collector.Collect(testSpanEvent("small"))
	}
	if collector.Count() != 5 {
		t.Errorf("Expected 5 events after small batch, got %d", collector.Count())
	}
	if events := collector.Export(); len(events) != 5 {
		t.Errorf("Expected 5 exported events, got %d", len(events))
	}
}

func TestCollectorExportReturnsCopy(t *testing.T) {
	collector := NewCollector("test", 10)
	collector.SetSyncMode(true)
	defer collector.close()

	collector.Collect(testSpanEvent("first"))
	exported := collector.Export()
	exported[0] = testSpanEvent("overwritten")

	collector.Collect(testSpanEvent("second"))
	again := collector.Export()
	if len(again) != 1 {
		t.Fatalf("Expected 1 event in second export, got %d", len(again))
	}
	if id := again[0].(*Span).ID(); id != "second" {
		t.Errorf("Expected 'second', got %s", id)
	}
}

func TestCollectorReset(t *testing.T) {
	collector := NewCollector("test", 10)
	collector.SetSyncMode(true)
	defer collector.close()

	for i := 0; i < 5; i++ {
		collector.Collect(testSpanEvent("span"))
	}
	collector.droppedCount.Store(10)

	collector.Reset()

	if collector.Count() != 0 {
		t.Errorf("Expected 0 events after reset, got %d", collector.Count())
	}
	if collector.DroppedCount() != 0 {
		t.Errorf("Expected 0 dropped count after reset, got %d", collector.DroppedCount())
	}
}

func TestCollectorShutdown(t *testing.T) {
	collector := NewCollector("test", 10)
	collector.SetSyncMode(true)

	for i := 0; i < 3; i++ {
		collector.Collect(testSpanEvent("span"))
	}

	collector.close()

	if events := collector.Export(); len(events) != 3 {
		t.Errorf("Expected 3 events after shutdown, got %d", len(events))
	}

	collector.Collect(testSpanEvent("late"))
	if collector.Count() != 0 {
		t.Errorf("Expected closed collector to reject events, got %d", collector.Count())
	}
	if collector.DroppedCount() != 1 {
		t.Errorf("Expected late event to be counted as dropped, got %d", collector.DroppedCount())
	}

	// Closing twice is safe.
	collector.close()
}

func TestCollectorConcurrentCollection(t *testing.T) {
	collector := NewCollector("test", 100)
	defer collector.close()

	var wg sync.WaitGroup
	numGoroutines := 50
	eventsPerGoroutine := 10

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				collector.Collect(testSpanEvent("span"))
			}
		}()
	}
	wg.Wait()

	time.Sleep(100 * time.Millisecond)

	expected := numGoroutines * eventsPerGoroutine
	total := collector.Count() + int(collector.DroppedCount())
	if total != expected {
		t.Errorf("Expected %d total events (collected + dropped), got %d", expected, total)
	}
}

func TestCollectorConcurrentExport(t *testing.T) {
	collector := NewCollector("test", 100)
	collector.SetSyncMode(true)
	defer collector.close()

	for i := 0; i < 20; i++ {
		collector.Collect(testSpanEvent("span"))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var results [][]Event

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := collector.Export()
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		}()
	}
	wg.Wait()

	var total, nonEmpty int
	for _, result := range results {
		total += len(result)
		if len(result) > 0 {
			nonEmpty++
		}
	}
	if nonEmpty != 1 {
		t.Errorf("Expected exactly 1 non-empty export, got %d", nonEmpty)
	}
	if total != 20 {
		t.Errorf("Expected 20 total exported events, got %d", total)
	}
}

func TestSetSyncMode(t *testing.T) {
	collector := NewCollector("test", 10)
	defer collector.close()

	collector.Collect(testSpanEvent("async"))
	time.Sleep(10 * time.Millisecond)
	if collector.Count() != 1 {
		t.Errorf("Expected 1 event in async mode, got %d", collector.Count())
	}
	collector.Export()

	collector.SetSyncMode(true)
	collector.Collect(testSpanEvent("sync"))
	if collector.Count() != 1 {
		t.Errorf("Expected 1 event in sync mode (immediate), got %d", collector.Count())
	}
}

func TestCollectorExportDrainsIntake(t *testing.T) {
	collector := NewCollector("test", 64)
	defer collector.close()

	for round := 0; round < 20; round++ {
		for i := 0; i < 10; i++ {
			collector.Collect(testSpanEvent(fmt.Sprintf("span-%d-%d", round, i)))
		}
		events := collector.Export()
		if len(events) != 10 {
			t.Fatalf("round %d: expected 10 exported events, got %d", round, len(events))
		}
	}
	if collector.DroppedCount() != 0 {
		t.Errorf("Expected 0 dropped events, got %d", collector.DroppedCount())
	}
}

func TestCollectorCountIncludesIntake(t *testing.T) {
	collector := NewCollector("test", 8)
	defer collector.close()

	collector.Collect(testSpanEvent("a"))
	collector.Collect(testSpanEvent("b"))

	if collector.Count() != 2 {
		t.Errorf("Expected 2 events, got %d", collector.Count())
	}
}
