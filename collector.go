package apmz

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Collector buffers finished events until the agent flushes them.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field alignment optimized for readability over memory efficiency
type Collector struct {
	events       []Event
	eventsCh     chan Event
	stopCh       chan struct{}
	done         chan struct{}
	droppedCount atomic.Int64
	name         string
	mu           sync.Mutex
	closed       atomic.Bool
	syncMode     atomic.Bool // Bypass channel for synchronous collection.

	// queued counts channel sends; received counts channel events moved into
	// events, guarded by mu.
	queued   atomic.Int64
	received int64
}

// NewCollector creates a collector whose intake channel holds bufferSize
// events.
func NewCollector(name string, bufferSize int) *Collector {
	c := &Collector{
		name:     name,
		events:   make([]Event, 0, 8),
		eventsCh: make(chan Event, bufferSize),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.start()
	return c
}

func (c *Collector) start() {
	defer close(c.done)

	for {
		select {
		case <-c.stopCh:
			// Drain remaining events before shutdown.
			for {
				select {
				case ev := <-c.eventsCh:
					c.receive(ev)
				default:
					return
				}
			}
		case ev := <-c.eventsCh:
			c.receive(ev)
		}
	}
}

// close stops the intake goroutine, waiting briefly for the drain.
func (c *Collector) close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.stopCh)
	select {
	case <-c.done:
	case <-time.After(100 * time.Millisecond):
	}
}

// Collect queues a finished event. When the intake channel is full or the
// collector is closed the event is dropped and counted.
func (c *Collector) Collect(ev Event) {
	if ev == nil || c.closed.Load() {
		c.droppedCount.Add(1)
		return
	}

	if c.syncMode.Load() {
		c.buffer(ev)
		return
	}

	select {
	case c.eventsCh <- ev:
		c.queued.Add(1)
	default:
		c.droppedCount.Add(1)
	}
}

func (c *Collector) buffer(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *Collector) receive(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	c.received++
}

// drainLocked moves every event still in the intake channel into the buffer.
// Events the intake goroutine has already taken are waited for, so nothing
// queued before the call is missed. Callers hold mu.
func (c *Collector) drainLocked() {
	target := c.queued.Load()
	for {
		for drained := false; !drained; {
			select {
			case ev := <-c.eventsCh:
				c.events = append(c.events, ev)
				c.received++
			default:
				drained = true
			}
		}
		if c.received >= target {
			return
		}
		c.mu.Unlock()
		runtime.Gosched()
		c.mu.Lock()
	}
}

// Export returns the buffered events in arrival order and clears the buffer.
// Events still queued in the intake channel are included, so an event
// collected before the call is always exported by it.
func (c *Collector) Export() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.drainLocked()
	if len(c.events) == 0 {
		return nil
	}

	result := make([]Event, len(c.events))
	copy(result, c.events)

	// Shrink only when the buffer is very oversized to avoid allocation churn.
	if cap(c.events) > 256 && len(c.events) < cap(c.events)/8 {
		c.events = make([]Event, 0, cap(c.events)/4)
	} else {
		clear(c.events)
		c.events = c.events[:0]
	}

	return result
}

// Count returns the number of buffered events.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drainLocked()
	return len(c.events)
}

// DroppedCount returns the number of events dropped by backpressure or
// after close.
func (c *Collector) DroppedCount() int64 {
	return c.droppedCount.Load()
}

// SetSyncMode makes Collect buffer directly instead of going through the
// intake channel, which keeps tests deterministic.
func (c *Collector) SetSyncMode(sync bool) {
	c.syncMode.Store(sync)
}

// Reset clears buffered events and the drop counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.events)
	c.events = c.events[:0]
	c.droppedCount.Store(0)
}
