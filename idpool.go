package apmz

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"time"
)

// IDPool hands out pre-generated hex ids to amortize crypto/rand overhead
// on the span creation path.
type IDPool struct {
	generate func() string
	ids      chan string
	stop     chan struct{}
	once     sync.Once
}

// NewIDPool creates a pool holding up to capacity ids made by generate.
func NewIDPool(capacity int, generate func() string) *IDPool {
	p := &IDPool{
		generate: generate,
		ids:      make(chan string, capacity),
		stop:     make(chan struct{}),
	}
	go p.fill()
	return p
}

// Next returns a pooled id, or generates one directly when the pool is
// drained.
func (p *IDPool) Next() string {
	select {
	case id := <-p.ids:
		return id
	default:
		return p.generate()
	}
}

func (p *IDPool) fill() {
	for {
		select {
		case p.ids <- p.generate():
		case <-p.stop:
			return
		}
	}
}

// Close stops the background fill. Next keeps working after Close.
func (p *IDPool) Close() {
	p.once.Do(func() {
		close(p.stop)
	})
}

// randomHex returns n random bytes hex encoded. When crypto/rand fails the
// id is derived from the supplied time so that it stays unique per call
// site.
func randomHex(n int, now func() time.Time) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		binary.BigEndian.PutUint64(b[n-8:], uint64(now().UnixNano()))
	}
	return hex.EncodeToString(b)
}

func newTraceID() string {
	return randomHex(traceIDLength/2, time.Now)
}

func newSpanID() string {
	return randomHex(spanIDLength/2, time.Now)
}
