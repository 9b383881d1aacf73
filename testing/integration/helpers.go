package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/apmz"
	"github.com/zoobzio/apmz/serializers"
	"github.com/zoobzio/clockz"
)

// ErrSimulated is returned by MockService calls that are configured to fail.
var ErrSimulated = errors.New("simulated failure")

// Node is the part of a transaction or span that describes its place in a
// trace.
type Node struct {
	ID       string
	ParentID string
	TraceID  string
	Name     string
	Kind     apmz.EventKind
	Duration time.Duration
}

func nodeOf(ev apmz.Event) (Node, bool) {
	switch e := ev.(type) {
	case *apmz.Transaction:
		return Node{ID: e.ID(), ParentID: e.ParentID(), TraceID: e.TraceID(), Name: e.Name, Kind: e.Kind(), Duration: e.Duration}, true
	case *apmz.Span:
		return Node{ID: e.ID(), ParentID: e.ParentID(), TraceID: e.TraceID(), Name: e.Name, Kind: e.Kind(), Duration: e.Duration}, true
	}
	return Node{}, false
}

// Harness is an agent with a synchronous collector and a fake clock.
// Provides synchronous collection and verification helpers.
//
//nolint:govet // Field alignment optimized for test helper readability
type Harness struct {
	Agent     *apmz.Agent
	Clock     *clockz.FakeClock
	Collector *apmz.Collector
	exported  []apmz.Event
	t         *testing.T
	mu        sync.Mutex
}

// NewHarness creates a running agent for service.
func NewHarness(t *testing.T, service string, configure ...func(*apmz.Config)) *Harness {
	t.Helper()
	cfg := apmz.DefaultConfig()
	cfg.ServiceName = service
	for _, fn := range configure {
		fn(cfg)
	}

	clock := clockz.NewFakeClock()
	collector := apmz.NewCollector(service, 10000)
	collector.SetSyncMode(true)

	agent, err := apmz.New(cfg,
		apmz.WithClock(clock),
		apmz.WithCollector(collector),
		apmz.WithSerializer(serializers.New()),
	)
	if err != nil {
		t.Fatalf("start agent: %v", err)
	}
	t.Cleanup(agent.Close)

	return &Harness{Agent: agent, Clock: clock, Collector: collector, t: t}
}

// Export returns collected events and clears the buffer. Every exported
// event is remembered for All.
func (h *Harness) Export() []apmz.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	events := h.Collector.Export()
	h.exported = append(h.exported, events...)
	return events
}

// All returns every event exported so far, including pending ones.
func (h *Harness) All() []apmz.Event {
	h.Export()
	h.mu.Lock()
	defer h.mu.Unlock()
	all := make([]apmz.Event, len(h.exported))
	copy(all, h.exported)
	return all
}

// Nodes returns the transactions and spans among All.
func (h *Harness) Nodes() []Node {
	var nodes []Node
	for _, ev := range h.All() {
		if n, ok := nodeOf(ev); ok {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// Errors returns the error events among All.
func (h *Harness) Errors() []*apmz.Error {
	var errs []*apmz.Error
	for _, ev := range h.All() {
		if e, ok := ev.(*apmz.Error); ok {
			errs = append(errs, e)
		}
	}
	return errs
}

// AssertNamed returns the node with name, failing the test when missing.
func (h *Harness) AssertNamed(name string) Node {
	for _, n := range h.Nodes() {
		if n.Name == name {
			return n
		}
	}
	h.t.Errorf("Node named '%s' not found", name)
	return Node{}
}

// AssertParentChild verifies parent-child relationship.
func (h *Harness) AssertParentChild(parentName, childName string) {
	parent := h.AssertNamed(parentName)
	child := h.AssertNamed(childName)
	if child.ParentID != parent.ID {
		h.t.Errorf("Parent-child relationship broken: %s is not parent of %s. Child ParentID=%s, Parent ID=%s",
			parentName, childName, child.ParentID, parent.ID)
	}
	if child.TraceID != parent.TraceID {
		h.t.Errorf("Trace ID mismatch: parent=%s, child=%s", parent.TraceID, child.TraceID)
	}
}

// Tree is a hierarchical view of a trace.
type Tree struct {
	Node     Node
	Children []*Tree
}

// BuildTree constructs trees from a flat node list. Nodes whose parent is
// not in the list are roots.
func BuildTree(nodes []Node) []*Tree {
	byID := make(map[string]*Tree, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = &Tree{Node: n}
	}

	var roots []*Tree
	for _, n := range nodes {
		tree := byID[n.ID]
		if parent, ok := byID[n.ParentID]; ok && n.ParentID != "" {
			parent.Children = append(parent.Children, tree)
		} else {
			roots = append(roots, tree)
		}
	}
	return roots
}

// PrintTree formats trees for debugging.
func PrintTree(trees []*Tree) string {
	var sb strings.Builder
	for _, tree := range trees {
		printTreeNode(&sb, tree, 0)
	}
	return sb.String()
}

func printTreeNode(sb *strings.Builder, node *Tree, depth int) {
	fmt.Fprintf(sb, "%s%s [%s] (%.2fms)\n",
		strings.Repeat("  ", depth), node.Node.Name, node.Node.Kind, node.Node.Duration.Seconds()*1000)
	for _, child := range node.Children {
		printTreeNode(sb, child, depth+1)
	}
}

// VerifyChain checks that the named nodes form a parent-child chain.
func VerifyChain(nodes []Node, names ...string) error {
	if len(names) < 2 {
		return fmt.Errorf("chain requires at least 2 nodes")
	}
	byName := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		if _, seen := byName[n.Name]; !seen {
			byName[n.Name] = n
		}
	}

	prev, ok := byName[names[0]]
	if !ok {
		return fmt.Errorf("node '%s' not found", names[0])
	}
	for _, name := range names[1:] {
		n, ok := byName[name]
		if !ok {
			return fmt.Errorf("node '%s' not found", name)
		}
		if n.ParentID != prev.ID {
			return fmt.Errorf("broken chain: %s is not child of %s", name, prev.Name)
		}
		prev = n
	}
	return nil
}

// MockService simulates a downstream dependency traced as an "ext" span.
type MockService struct {
	harness      *Harness
	name         string
	latency      time.Duration
	mu           sync.Mutex
	requestCount int
	failEvery    int
}

// NewMockService creates a simulated service that advances the harness
// clock by its latency on every call.
func NewMockService(name string, h *Harness) *MockService {
	return &MockService{
		harness: h,
		name:    name,
		latency: 10 * time.Millisecond,
	}
}

// SetLatency configures response time.
func (m *MockService) SetLatency(d time.Duration) {
	m.mu.Lock()
	m.latency = d
	m.mu.Unlock()
}

// FailEvery makes every nth call fail. Zero disables failures.
func (m *MockService) FailEvery(n int) {
	m.mu.Lock()
	m.failEvery = n
	m.mu.Unlock()
}

// Call simulates a service call inside a span.
func (m *MockService) Call(ctx context.Context, operation string) error {
	m.mu.Lock()
	m.requestCount++
	count := m.requestCount
	latency := m.latency
	fail := m.failEvery > 0 && count%m.failEvery == 0
	m.mu.Unlock()

	_, err := apmz.WithSpan(ctx, m.harness.Agent, fmt.Sprintf("%s.%s", m.name, operation), "ext",
		func(_ context.Context, span *apmz.Span) (struct{}, error) {
			if span != nil {
				span.SetLabel("service", m.name)
				span.SetLabel("request_id", count)
			}
			m.harness.Clock.Advance(latency)
			if fail {
				return struct{}{}, fmt.Errorf("%s: %w", m.name, ErrSimulated)
			}
			return struct{}{}, nil
		},
		apmz.WithSubtype(m.name),
		apmz.WithAction(operation),
	)
	return err
}
