package integration

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/zoobzio/apmz"
)

// TestDeepNestingChain verifies a 100 level deep span hierarchy.
// All parent relationships must be correct.
func TestDeepNestingChain(t *testing.T) {
	h := NewHarness(t, "deep")
	agent := h.Agent

	nestingDepth := 100
	ctx, tx := agent.StartTransaction(context.Background(), "root", "request")

	names := []string{"root"}
	for i := 0; i < nestingDepth; i++ {
		name := fmt.Sprintf("level-%03d", i)
		if span := agent.StartSpan(ctx, name, "app"); span == nil {
			t.Fatalf("span %s was not recorded", name)
		}
		names = append(names, name)
	}
	for i := 0; i < nestingDepth; i++ {
		agent.EndSpan(ctx)
	}
	agent.EndTransaction(ctx, apmz.ResultSuccess)

	nodes := h.Nodes()
	if len(nodes) != nestingDepth+1 {
		t.Fatalf("Expected %d nodes, got %d", nestingDepth+1, len(nodes))
	}
	if err := VerifyChain(nodes, names...); err != nil {
		t.Errorf("chain: %v\n%s", err, PrintTree(BuildTree(nodes)))
	}
	for _, n := range nodes {
		if n.TraceID != tx.TraceID() {
			t.Errorf("node %s has trace %s, want %s", n.Name, n.TraceID, tx.TraceID())
		}
	}
	if trees := BuildTree(nodes); len(trees) != 1 {
		t.Errorf("Expected a single tree, got %d", len(trees))
	}
}

// TestSiblingsShareParent verifies that spans started after a sibling ended
// attach to the enclosing span.
func TestSiblingsShareParent(t *testing.T) {
	h := NewHarness(t, "siblings")
	db := NewMockService("postgres", h)
	cache := NewMockService("redis", h)

	_, err := apmz.WithTransaction(context.Background(), h.Agent, "GET /orders", "request",
		func(ctx context.Context, _ *apmz.Transaction) (int, error) {
			return apmz.WithSpan(ctx, h.Agent, "load orders", "app",
				func(ctx context.Context, _ *apmz.Span) (int, error) {
					if err := cache.Call(ctx, "get"); err != nil {
						return 0, err
					}
					if err := db.Call(ctx, "query"); err != nil {
						return 0, err
					}
					return 2, cache.Call(ctx, "set")
				})
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h.AssertParentChild("GET /orders", "load orders")
	h.AssertParentChild("load orders", "postgres.query")
	h.AssertParentChild("load orders", "redis.get")
	h.AssertParentChild("load orders", "redis.set")

	tx := h.AssertNamed("GET /orders")
	if tx.Duration != 30*time.Millisecond {
		t.Errorf("Expected 30ms transaction, got %v", tx.Duration)
	}
}

// TestFailingDependencyMarksTransaction verifies that an error from a
// nested span is reported once and fails the transaction.
func TestFailingDependencyMarksTransaction(t *testing.T) {
	h := NewHarness(t, "failing")
	payments := NewMockService("payments", h)
	payments.FailEvery(2)

	var tx *apmz.Transaction
	_, err := apmz.WithTransaction(context.Background(), h.Agent, "POST /checkout", "request",
		func(ctx context.Context, cur *apmz.Transaction) (struct{}, error) {
			tx = cur
			if err := payments.Call(ctx, "authorize"); err != nil {
				return struct{}{}, err
			}
			return struct{}{}, payments.Call(ctx, "capture")
		})

	if !errors.Is(err, ErrSimulated) {
		t.Fatalf("Expected simulated failure, got %v", err)
	}
	if tx.Result != apmz.ResultError {
		t.Errorf("Expected result %q, got %q", apmz.ResultError, tx.Result)
	}

	errs := h.Errors()
	if len(errs) != 1 {
		t.Fatalf("Expected 1 reported error, got %d", len(errs))
	}
	capture := h.AssertNamed("payments.capture")
	if errs[0].TraceContext.ParentID != capture.ID {
		t.Errorf("Expected error parented to the capture span %s, got %s", capture.ID, errs[0].TraceContext.ParentID)
	}
}

// TestSpanLimitAcrossTree verifies that the span limit counts every span of
// the transaction regardless of depth.
func TestSpanLimitAcrossTree(t *testing.T) {
	h := NewHarness(t, "limited", func(cfg *apmz.Config) {
		cfg.TransactionMaxSpans = 5
	})
	svc := NewMockService("svc", h)

	ctx, tx := h.Agent.StartTransaction(context.Background(), "batch", "worker")
	for i := 0; i < 4; i++ {
		h.Agent.StartSpan(ctx, fmt.Sprintf("outer-%d", i), "app")
		_ = svc.Call(ctx, "op")
		h.Agent.EndSpan(ctx)
	}
	h.Agent.EndTransaction(ctx, "")

	if tx.StartedSpans() != 5 {
		t.Errorf("Expected 5 started spans, got %d", tx.StartedSpans())
	}
	if tx.DroppedSpans() != 3 {
		t.Errorf("Expected 3 dropped spans, got %d", tx.DroppedSpans())
	}
	if nodes := h.Nodes(); len(nodes) != 6 {
		t.Errorf("Expected 6 nodes, got %d\n%s", len(nodes), PrintTree(BuildTree(nodes)))
	}
}
