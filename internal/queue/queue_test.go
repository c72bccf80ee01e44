package queue

import (
	"fmt"
	"testing"
	"time"

	"soulagent/internal/types"
)

func item(text string) types.IngestItem {
	return types.IngestItem{Text: text, Source: types.SourceNote, Timestamp: time.Now()}
}

func TestDedupWithinWindow(t *testing.T) {
	q := New(WithBatchSize(10), WithDedupWindow(time.Minute))

	if ok := q.Put(item("hello")); !ok {
		t.Fatal("expected first Put to succeed")
	}
	if ok := q.Put(item("hello")); ok {
		t.Fatal("expected duplicate Put to be rejected")
	}
	if got := q.PendingCount(); got != 1 {
		t.Fatalf("expected pending count 1, got %d", got)
	}
}

func TestBatchByCount(t *testing.T) {
	q := New(WithBatchSize(10), WithFlushInterval(2*time.Second))
	for i := 0; i < 10; i++ {
		if !q.Put(item(fmt.Sprintf("item-%d", i))) {
			t.Fatalf("Put %d rejected", i)
		}
	}
	batch := q.GetBatch(2 * time.Second)
	if len(batch) != 10 {
		t.Fatalf("expected 10 items, got %d", len(batch))
	}
	for i, it := range batch {
		if it.Text != fmt.Sprintf("item-%d", i) {
			t.Fatalf("expected enqueue order preserved, got %v", batch)
		}
	}
}

func TestBatchByTimeout(t *testing.T) {
	q := New(WithBatchSize(10), WithFlushInterval(300*time.Millisecond))
	q.Put(item("only one"))
	batch := q.GetBatch(500 * time.Millisecond)
	if len(batch) != 1 {
		t.Fatalf("expected 1 item, got %d", len(batch))
	}
}

func TestGetBatchZeroTimeoutReturnsImmediately(t *testing.T) {
	q := New(WithBatchSize(10))
	start := time.Now()
	batch := q.GetBatch(0)
	if len(batch) != 0 {
		t.Fatalf("expected empty batch, got %d items", len(batch))
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("expected near-immediate return, took %v", elapsed)
	}
}

func TestPendingCountBoundaryTransitionsToReady(t *testing.T) {
	q := New(WithBatchSize(3), WithFlushInterval(2*time.Second))
	q.Put(item("a"))
	q.Put(item("b"))
	if q.PendingCount() != 2 {
		t.Fatalf("expected pending count 2, got %d", q.PendingCount())
	}

	done := make(chan []types.IngestItem, 1)
	go func() { done <- q.GetBatch(2 * time.Second) }()

	time.Sleep(20 * time.Millisecond) // let GetBatch start waiting
	q.Put(item("c"))                  // pendingCount reaches batchSize, should signal ready

	select {
	case batch := <-done:
		if len(batch) != 3 {
			t.Fatalf("expected 3 items once ready, got %d", len(batch))
		}
	case <-time.After(time.Second):
		t.Fatal("GetBatch did not return after reaching batchSize")
	}
}

func TestDistinctTextsAllAccepted(t *testing.T) {
	// Sanity check that Put accepts distinct texts without dedup collisions,
	// exercising invariant 2 from spec.md §8: distinct hashes all survive.
	q := New(WithBatchSize(100), WithDedupWindow(time.Minute))
	texts := []string{"a", "b", "c", "d", "e"}
	for _, text := range texts {
		if !q.Put(item(text)) {
			t.Fatalf("expected %q to be accepted as distinct", text)
		}
	}
	if got := q.PendingCount(); got != len(texts) {
		t.Fatalf("expected %d pending, got %d", len(texts), got)
	}
}

func TestDedupWindowExpiry(t *testing.T) {
	q := New(WithBatchSize(10), WithDedupWindow(30*time.Millisecond))
	q.Put(item("hello"))
	time.Sleep(50 * time.Millisecond)
	if ok := q.Put(item("hello")); !ok {
		t.Fatal("expected Put to succeed once dedup window has elapsed")
	}
}

func TestBackpressureShedsAboveCeiling(t *testing.T) {
	q := New(WithBatchSize(1))
	q.items = make([]types.IngestItem, maxPending)
	if ok := q.Put(item("overflow")); ok {
		t.Fatal("expected Put to be rejected above the backpressure ceiling")
	}
}
