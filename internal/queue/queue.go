// Package queue implements the bounded, thread-safe ingest FIFO that
// couples producers to the pipeline consumer (spec.md §4.3).
package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"soulagent/internal/types"
)

const (
	// DefaultBatchSize is the default number of items a batch holds.
	DefaultBatchSize = 10
	// DefaultFlushInterval is how long GetBatch waits before returning
	// whatever has accumulated, even if the queue isn't at batchSize.
	DefaultFlushInterval = 60 * time.Second
	// DefaultDedupWindow is how long a content hash blocks re-enqueue.
	DefaultDedupWindow = 60 * time.Second
	// maxPending is the backpressure ceiling from spec.md §5: once
	// exceeded, Put sheds new items by returning false.
	maxPending = 10_000
)

// Queue is the ingest FIFO. Zero value is not usable; use New.
type Queue struct {
	batchSize     int
	flushInterval time.Duration
	dedupWindow   time.Duration

	mu    sync.Mutex
	cond  *sync.Cond
	items []types.IngestItem
	seen  map[string]time.Time // hash16 -> insertion instant

	now func() time.Time
}

// Option configures a Queue at construction time.
type Option func(*Queue)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.batchSize = n
		}
	}
}

// WithFlushInterval overrides DefaultFlushInterval.
func WithFlushInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.flushInterval = d
		}
	}
}

// WithDedupWindow overrides DefaultDedupWindow.
func WithDedupWindow(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.dedupWindow = d
		}
	}
}

// New constructs a Queue with the given options.
func New(opts ...Option) *Queue {
	q := &Queue{
		batchSize:     DefaultBatchSize,
		flushInterval: DefaultFlushInterval,
		dedupWindow:   DefaultDedupWindow,
		seen:          make(map[string]time.Time),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

// Put enqueues item unless it duplicates content already inside the
// dedup window, or the queue has hit its backpressure ceiling. Returns
// whether the item was actually enqueued.
func (q *Queue) Put(item types.IngestItem) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.evictExpiredLocked()

	if len(q.items) >= maxPending {
		return false
	}

	hash := contentHash(item.Text)
	if _, dup := q.seen[hash]; dup {
		return false
	}
	q.seen[hash] = q.now()
	q.items = append(q.items, item)

	if len(q.items) >= q.batchSize {
		q.cond.Signal()
	}
	return true
}

func (q *Queue) evictExpiredLocked() {
	cutoff := q.now().Add(-q.dedupWindow)
	for hash, at := range q.seen {
		if at.Before(cutoff) {
			delete(q.seen, hash)
		}
	}
}

// PendingCount returns the number of items currently queued.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// GetBatch waits for the queue to reach batchSize, then drains and
// returns up to batchSize items in enqueue order. A negative timeout
// means "use the configured flush interval" (spec.md §4.3: "timeout
// (or flushInterval if omitted)"); a zero timeout returns immediately
// with whatever is already queued, per spec.md §8's boundary case. When
// the wait elapses first, whatever is queued (fewer than batchSize) is
// returned; an empty result means nothing was queued.
func (q *Queue) GetBatch(timeout time.Duration) []types.IngestItem {
	if timeout < 0 {
		timeout = q.flushInterval
	}
	deadline := q.now().Add(timeout)

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) < q.batchSize {
		remaining := deadline.Sub(q.now())
		if remaining <= 0 {
			break
		}
		timer := time.AfterFunc(remaining, func() {
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		})
		q.cond.Wait()
		timer.Stop()
	}
	return q.drainLocked()
}

func (q *Queue) drainLocked() []types.IngestItem {
	n := len(q.items)
	if n > q.batchSize {
		n = q.batchSize
	}
	batch := make([]types.IngestItem, n)
	copy(batch, q.items[:n])
	q.items = q.items[n:]
	return batch
}
