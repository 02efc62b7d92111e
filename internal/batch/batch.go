// Package batch implements the Batch Queue (spec component C9):
// ordered submission of multiple calls followed by bounded-concurrency
// execution through the Dispatcher, for bridges that declare
// BATCH_CAPABLE.
//
// Grounded on coreengine/runtime.DAGExecutor's bounded-worker-pool
// style, rebuilt here directly on golang.org/x/sync/errgroup rather
// than a hand-rolled semaphore, since the pack carries that dependency
// and a batch round-trip is exactly the fan-out/fan-in shape errgroup
// is for.
package batch

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/libpolycall/polycall-go/internal/dispatch"
	"github.com/libpolycall/polycall-go/internal/observability"
	"github.com/libpolycall/polycall-go/internal/registry"
)

// Item is one queued call awaiting batch execution.
type Item struct {
	Request dispatch.Request
}

// Outcome is one item's result after ExecuteBatch, preserving the
// submission index so callers can correlate it back to the Item they
// queued even though execution itself may run out of order.
type Outcome struct {
	Index  int
	Result *dispatch.Result
	Err    error
}

// Queue accumulates Items in submission order until ExecuteBatch or
// Drain is called.
type Queue struct {
	items []Item
}

// New creates an empty batch queue.
func New() *Queue {
	return &Queue{}
}

// QueueCall appends req to the pending batch, preserving submission
// order (spec 4.9: "queue_call preserves submission order").
func (q *Queue) QueueCall(req dispatch.Request) int {
	q.items = append(q.items, Item{Request: req})
	return len(q.items) - 1
}

// Len returns the number of items currently queued.
func (q *Queue) Len() int {
	return len(q.items)
}

// Drain removes and returns all queued items without executing them.
func (q *Queue) Drain() []Item {
	out := q.items
	q.items = nil
	return out
}

// ExecuteBatch runs every queued item through d concurrently, bounded
// by maxConcurrency, and returns one Outcome per item in submission
// order regardless of completion order. FlagBatchCapable is not
// consulted: every item is dispatched as its own call, concurrently
// with the others up to maxConcurrency.
func ExecuteBatch(ctx context.Context, d *dispatch.Dispatcher, q *Queue, maxConcurrency int) ([]Outcome, error) {
	items := q.Drain()
	if len(items) == 0 {
		return nil, nil
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	outcomes := make([]Outcome, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	languageCounts := make(map[string]int)
	for _, it := range items {
		languageCounts[it.Request.Language]++
	}
	for lang, n := range languageCounts {
		observability.RecordBatch(lang, n)
	}

	for i, it := range items {
		i, it := i, it
		it.Request.Batched = true
		g.Go(func() error {
			res, err := d.Dispatch(gctx, it.Request)
			outcomes[i] = Outcome{Index: i, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait() // per-item errors are carried in outcomes; Go funcs never return non-nil
	return outcomes, nil
}

// RequiresBatchCapability reports whether entry must be executed by a
// bridge advertising BATCH_CAPABLE before it may be safely grouped
// with other calls sharing native-side state.
func RequiresBatchCapability(entry *registry.Entry) bool {
	return entry != nil && entry.Flags.Has(registry.FlagBatchCapable)
}
