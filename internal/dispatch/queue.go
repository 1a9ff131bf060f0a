package dispatch

import "github.com/stellarlinkco/batchinfer/internal/generator"

// workItem is one unit of pending work. A workItem exists either in the
// queue or in the hands of exactly one worker, never both; retries is
// mutated only by the worker currently holding the item.
type workItem struct {
	index   int
	request generator.Request
	retries int
}

// workQueue is an ordered multi-producer/multi-consumer queue supporting
// re-enqueue. The channel capacity equals the number of input requests:
// each index has at most one live item at any time, so an enqueue can
// never block.
type workQueue struct {
	items chan workItem
}

func newWorkQueue(capacity int) *workQueue {
	return &workQueue{items: make(chan workItem, capacity)}
}

func (q *workQueue) enqueue(item workItem) {
	q.items <- item
}

// close stops the queue. Callers must guarantee no further enqueues; the
// dispatcher closes the queue only after every index is terminal.
func (q *workQueue) close() {
	close(q.items)
}
