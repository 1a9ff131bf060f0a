package dispatch

import "sync"

// resultTable is the thread-safe sink mapping request index to terminal
// Outcome. It enforces at-most-one write per index and tracks logical
// completion separately from dequeues: a retried item re-enters the queue
// without counting as complete, so queue emptiness alone can never signal
// termination.
type resultTable struct {
	mu        sync.Mutex
	outcomes  map[int]Outcome
	total     int
	completed int

	// done is closed once every index has a terminal outcome.
	done chan struct{}
}

func newResultTable(total int) *resultTable {
	return &resultTable{
		outcomes: make(map[int]Outcome, total),
		total:    total,
		done:     make(chan struct{}),
	}
}

// setSuccess records a successful outcome. It reports false when the index
// already holds a terminal outcome, in which case the first write wins.
func (rt *resultTable) setSuccess(index int, text string) bool {
	return rt.set(index, Outcome{Text: text})
}

// setError records a terminal error outcome for the index.
func (rt *resultTable) setError(index int, err error) bool {
	return rt.set(index, Outcome{Err: err})
}

func (rt *resultTable) set(index int, o Outcome) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if _, exists := rt.outcomes[index]; exists {
		return false
	}
	rt.outcomes[index] = o
	rt.completed++
	if rt.completed == rt.total {
		close(rt.done)
	}
	return true
}

func (rt *resultTable) get(index int) (Outcome, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	o, ok := rt.outcomes[index]
	return o, ok
}

func (rt *resultTable) completedCount() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.completed
}
