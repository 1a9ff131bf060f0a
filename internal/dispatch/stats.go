package dispatch

import (
	"sync"
	"time"
)

// Stats aggregates per-run counters. It is shared across workers and
// mutated under its own lock on every terminal or retry event; it exists
// for observability only and plays no part in correctness.
type Stats struct {
	mu           sync.Mutex
	total        int
	success      int
	fail         int
	retries      int
	totalLatency time.Duration
}

// Snapshot is a point-in-time copy of run statistics.
type Snapshot struct {
	Total        int
	Success      int
	Fail         int
	Retries      int
	TotalLatency time.Duration
	AvgLatency   time.Duration
}

func newStats(total int) *Stats {
	return &Stats{total: total}
}

func (s *Stats) recordSuccess(latency time.Duration) {
	s.mu.Lock()
	s.success++
	s.totalLatency += latency
	s.mu.Unlock()
}

func (s *Stats) recordFailure() {
	s.mu.Lock()
	s.fail++
	s.mu.Unlock()
}

func (s *Stats) recordRetry() {
	s.mu.Lock()
	s.retries++
	s.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Snapshot{
		Total:        s.total,
		Success:      s.success,
		Fail:         s.fail,
		Retries:      s.retries,
		TotalLatency: s.totalLatency,
	}
	if s.success > 0 {
		out.AvgLatency = s.totalLatency / time.Duration(s.success)
	}
	return out
}
