package dispatch

import (
	"errors"
	"testing"
	"time"
)

func TestOutcomeString(t *testing.T) {
	t.Parallel()

	ok := Outcome{Text: "hello"}
	if !ok.OK() || ok.String() != "hello" {
		t.Fatalf("success outcome: got %q", ok.String())
	}

	fail := Outcome{Err: errors.New("boom")}
	if fail.OK() {
		t.Fatalf("error outcome reported OK")
	}
	if got := fail.String(); got != "Error: boom" {
		t.Fatalf("error outcome: got %q want %q", got, "Error: boom")
	}
}

func TestExhaustedError(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := &ExhaustedError{Retries: 3, Last: cause}

	if got := err.Error(); got != "Max retries exceeded - connection reset" {
		t.Fatalf("Error: got %q", got)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is: exhausted error does not wrap its cause")
	}

	var nilErr *ExhaustedError
	if nilErr.Error() == "" {
		t.Fatalf("nil receiver: empty message")
	}
	if nilErr.Unwrap() != nil {
		t.Fatalf("nil receiver: non-nil unwrap")
	}
}

func TestRetryPolicyNormalized(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxRetries: -1, BaseDelay: 0, BackoffMultiplier: 0.5, JitterFraction: -0.2}.normalized()
	if p.MaxRetries != 0 {
		t.Fatalf("MaxRetries: got %d want %d", p.MaxRetries, 0)
	}
	if p.BaseDelay != time.Second {
		t.Fatalf("BaseDelay: got %v want %v", p.BaseDelay, time.Second)
	}
	if p.BackoffMultiplier != 2.0 {
		t.Fatalf("BackoffMultiplier: got %v want %v", p.BackoffMultiplier, 2.0)
	}
	if p.JitterFraction != 0 {
		t.Fatalf("JitterFraction: got %v want %v", p.JitterFraction, 0.0)
	}

	good := DefaultRetryPolicy()
	if got := good.normalized(); got != good {
		t.Fatalf("normalized changed a valid policy: got %+v", got)
	}
}

func TestStatsSnapshot(t *testing.T) {
	t.Parallel()

	s := newStats(4)
	s.recordSuccess(100 * time.Millisecond)
	s.recordSuccess(300 * time.Millisecond)
	s.recordFailure()
	s.recordRetry()
	s.recordRetry()

	snap := s.Snapshot()
	if snap.Total != 4 || snap.Success != 2 || snap.Fail != 1 || snap.Retries != 2 {
		t.Fatalf("snapshot: got %+v", snap)
	}
	if snap.TotalLatency != 400*time.Millisecond {
		t.Fatalf("TotalLatency: got %v", snap.TotalLatency)
	}
	if snap.AvgLatency != 200*time.Millisecond {
		t.Fatalf("AvgLatency: got %v", snap.AvgLatency)
	}

	var nilStats *Stats
	if got := nilStats.Snapshot(); got != (Snapshot{}) {
		t.Fatalf("nil stats snapshot: got %+v", got)
	}
}
