package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stellarlinkco/batchinfer/internal/generator"
)

type stubGenerator struct {
	name string
	fn   func(ctx context.Context, req generator.Request, params generator.Params) (string, error)
}

func (g *stubGenerator) Name() string {
	if g.name == "" {
		return "stub"
	}
	return g.name
}

func (g *stubGenerator) Generate(ctx context.Context, req generator.Request, params generator.Params) (string, error) {
	return g.fn(ctx, req, params)
}

func fastRetry(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:        maxRetries,
		BaseDelay:         time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func promptRequests(n int) []generator.Request {
	out := make([]generator.Request, n)
	for i := range out {
		out[i] = generator.UserRequest(fmt.Sprintf("prompt-%d", i))
	}
	return out
}

func TestRun_OrdersOutcomesByIndex(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{fn: func(ctx context.Context, req generator.Request, _ generator.Params) (string, error) {
		// Vary latency so completion order differs from input order.
		time.Sleep(time.Duration(rand.Intn(20)) * time.Millisecond)
		return "echo:" + req.Messages[0].Content, nil
	}}

	d := New(gen, Options{Retry: fastRetry(0)})
	res, err := d.Run(context.Background(), promptRequests(25))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Outcomes) != 25 {
		t.Fatalf("outcomes: got %d want %d", len(res.Outcomes), 25)
	}
	for i, o := range res.Outcomes {
		if !o.OK() {
			t.Fatalf("outcome %d: unexpected error %v", i, o.Err)
		}
		want := fmt.Sprintf("echo:prompt-%d", i)
		if o.Text != want {
			t.Fatalf("outcome %d: got %q want %q", i, o.Text, want)
		}
	}
	if res.Stats.Success != 25 || res.Stats.Fail != 0 {
		t.Fatalf("stats: got success=%d fail=%d", res.Stats.Success, res.Stats.Fail)
	}
}

func TestRun_RetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	attempts := map[string]int{}

	gen := &stubGenerator{fn: func(_ context.Context, req generator.Request, _ generator.Params) (string, error) {
		key := req.Messages[0].Content
		mu.Lock()
		attempts[key]++
		n := attempts[key]
		mu.Unlock()
		if n <= 2 {
			return "", &generator.APIError{StatusCode: 503, Status: "503 Service Unavailable"}
		}
		return "ok", nil
	}}

	d := New(gen, Options{Retry: fastRetry(3)})
	res, err := d.Run(context.Background(), promptRequests(1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Outcomes[0].OK() || res.Outcomes[0].Text != "ok" {
		t.Fatalf("outcome: got %+v", res.Outcomes[0])
	}
	if got := attempts["prompt-0"]; got != 3 {
		t.Fatalf("attempts: got %d want %d", got, 3)
	}
	if res.Stats.Retries != 2 {
		t.Fatalf("retries: got %d want %d", res.Stats.Retries, 2)
	}
	if res.Stats.Success != 1 || res.Stats.Fail != 0 {
		t.Fatalf("stats: got success=%d fail=%d", res.Stats.Success, res.Stats.Fail)
	}
}

func TestRun_FatalErrorNotRetried(t *testing.T) {
	t.Parallel()

	var attempts int32
	var mu sync.Mutex

	gen := &stubGenerator{fn: func(context.Context, generator.Request, generator.Params) (string, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		return "", &generator.APIError{StatusCode: 400, Status: "400 Bad Request"}
	}}

	d := New(gen, Options{Retry: fastRetry(3)})
	res, err := d.Run(context.Background(), promptRequests(1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts: got %d want %d", attempts, 1)
	}
	o := res.Outcomes[0]
	if o.OK() {
		t.Fatalf("outcome: expected error, got success %q", o.Text)
	}
	var exhausted *ExhaustedError
	if errors.As(o.Err, &exhausted) {
		t.Fatalf("outcome: fatal error reported as exhausted: %v", o.Err)
	}
	if res.Stats.Retries != 0 || res.Stats.Fail != 1 {
		t.Fatalf("stats: got retries=%d fail=%d", res.Stats.Retries, res.Stats.Fail)
	}
}

func TestRun_ExhaustsRetryBudget(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	attempts := 0

	gen := &stubGenerator{fn: func(context.Context, generator.Request, generator.Params) (string, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		return "", &generator.APIError{StatusCode: 500, Status: "500 Internal Server Error"}
	}}

	d := New(gen, Options{Retry: fastRetry(2)})
	res, err := d.Run(context.Background(), promptRequests(1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts: got %d want %d (initial + 2 retries)", attempts, 3)
	}

	o := res.Outcomes[0]
	var exhausted *ExhaustedError
	if !errors.As(o.Err, &exhausted) {
		t.Fatalf("outcome: got %v want *ExhaustedError", o.Err)
	}
	if exhausted.Retries != 2 {
		t.Fatalf("exhausted.Retries: got %d want %d", exhausted.Retries, 2)
	}
	var apiErr *generator.APIError
	if !errors.As(exhausted.Last, &apiErr) || apiErr.StatusCode != 500 {
		t.Fatalf("exhausted.Last: got %v", exhausted.Last)
	}
	if !strings.HasPrefix(o.String(), "Error: Max retries exceeded - ") {
		t.Fatalf("rendered outcome: got %q", o.String())
	}
	if res.Stats.Retries != 2 || res.Stats.Fail != 1 {
		t.Fatalf("stats: got retries=%d fail=%d", res.Stats.Retries, res.Stats.Fail)
	}
}

func TestRun_RateLimitBoundsThroughput(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{fn: func(context.Context, generator.Request, generator.Params) (string, error) {
		return "ok", nil
	}}

	// rate=2 with a full bucket admits 2 immediately; the remaining 3
	// tokens accrue at 2/s, so the run cannot finish before ~1.5s.
	d := New(gen, Options{Rate: 2, Retry: fastRetry(0)})
	start := time.Now()
	res, err := d.Run(context.Background(), promptRequests(5))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	elapsed := time.Since(start)
	if res.Stats.Success != 5 {
		t.Fatalf("success: got %d want %d", res.Stats.Success, 5)
	}
	if elapsed < 1400*time.Millisecond {
		t.Fatalf("elapsed: got %v, rate limit not enforced", elapsed)
	}
}

func TestRun_ContextCancelStopsRun(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{fn: func(ctx context.Context, _ generator.Request, _ generator.Params) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	d := New(gen, Options{Retry: fastRetry(3)})
	start := time.Now()
	res, err := d.Run(ctx, promptRequests(8))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("run did not stop promptly after cancel")
	}
	if len(res.Outcomes) != 8 {
		t.Fatalf("outcomes: got %d want %d", len(res.Outcomes), 8)
	}
	for i, o := range res.Outcomes {
		if o.OK() {
			t.Fatalf("outcome %d: expected error after cancel, got %q", i, o.Text)
		}
	}
}

func TestRun_TimeoutProducesErrorOutcomes(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{fn: func(ctx context.Context, _ generator.Request, _ generator.Params) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(10 * time.Second):
			return "too late", nil
		}
	}}

	d := New(gen, Options{Timeout: 50 * time.Millisecond, Retry: fastRetry(0)})
	start := time.Now()
	res, err := d.Run(context.Background(), promptRequests(3))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("run outlived its timeout")
	}
	for i, o := range res.Outcomes {
		if o.OK() {
			t.Fatalf("outcome %d: expected timeout error, got %q", i, o.Text)
		}
	}
}

func TestRun_EmptyBatch(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{fn: func(context.Context, generator.Request, generator.Params) (string, error) {
		t.Error("Generate called for empty batch")
		return "", nil
	}}

	d := New(gen, Options{})
	res, err := d.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Outcomes) != 0 {
		t.Fatalf("outcomes: got %d want %d", len(res.Outcomes), 0)
	}
}

func TestRun_NilGenerator(t *testing.T) {
	t.Parallel()

	d := New(nil, Options{})
	if _, err := d.Run(context.Background(), promptRequests(1)); err == nil {
		t.Fatalf("Run: expected error for nil generator")
	}
}

func TestRunStrings_ErrorMarker(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{fn: func(_ context.Context, req generator.Request, _ generator.Params) (string, error) {
		if req.Messages[0].Content == "prompt-1" {
			return "", &generator.APIError{StatusCode: 404, Status: "404 Not Found"}
		}
		return "fine", nil
	}}

	d := New(gen, Options{Retry: fastRetry(0)})
	out, err := d.RunStrings(context.Background(), promptRequests(3))
	if err != nil {
		t.Fatalf("RunStrings: %v", err)
	}
	if out[0] != "fine" || out[2] != "fine" {
		t.Fatalf("successes: got %q, %q", out[0], out[2])
	}
	if !strings.HasPrefix(out[1], "Error: ") {
		t.Fatalf("failure: got %q want Error: prefix", out[1])
	}
}

func TestRun_ProgressCallback(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{fn: func(context.Context, generator.Request, generator.Params) (string, error) {
		return "ok", nil
	}}

	var mu sync.Mutex
	calls := 0
	last := 0

	d := New(gen, Options{
		Retry: fastRetry(0),
		OnProgress: func(completed, total int) {
			mu.Lock()
			calls++
			if completed > last {
				last = completed
			}
			if total != 10 {
				t.Errorf("total: got %d want %d", total, 10)
			}
			mu.Unlock()
		},
	})
	if _, err := d.Run(context.Background(), promptRequests(10)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 10 {
		t.Fatalf("progress calls: got %d want %d", calls, 10)
	}
	if last != 10 {
		t.Fatalf("final completed: got %d want %d", last, 10)
	}
}

func TestRun_ConcurrentRunsShareNoState(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{fn: func(_ context.Context, req generator.Request, _ generator.Params) (string, error) {
		time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
		return req.Messages[0].Content, nil
	}}
	d := New(gen, Options{Retry: fastRetry(0)})

	var wg sync.WaitGroup
	for run := 0; run < 4; run++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := d.Run(context.Background(), promptRequests(15))
			if err != nil {
				t.Errorf("Run: %v", err)
				return
			}
			for i, o := range res.Outcomes {
				want := fmt.Sprintf("prompt-%d", i)
				if o.Text != want {
					t.Errorf("outcome %d: got %q want %q", i, o.Text, want)
				}
			}
		}()
	}
	wg.Wait()
}

func TestWorkerCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		total int
		qps   float64
		limit int
		want  int
	}{
		{"unlimited rate uses cap", 100, 0, 10, 10},
		{"rate bounds workers", 100, 2, 10, 4},
		{"small batch bounds workers", 3, 0, 10, 3},
		{"rate below one half", 100, 0.3, 10, 1},
		{"zero cap falls back to default", 100, 0, 0, DefaultWorkerCap},
		{"cap below rate bound", 100, 50, 6, 6},
		{"single request", 1, 10, 10, 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := workerCount(tt.total, tt.qps, tt.limit); got != tt.want {
				t.Fatalf("workerCount(%d, %v, %d): got %d want %d", tt.total, tt.qps, tt.limit, got, tt.want)
			}
		})
	}
}
