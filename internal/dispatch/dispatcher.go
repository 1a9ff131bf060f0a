// Package dispatch implements the concurrent batch-inference dispatcher: it
// executes many independent generation requests against a Generator under a
// token-bucket rate ceiling, retries transient failures with exponential
// backoff, and returns outcomes in input order with at most one successful
// write per request.
package dispatch

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stellarlinkco/batchinfer/internal/generator"
)

// DefaultWorkerCap bounds worker creation when no cap is configured.
const DefaultWorkerCap = 10

// errResultMissing is the defensive placeholder for an index that never
// received a terminal outcome. It should not occur when the run completes
// normally.
var errResultMissing = errors.New("Result not found")

// Options configures a Dispatcher. The zero value gets sane defaults.
type Options struct {
	// Rate is the sustained request rate in requests per second. Zero or
	// negative disables rate limiting.
	Rate float64
	// WorkerCap bounds the number of concurrent workers regardless of
	// workload size or rate.
	WorkerCap int
	// Retry controls classification-driven retries.
	Retry RetryPolicy
	// Params are the sampling parameters forwarded to every Generate call.
	Params generator.Params
	// Timeout, when positive, bounds the whole run. Requests without a
	// terminal outcome at expiry are reported as error outcomes.
	Timeout time.Duration
	// Logger receives per-item debug and retry events. Nil means no logging.
	Logger *zap.Logger
	// OnProgress, when set, is invoked after every terminal outcome with
	// the number of completed requests and the total.
	OnProgress func(completed, total int)
}

// BatchResult is the ordered output of one Run call.
type BatchResult struct {
	Outcomes []Outcome
	Stats    Snapshot
	Wall     time.Duration
}

// Strings renders the outcomes as a flat list, failures carrying the
// "Error:" marker.
func (r *BatchResult) Strings() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.Outcomes))
	for i, o := range r.Outcomes {
		out[i] = o.String()
	}
	return out
}

// Dispatcher executes request batches against a Generator. It holds no
// per-run mutable state: every Run constructs a fresh queue, rate limiter,
// result table, and stats, so concurrent Run calls on the same Dispatcher
// are safe.
type Dispatcher struct {
	gen  generator.Generator
	opts Options
}

// New creates a Dispatcher for the given generator.
func New(gen generator.Generator, opts Options) *Dispatcher {
	if opts.WorkerCap <= 0 {
		opts.WorkerCap = DefaultWorkerCap
	}
	opts.Retry = opts.Retry.normalized()
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Dispatcher{gen: gen, opts: opts}
}

// runContext is the per-run state. It is created at the start of each Run
// and passed explicitly to every worker; nothing in it outlives the call.
type runContext struct {
	queue   *workQueue
	bucket  *tokenBucket
	results *resultTable
	stats   *Stats
	opts    *Options
	gen     generator.Generator
}

// Run executes the batch and returns outcomes in input order, independent
// of completion order. Individual failures never abort the run; they are
// visible as error outcomes at their index. The returned error reports
// only caller mistakes, not request failures.
func (d *Dispatcher) Run(ctx context.Context, requests []generator.Request) (*BatchResult, error) {
	if d == nil || d.gen == nil {
		return nil, errors.New("dispatch: nil generator")
	}
	if ctx == nil {
		return nil, errors.New("dispatch: nil context")
	}

	start := time.Now()
	total := len(requests)
	if total == 0 {
		return &BatchResult{Outcomes: []Outcome{}}, nil
	}

	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	rc := &runContext{
		queue:   newWorkQueue(total),
		bucket:  newTokenBucket(d.opts.Rate),
		results: newResultTable(total),
		stats:   newStats(total),
		opts:    &d.opts,
		gen:     d.gen,
	}
	for i, req := range requests {
		rc.queue.enqueue(workItem{index: i, request: req})
	}

	workers := workerCount(total, d.opts.Rate, d.opts.WorkerCap)
	d.opts.Logger.Debug("starting batch",
		zap.Int("total", total),
		zap.Int("workers", workers),
		zap.Float64("rate", d.opts.Rate),
	)

	g, wctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return rc.worker(wctx)
		})
	}
	if err := g.Wait(); err != nil {
		d.opts.Logger.Debug("workers stopped early", zap.Error(err))
	}
	rc.queue.close()

	out := &BatchResult{
		Outcomes: rc.assemble(ctx, total),
		Stats:    rc.stats.Snapshot(),
		Wall:     time.Since(start),
	}
	return out, nil
}

// RunStrings is the flat-string entry point used by callers that score
// responses: one string per request, failures prefixed with "Error:".
func (d *Dispatcher) RunStrings(ctx context.Context, requests []generator.Request) ([]string, error) {
	res, err := d.Run(ctx, requests)
	if err != nil {
		return nil, err
	}
	return res.Strings(), nil
}

// workerCount bounds worker creation relative to both the workload size and
// the target throughput: min(total, max(1, min(cap, rate*2))).
func workerCount(total int, qps float64, limit int) int {
	if limit <= 0 {
		limit = DefaultWorkerCap
	}
	byRate := limit
	if qps > 0 {
		if n := int(qps * 2); n < byRate {
			byRate = n
		}
	}
	if byRate < 1 {
		byRate = 1
	}
	if total < byRate {
		return total
	}
	return byRate
}

// worker drains the queue until every index is terminal or the run context
// ends. Dequeue, token acquisition, and backoff sleeps suspend only this
// worker, never the pool.
func (rc *runContext) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-rc.results.done:
			return nil
		case item, ok := <-rc.queue.items:
			if !ok {
				return nil
			}
			rc.process(ctx, item)
		}
	}
}

// process drives one item through one attempt:
// Queued -> InFlight -> {Success, Queued(retry), Fatal, Exhausted}.
func (rc *runContext) process(ctx context.Context, item workItem) {
	log := rc.opts.Logger

	if err := rc.bucket.acquire(ctx); err != nil {
		rc.finish(item.index, Outcome{Err: err})
		return
	}

	start := time.Now()
	text, err := rc.gen.Generate(ctx, item.request, rc.opts.Params)
	latency := time.Since(start)

	if err == nil {
		if rc.results.setSuccess(item.index, text) {
			rc.stats.recordSuccess(latency)
			rc.progress()
		}
		log.Debug("request succeeded",
			zap.Int("index", item.index),
			zap.Duration("latency", latency),
		)
		return
	}

	if Classify(err) == Retryable {
		if item.retries < rc.opts.Retry.MaxRetries {
			item.retries++
			rc.stats.recordRetry()
			delay := backoffDelay(rc.opts.Retry, item.retries)
			log.Warn("retrying request",
				zap.Int("index", item.index),
				zap.Int("retry", item.retries),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
			if serr := sleepContext(ctx, delay); serr != nil {
				rc.finish(item.index, Outcome{Err: serr})
				return
			}
			rc.queue.enqueue(item)
			return
		}
		rc.finish(item.index, Outcome{Err: &ExhaustedError{Retries: item.retries, Last: err}})
		log.Error("request exhausted retries",
			zap.Int("index", item.index),
			zap.Int("retries", item.retries),
			zap.Error(err),
		)
		return
	}

	rc.finish(item.index, Outcome{Err: err})
	log.Error("request failed",
		zap.Int("index", item.index),
		zap.Error(err),
	)
}

func (rc *runContext) finish(index int, o Outcome) {
	if rc.results.set(index, o) {
		rc.stats.recordFailure()
		rc.progress()
	}
}

func (rc *runContext) progress() {
	if rc.opts.OnProgress != nil {
		rc.opts.OnProgress(rc.results.completedCount(), rc.results.total)
	}
}

// assemble reads the table in index order. Any absent index (possible only
// after cancellation, or a state-machine bug) becomes a placeholder error
// outcome rather than failing the run.
func (rc *runContext) assemble(ctx context.Context, total int) []Outcome {
	out := make([]Outcome, total)
	for i := 0; i < total; i++ {
		o, ok := rc.results.get(i)
		if !ok {
			if err := ctx.Err(); err != nil {
				o = Outcome{Err: err}
			} else {
				o = Outcome{Err: errResultMissing}
			}
		}
		out[i] = o
	}
	return out
}
