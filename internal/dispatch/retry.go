package dispatch

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"net"
	"net/url"
	"syscall"
	"time"

	"github.com/stellarlinkco/batchinfer/internal/generator"
)

// Class is the retry classification of a single failure.
type Class int

const (
	// Fatal failures are surfaced immediately as a terminal error outcome.
	Fatal Class = iota
	// Retryable failures are re-enqueued until the retry budget runs out.
	Retryable
)

func (c Class) String() string {
	if c == Retryable {
		return "retryable"
	}
	return "fatal"
}

// Classify maps a generation failure to Retryable or Fatal. It is a pure
// function: connection errors, timeouts, and generic transport failures are
// retryable, as are HTTP statuses >= 500 and {408, 429}. Malformed response
// bodies, other 4xx statuses, and cancelled run contexts are fatal.
func Classify(err error) Class {
	if err == nil {
		return Fatal
	}

	var apiErr *generator.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.StatusCode)
	}

	var malformed *generator.MalformedError
	if errors.As(err, &malformed) {
		return Fatal
	}

	// A cancelled run must not keep retrying; a deadline is an ordinary
	// per-request timeout surfaced by the generator.
	if errors.Is(err, context.Canceled) {
		return Fatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Retryable
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return Retryable
	}
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return Retryable
	}

	return Fatal
}

func classifyStatus(code int) Class {
	if code >= 500 {
		return Retryable
	}
	switch code {
	case 408, 429:
		return Retryable
	}
	return Fatal
}

// backoffDelay computes the sleep before the retryCount-th re-attempt:
// exponential growth from the base delay plus uniform jitter in
// [0, jitterFraction*delay].
func backoffDelay(p RetryPolicy, retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	delay := float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(retryCount))
	if p.JitterFraction > 0 {
		delay += rand.Float64() * p.JitterFraction * delay
	}
	if delay > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}
