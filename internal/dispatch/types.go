package dispatch

import (
	"fmt"
	"time"
)

// Outcome is the terminal result recorded for a single request: either a
// successful response text or a classified error. Exactly one Outcome exists
// per input index by the time Run returns.
type Outcome struct {
	Text string
	Err  error
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// String renders the outcome for callers that consume a flat string list.
// Failures carry the "Error:" marker so downstream code can detect them
// without a typed error channel.
func (o Outcome) String() string {
	if o.Err != nil {
		return "Error: " + o.Err.Error()
	}
	return o.Text
}

// RetryPolicy configures retry handling for a run. It is immutable for the
// lifetime of the run.
type RetryPolicy struct {
	MaxRetries        int
	BaseDelay         time.Duration
	BackoffMultiplier float64
	JitterFraction    float64
}

// DefaultRetryPolicy returns the retry policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		BaseDelay:         time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.BackoffMultiplier < 1 {
		p.BackoffMultiplier = 2.0
	}
	if p.JitterFraction < 0 {
		p.JitterFraction = 0
	}
	return p
}

// ExhaustedError marks a request whose retryable failures outlived the retry
// budget. Retries is the number of re-attempts performed, not counting the
// initial call.
type ExhaustedError struct {
	Retries int
	Last    error
}

func (e *ExhaustedError) Error() string {
	if e == nil {
		return "dispatch: retries exhausted"
	}
	return fmt.Sprintf("Max retries exceeded - %v", e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Last
}
