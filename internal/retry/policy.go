// Package retry re-runs fallible operations a bounded number of times with a
// fixed delay between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// LogContext identifies the caller in attempt log lines
type LogContext struct {
	Wallet    string
	Module    string
	Operation string
}

func (lc LogContext) String() string {
	return fmt.Sprintf("%s | %s | %s", lc.Wallet, lc.Module, lc.Operation)
}

// ExhaustedError is returned by a summarizing policy once every attempt failed
type ExhaustedError struct {
	Operation string
	Attempts  int
	Last      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s | failed after %d attempts: %v", e.Operation, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Policy retry settings. The zero value runs the operation once.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration

	// Retryable decides whether a failure is worth another attempt.
	// nil retries everything except cancellation.
	Retryable func(error) bool

	// Summarize returns *ExhaustedError instead of the last error
	Summarize bool

	// Observe sees every failed attempt, before the delay
	Observe func(error)

	Log *logrus.Logger
}

// New policy with the given attempts and delay
func New(attempts int, delay time.Duration, log *logrus.Logger) Policy {
	return Policy{MaxAttempts: attempts, Delay: delay, Log: log}
}

// WithRetryable returns a copy that only retries errors accepted by fn
func (p Policy) WithRetryable(fn func(error) bool) Policy {
	p.Retryable = fn
	return p
}

// WithObserver returns a copy that reports every failed attempt to fn
func (p Policy) WithObserver(fn func(error)) Policy {
	p.Observe = fn
	return p
}

// Summarizing returns a copy that reports exhaustion as *ExhaustedError
func (p Policy) Summarizing() Policy {
	p.Summarize = true
	return p
}

// Do runs op until it succeeds, fails with a non-retryable error, the
// attempts run out or ctx is cancelled. Cancellation is never retried.
func (p Policy) Do(ctx context.Context, lc LogContext, op func(ctx context.Context) error) error {
	_, err := Value(ctx, p, lc, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Value is Do for operations that produce a result
func Value[T any](ctx context.Context, p Policy, lc LogContext, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if isCancellation(ctx, err) {
			return zero, err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}

		last = err
		if p.Observe != nil {
			p.Observe(err)
		}
		p.logAttempt(lc, attempt, attempts, err)

		if attempt < attempts && p.Delay > 0 {
			timer := time.NewTimer(p.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}

	if p.Summarize {
		return zero, &ExhaustedError{Operation: lc.String(), Attempts: attempts, Last: last}
	}
	return zero, last
}

func (p Policy) logAttempt(lc LogContext, attempt, total int, err error) {
	if p.Log == nil {
		return
	}
	p.Log.WithFields(logrus.Fields{
		"wallet":  lc.Wallet,
		"module":  lc.Module,
		"action":  lc.Operation,
		"attempt": fmt.Sprintf("%d/%d", attempt, total),
	}).Warnf("🔄 %s | Failed | attempt %d/%d: %v", lc, attempt, total, err)
}

func isCancellation(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled)
}
