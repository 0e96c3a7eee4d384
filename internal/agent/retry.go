package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// statusError is a non-2xx reply from the agent endpoint.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("agent endpoint returned status %d", e.Code)
}

// Classify buckets an attempt failure for the retry driver.
type FailureClass int

const (
	// ClassRetryable failures (5xx, timeouts, transport errors) consume the
	// attempt budget.
	ClassRetryable FailureClass = iota
	// ClassFatal failures (4xx, caller cancellation) abort immediately.
	ClassFatal
)

// Policy is the retry policy for one logical agent call: a fixed attempt
// budget, a fixed delay between attempts, and a failure classifier. It is
// pure and testable independently of the HTTP call it drives.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Classify    func(ctx context.Context, err error) FailureClass
}

// Run drives attempt until it succeeds, fails fatally, or exhausts the
// budget. On exhaustion the last error (not the first) is returned.
func (p Policy) Run(ctx context.Context, attempt func(ctx context.Context) error) error {
	var lastErr error
	for i := 1; i <= p.MaxAttempts; i++ {
		err := attempt(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if p.Classify(ctx, err) == ClassFatal {
			return err
		}
		if i == p.MaxAttempts {
			break
		}

		slog.WarnContext(ctx, "agent attempt failed, retrying",
			"attempt", i,
			"max_attempts", p.MaxAttempts,
			"delay_ms", p.Delay.Milliseconds(),
			"error", err)

		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// fatalError marks failures that precede the network call (request encoding
// and construction); retrying cannot fix those.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// classifyFailure mirrors the server/client split of HTTP semantics: server
// errors and transport-level failures are worth another attempt, anything the
// agent rejected outright is not. A cancelled caller context is always fatal;
// a per-attempt deadline is not, since the next attempt gets a fresh one.
func classifyFailure(ctx context.Context, err error) FailureClass {
	if ctx.Err() != nil {
		slog.DebugContext(ctx, "agent error not retryable: caller context done")
		return ClassFatal
	}

	var fe *fatalError
	if errors.As(err, &fe) {
		slog.ErrorContext(ctx, "agent request could not be built, not retryable", "error", err)
		return ClassFatal
	}

	var se *statusError
	if errors.As(err, &se) {
		if se.Code >= 500 {
			slog.WarnContext(ctx, "agent server error, will retry", "status_code", se.Code)
			return ClassRetryable
		}
		slog.ErrorContext(ctx, "agent client error, not retryable", "status_code", se.Code)
		return ClassFatal
	}

	// Timeouts and network errors (no response at all) are generally retryable.
	slog.WarnContext(ctx, "agent transport error, will retry", "error", err)
	return ClassRetryable
}
