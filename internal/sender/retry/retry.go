// Package retry provides retry logic with exponential backoff for transient delivery failures.
package retry

import (
	"context"
	"log/slog"
	"time"
)

// Outcome wraps the final result of a retried operation together with the
// number of attempts it consumed. Attempts is always between 1 and MaxAttempts.
type Outcome[T any] struct {
	Result   T
	Attempts int
}

// Attempt describes a scheduled retry, passed to the OnRetry hook.
type Attempt struct {
	Number      int           // Attempt that just failed (1-based)
	Next        int           // Attempt about to run
	MaxAttempts int           // Budget for this call
	ErrorCode   string        // Code extracted from the failed result
	Delay       time.Duration // Backoff slept before Next
}

type options struct {
	logger  *slog.Logger
	attrs   []any
	onRetry func(Attempt)
}

// Option customizes a single Do call.
type Option func(*options)

// WithLogger routes orchestrator log lines to the given logger instead of slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithAttrs attaches key/value pairs to every log line emitted for this call.
func WithAttrs(args ...any) Option {
	return func(o *options) {
		o.attrs = append(o.attrs, args...)
	}
}

// OnRetry installs a hook that replaces the default retry log line.
// The hook runs after the backoff sleep and before the next attempt.
func OnRetry(fn func(Attempt)) Option {
	return func(o *options) {
		o.onRetry = fn
	}
}

// Do executes op until isSuccess reports true, errorCode yields a code the
// policy does not consider retryable, or the attempt budget is spent.
//
// Do never panics on its own and never retries past p.MaxAttempts. Panics raised
// by op are not recovered here; callers that need exception safety must convert
// them into a result inside op. If ctx is cancelled during a backoff sleep the
// last result is returned with the attempts consumed so far.
func Do[T any](
	ctx context.Context,
	p Policy,
	op func(context.Context) T,
	isSuccess func(T) bool,
	errorCode func(T) string,
	opts ...Option,
) Outcome[T] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var last T
	for attempt := 1; ; attempt++ {
		last = op(ctx)

		if isSuccess(last) {
			if attempt > 1 {
				o.logger.Info("Operation succeeded after retry",
					append([]any{"type", "retry_success", "attempt", attempt}, o.attrs...)...,
				)
			}
			return Outcome[T]{Result: last, Attempts: attempt}
		}

		code := errorCode(last)
		if !IsRetryable(code, p) {
			o.logger.Debug("Error is not retryable, failing immediately",
				append([]any{"attempt", attempt, "error_code", code}, o.attrs...)...,
			)
			return Outcome[T]{Result: last, Attempts: attempt}
		}

		if attempt >= maxAttempts {
			o.logger.Error("All retry attempts exhausted",
				append([]any{"type", "retry_exhausted", "attempts", attempt, "error_code", code}, o.attrs...)...,
			)
			return Outcome[T]{Result: last, Attempts: attempt}
		}

		delay := CalculateDelay(attempt-1, p)
		if err := Sleep(ctx, delay); err != nil {
			o.logger.Warn("Retry aborted, context done",
				append([]any{"attempt", attempt, "error_code", code, "error", err}, o.attrs...)...,
			)
			return Outcome[T]{Result: last, Attempts: attempt}
		}

		info := Attempt{
			Number:      attempt,
			Next:        attempt + 1,
			MaxAttempts: maxAttempts,
			ErrorCode:   code,
			Delay:       delay,
		}
		if o.onRetry != nil {
			o.onRetry(info)
		} else {
			o.logger.Warn("Retrying operation after transient failure",
				append([]any{
					"type", "retry_attempt",
					"attempt", info.Number,
					"next_attempt", info.Next,
					"delay_ms", delay.Milliseconds(),
					"error_code", code,
				}, o.attrs...)...,
			)
		}
	}
}

// Sleep waits for d or until ctx is done, whichever comes first.
// It returns immediately for zero or negative durations.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
