package retry

import (
	"context"
	"testing"
	"time"
)

// result is a minimal stand-in for a delivery result.
type result struct {
	ok   bool
	code string
}

func isOK(r result) bool { return r.ok }

func codeOf(r result) string { return r.code }

// fastPolicy returns the default retryable set with millisecond delays.
func fastPolicy(n int) Policy {
	return withDelays(n, time.Millisecond, 4*time.Millisecond)
}

func withDelays(n int, base, max time.Duration) Policy {
	p := DefaultPolicy()
	p.MaxAttempts = n
	p.BaseDelay = base
	p.MaxDelay = max
	return p
}

func TestIsRetryable(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name     string
		code     string
		expected bool
	}{
		{name: "empty code", code: "", expected: false},
		{name: "rate limit", code: CodeRateLimitExceeded, expected: true},
		{name: "temporarily unavailable", code: CodeTemporarilyUnavailable, expected: true},
		{name: "internal server error", code: CodeInternalServerError, expected: true},
		{name: "transport exception", code: CodeSendException, expected: true},
		{name: "validation error (permanent)", code: CodeValidationError, expected: false},
		{name: "invalid api key (permanent)", code: CodeInvalidAPIKey, expected: false},
		{name: "api key missing (permanent)", code: CodeAPIKeyMissing, expected: false},
		{name: "unrecognized code", code: "something_new", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsRetryable(tt.code, p)
			if got != tt.expected {
				t.Errorf("IsRetryable(%q) = %v, want %v", tt.code, got, tt.expected)
			}
		})
	}
}

func TestIsRetryable_FollowsPolicySet(t *testing.T) {
	p, err := NewPolicy(2, time.Millisecond, time.Millisecond, "custom_code")
	if err != nil {
		t.Fatalf("NewPolicy() error = %v", err)
	}

	if !IsRetryable("custom_code", p) {
		t.Error("IsRetryable(custom_code) = false, want true for custom policy")
	}
	if IsRetryable(CodeRateLimitExceeded, p) {
		t.Error("IsRetryable(rate_limit_exceeded) = true, want false when not in custom set")
	}
}

func TestDo_Success(t *testing.T) {
	callCount := 0
	out := Do(context.Background(), fastPolicy(3), func(context.Context) result {
		callCount++
		return result{ok: true}
	}, isOK, codeOf)

	if !out.Result.ok {
		t.Error("Do() result not successful")
	}
	if callCount != 1 || out.Attempts != 1 {
		t.Errorf("Do() calls = %d, attempts = %d, want 1 and 1", callCount, out.Attempts)
	}
}

func TestDo_RetryThenSucceed(t *testing.T) {
	callCount := 0
	var retries []Attempt

	out := Do(context.Background(), fastPolicy(3), func(context.Context) result {
		callCount++
		if callCount < 2 {
			return result{code: CodeRateLimitExceeded}
		}
		return result{ok: true}
	}, isOK, codeOf, OnRetry(func(a Attempt) { retries = append(retries, a) }))

	if !out.Result.ok {
		t.Fatal("Do() result not successful")
	}
	if out.Attempts != 2 {
		t.Errorf("Do() attempts = %d, want 2", out.Attempts)
	}
	if len(retries) != 1 {
		t.Fatalf("OnRetry called %d times, want 1", len(retries))
	}
	if retries[0].Number != 1 || retries[0].Next != 2 || retries[0].ErrorCode != CodeRateLimitExceeded {
		t.Errorf("OnRetry got %+v", retries[0])
	}
}

func TestDo_NonRetryableError(t *testing.T) {
	for _, maxAttempts := range []int{1, 3, 10} {
		callCount := 0
		retried := false
		out := Do(context.Background(), fastPolicy(maxAttempts), func(context.Context) result {
			callCount++
			return result{code: CodeValidationError}
		}, isOK, codeOf, OnRetry(func(Attempt) { retried = true }))

		if callCount != 1 || out.Attempts != 1 {
			t.Errorf("maxAttempts=%d: calls = %d, attempts = %d, want 1 (no retries for non-retryable)",
				maxAttempts, callCount, out.Attempts)
		}
		if retried {
			t.Errorf("maxAttempts=%d: OnRetry called for non-retryable error", maxAttempts)
		}
	}
}

func TestDo_MissingCodeIsTerminal(t *testing.T) {
	callCount := 0
	Do(context.Background(), fastPolicy(3), func(context.Context) result {
		callCount++
		return result{}
	}, isOK, codeOf)

	if callCount != 1 {
		t.Errorf("Do() called function %d times, want 1", callCount)
	}
}

func TestDo_MaxAttemptsExhausted(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5} {
		callCount := 0
		retries := 0
		out := Do(context.Background(), fastPolicy(n), func(context.Context) result {
			callCount++
			return result{code: CodeRateLimitExceeded}
		}, isOK, codeOf, OnRetry(func(Attempt) { retries++ }))

		if callCount != n || out.Attempts != n {
			t.Errorf("maxAttempts=%d: calls = %d, attempts = %d", n, callCount, out.Attempts)
		}
		if retries != n-1 {
			t.Errorf("maxAttempts=%d: retries = %d, want %d", n, retries, n-1)
		}
		if out.Result.code != CodeRateLimitExceeded {
			t.Errorf("maxAttempts=%d: last code = %q", n, out.Result.code)
		}
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := withDelays(10, 100*time.Millisecond, time.Second)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	callCount := 0
	out := Do(ctx, p, func(context.Context) result {
		callCount++
		return result{code: CodeSendException}
	}, isOK, codeOf)

	if callCount != 1 {
		t.Errorf("Do() called function %d times after cancel, want 1", callCount)
	}
	if out.Attempts != 1 {
		t.Errorf("Do() attempts = %d, want 1", out.Attempts)
	}
}

func TestDo_ZeroMaxAttemptsRunsOnce(t *testing.T) {
	callCount := 0
	out := Do(context.Background(), fastPolicy(0), func(context.Context) result {
		callCount++
		return result{code: CodeRateLimitExceeded}
	}, isOK, codeOf)

	if callCount != 1 || out.Attempts != 1 {
		t.Errorf("Do() calls = %d, attempts = %d, want 1", callCount, out.Attempts)
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	if p.MaxAttempts != 3 {
		t.Errorf("DefaultPolicy().MaxAttempts = %d, want 3", p.MaxAttempts)
	}
	if p.BaseDelay != time.Second {
		t.Errorf("DefaultPolicy().BaseDelay = %v, want 1s", p.BaseDelay)
	}
	if p.MaxDelay != 10*time.Second {
		t.Errorf("DefaultPolicy().MaxDelay = %v, want 10s", p.MaxDelay)
	}
	if len(p.RetryableCodes) != 4 {
		t.Errorf("DefaultPolicy().RetryableCodes has %d codes, want 4", len(p.RetryableCodes))
	}

	// Each call returns its own set.
	p.RetryableCodes["mutated"] = struct{}{}
	if IsRetryable("mutated", DefaultPolicy()) {
		t.Error("DefaultPolicy() shares its retryable set between calls")
	}
}

func TestNewPolicy_Validation(t *testing.T) {
	tests := []struct {
		name    string
		max     int
		base    time.Duration
		cap     time.Duration
		wantErr bool
	}{
		{name: "valid", max: 3, base: time.Second, cap: 10 * time.Second},
		{name: "equal base and cap", max: 1, base: time.Second, cap: time.Second},
		{name: "zero attempts", max: 0, base: time.Second, cap: time.Second, wantErr: true},
		{name: "zero base", max: 3, base: 0, cap: time.Second, wantErr: true},
		{name: "cap below base", max: 3, base: 2 * time.Second, cap: time.Second, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPolicy(tt.max, tt.base, tt.cap)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewPolicy() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), 0); err != nil {
		t.Errorf("Sleep(0) error = %v, want nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := Sleep(ctx, time.Minute); err == nil {
		t.Error("Sleep() with cancelled context returned nil")
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep() did not return promptly on cancelled context")
	}
}
