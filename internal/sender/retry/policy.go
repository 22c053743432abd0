package retry

import (
	"fmt"
	"time"
)

// Provider and client error codes understood by the classifier.
const (
	CodeRateLimitExceeded      = "rate_limit_exceeded"
	CodeTemporarilyUnavailable = "temporarily_unavailable"
	CodeInternalServerError    = "internal_server_error"
	CodeSendException          = "SEND_EXCEPTION" // transport raised instead of returning a structured error

	CodeAPIKeyMissing    = "API_KEY_MISSING"
	CodeValidationError  = "validation_error"
	CodeInvalidAPIKey    = "invalid_api_key"
	CodeUnverifiedSender = "unverified_sender"
	CodeUnknown          = "UNKNOWN_ERROR"
)

// Defaults of DefaultPolicy.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 10 * time.Second
)

// Policy defines retry behavior for one delivery call.
type Policy struct {
	MaxAttempts    int           // Total attempts including the first (>= 1)
	BaseDelay      time.Duration // Delay before the second attempt, doubled per retry
	MaxDelay       time.Duration // Cap applied before jitter
	RetryableCodes map[string]struct{}
}

// DefaultPolicy returns the default email retry policy: 3 attempts, 1s base
// delay, 10s cap, retrying rate limits, temporary unavailability, provider
// internal errors, and transport exceptions.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		RetryableCodes: codeSet(
			CodeRateLimitExceeded,
			CodeTemporarilyUnavailable,
			CodeInternalServerError,
			CodeSendException,
		),
	}
}

// NewPolicy builds and validates a policy. When no codes are given the default
// retryable set is used.
func NewPolicy(maxAttempts int, base, max time.Duration, codes ...string) (Policy, error) {
	p := Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   base,
		MaxDelay:    max,
	}
	if len(codes) == 0 {
		p.RetryableCodes = DefaultPolicy().RetryableCodes
	} else {
		p.RetryableCodes = codeSet(codes...)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("base delay must be positive, got %s", p.BaseDelay)
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("max delay %s must not be less than base delay %s", p.MaxDelay, p.BaseDelay)
	}
	return nil
}

// WithMaxAttempts returns a copy of p with a different attempt budget.
func (p Policy) WithMaxAttempts(n int) Policy {
	p.MaxAttempts = n
	return p
}

// IsRetryable reports whether code is in the policy's retryable set.
// An empty code means the failure could not be identified and is never retried.
// Validation, credential and unrecognized codes are terminal.
func IsRetryable(code string, p Policy) bool {
	if code == "" {
		return false
	}
	_, ok := p.RetryableCodes[code]
	return ok
}

func codeSet(codes ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}
