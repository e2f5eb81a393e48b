// Package retry provides transient-failure classification and a bounded
// exponential backoff wrapper for collaborator calls.
package retry

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"
)

// Policy bounds the retry behavior for one wrapped call. Immutable per run.
type Policy struct {
	// MaxRetries is the number of retries attempted after the initial call.
	MaxRetries int

	// BaseDelay seeds the exponential backoff.
	BaseDelay time.Duration

	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration
}

// DefaultPolicy returns a conservative retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// Delay returns the backoff before the given retry attempt (1-indexed):
// min(BaseDelay * 2^(attempt-1), MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Do invokes fn, retrying recoverable failures per the policy. The first
// non-recoverable error, or the last error once retries are exhausted, is
// returned unchanged. Context cancellation aborts the wait between attempts.
func Do(ctx context.Context, policy Policy, fn func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !IsRecoverable(err) || attempt >= policy.MaxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(policy.Delay(attempt + 1)):
		}
	}
}

// DoValue is Do for calls that return a value.
func DoValue[T any](ctx context.Context, policy Policy, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, policy, func(ctx context.Context) error {
		var callErr error
		result, callErr = fn(ctx)
		return callErr
	})
	return result, err
}

// RecoverableError lets errors declare their own retry classification.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable reports whether an error is worth retrying. Errors
// implementing RecoverableError decide for themselves; everything else is
// classified by heuristics over common network and upstream failure shapes.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var recoverable RecoverableError
	if errors.As(err, &recoverable) {
		return recoverable.IsRecoverable()
	}
	return isRecoverableByType(err)
}

func isRecoverableByType(err error) bool {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, context.Canceled):
		// Cancellation is intentional, don't retry
		return false
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return isRecoverableByType(urlErr.Err)
	}

	errStr := strings.ToLower(err.Error())
	recoverablePatterns := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"rate limit",
		"overloaded",
		"service unavailable",
		"internal server error",
		"bad gateway",
		"gateway timeout",
	}
	for _, pattern := range recoverablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

type recoverableError struct {
	err error
}

func (e *recoverableError) Error() string {
	return e.err.Error()
}

func (e *recoverableError) IsRecoverable() bool {
	return true
}

func (e *recoverableError) Unwrap() error {
	return e.err
}

// NewRecoverableError wraps err so that it is always retried.
func NewRecoverableError(err error) RecoverableError {
	return &recoverableError{err: err}
}

// NonRecoverableError wraps an error that must not be retried.
type NonRecoverableError struct {
	err error
}

func (e *NonRecoverableError) Error() string {
	return e.err.Error()
}

func (e *NonRecoverableError) IsRecoverable() bool {
	return false
}

func (e *NonRecoverableError) Unwrap() error {
	return e.err
}

// NewNonRecoverableError wraps err so that it is never retried.
func NewNonRecoverableError(err error) *NonRecoverableError {
	return &NonRecoverableError{err: err}
}
