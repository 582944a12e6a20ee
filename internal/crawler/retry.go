package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"
)

// ErrRetriesExhausted is matched by the error Retry returns once every
// attempt has failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

// RetryPolicy bounds attempts and spaces them out.
type RetryPolicy interface {
	// Attempts is the total number of calls Retry may make.
	Attempts() int
	// Backoff returns the wait before attempt number attempt+1.
	Backoff(attempt int) time.Duration
}

// RetryError wraps the last failure of an exhausted retry loop.
type RetryError struct {
	Attempts int
	Last     error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrRetriesExhausted, e.Attempts, e.Last)
}

// Unwrap exposes both the sentinel and the last failure to errors.Is/As.
func (e *RetryError) Unwrap() []error {
	return []error{ErrRetriesExhausted, e.Last}
}

// PermanentError marks a failure that another attempt cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Retry returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// Retry calls fn until it succeeds or the policy's attempts run out.
// Context cancellation and permanent errors stop the loop at once and are
// returned as is.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	attempts := 1
	if policy != nil && policy.Attempts() > 0 {
		attempts = policy.Attempts()
	}
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("retry: %w", err)
		}
		value, err := fn(ctx, attempt)
		if err == nil {
			return value, nil
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("retry: %w", err)
		}
		if IsPermanent(err) {
			return zero, err
		}
		last = err
		if attempt == attempts || policy == nil {
			continue
		}
		timer := time.NewTimer(policy.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return zero, &RetryError{Attempts: attempts, Last: last}
}

// ExponentialRetryPolicy implements RetryPolicy with jittered backoff.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy builds a policy. Non-positive values fall back
// to 5 attempts, 500ms base delay and a 10s ceiling.
func NewExponentialRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *ExponentialRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &ExponentialRetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
	}
}

// Attempts returns the configured attempt budget.
func (p *ExponentialRetryPolicy) Attempts() int {
	return p.maxAttempts
}

// Backoff returns the wait duration before the next attempt: half the
// capped exponential delay plus up to the same amount of jitter.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *ExponentialRetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
