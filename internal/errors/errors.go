// Package errors provides the pipeline error taxonomy with retry
// classification. Transient exchange failures (network, rate limit) are
// retryable; exchange-fatal, validation, and storage failures are not.
package errors

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrorType classifies an error for handling decisions.
type ErrorType string

const (
	TypeNetwork       ErrorType = "network"
	TypeRateLimit     ErrorType = "rate_limit"
	TypeExchangeFatal ErrorType = "exchange_fatal"
	TypeValidation    ErrorType = "validation"
	TypeLargeGap      ErrorType = "large_gap"
	TypeStorage       ErrorType = "storage"
	TypeUnknown       ErrorType = "unknown"
)

// NetworkError wraps a transient connectivity failure from the exchange.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RateLimitError indicates the exchange rejected a request for exceeding
// its rate limits. Retried with backoff.
type RateLimitError struct {
	Err error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// ExchangeFatalError indicates a non-retryable exchange failure such as an
// unknown symbol or a rejected request. Escalated to the caller immediately.
type ExchangeFatalError struct {
	Op  string
	Err error
}

func (e *ExchangeFatalError) Error() string {
	return fmt.Sprintf("exchange error during %s: %v", e.Op, e.Err)
}

func (e *ExchangeFatalError) Unwrap() error { return e.Err }

// RetriesExhaustedError is the terminal failure returned after the retry
// budget is spent. It carries the attempt count and the last error seen.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }

// rateLimitPatterns are matched case-insensitively against error text when
// no typed error is present. Mirrors how exchanges phrase 429 responses.
var rateLimitPatterns = []string{
	"rate limit",
	"too many requests",
	"quota exceeded",
	"-1003",
}

var networkPatterns = []string{
	"connection refused",
	"connection reset",
	"connection aborted",
	"no route to host",
	"host unreachable",
	"network unreachable",
	"broken pipe",
	"eof",
	"timeout",
	"deadline exceeded",
	"dns",
	"resolve",
}

// Classify determines the error type, preferring typed errors and falling
// back to message matching for errors surfaced by third-party clients.
func Classify(err error) ErrorType {
	if err == nil {
		return TypeUnknown
	}

	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return TypeRateLimit
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return TypeNetwork
	}
	var fatalErr *ExchangeFatalError
	if errors.As(err, &fatalErr) {
		return TypeExchangeFatal
	}

	var nErr net.Error
	if errors.As(err, &nErr) {
		return TypeNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range rateLimitPatterns {
		if strings.Contains(msg, pattern) {
			return TypeRateLimit
		}
	}
	for _, pattern := range networkPatterns {
		if strings.Contains(msg, pattern) {
			return TypeNetwork
		}
	}

	return TypeUnknown
}

// IsRetryable reports whether the error should go through the
// backoff-and-retry loop.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case TypeNetwork, TypeRateLimit:
		return true
	default:
		return false
	}
}

// RetryPolicy bounds the retry loop. Delay for attempt k (counted from 0)
// is min(BaseDelay * 2^k, MaxDelay).
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy matches the exchange fetcher defaults: five attempts,
// 1s base delay doubling up to 60s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  time.Second,
		MaxDelay:   60 * time.Second,
	}
}

// Backoff builds the deterministic exponential schedule for the policy.
// Randomization is disabled so the delay sequence is exactly
// base, 2*base, 4*base, ... capped at MaxDelay.
func (p RetryPolicy) Backoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = 2.0
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
