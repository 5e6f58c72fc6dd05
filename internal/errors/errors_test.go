package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_TypedErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{
			name: "network error",
			err:  &NetworkError{Op: "fetch", Err: errors.New("socket closed")},
			want: TypeNetwork,
		},
		{
			name: "rate limit error",
			err:  &RateLimitError{Err: errors.New("429")},
			want: TypeRateLimit,
		},
		{
			name: "exchange fatal error",
			err:  &ExchangeFatalError{Op: "fetch", Err: errors.New("invalid symbol")},
			want: TypeExchangeFatal,
		},
		{
			name: "wrapped network error",
			err:  fmt.Errorf("fetch failed: %w", &NetworkError{Op: "fetch", Err: errors.New("reset")}),
			want: TypeNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassify_MessageMatching(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"rate limit text", errors.New("Rate Limit exceeded for endpoint"), TypeRateLimit},
		{"too many requests", errors.New("HTTP 429: too many requests"), TypeRateLimit},
		{"binance ban code", errors.New("<APIError> code=-1003, msg=Way too much request weight used"), TypeRateLimit},
		{"connection refused", errors.New("dial tcp: connection refused"), TypeNetwork},
		{"timeout", errors.New("context deadline exceeded"), TypeNetwork},
		{"unclassified", errors.New("something odd happened"), TypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&NetworkError{Op: "fetch", Err: errors.New("reset")}))
	assert.True(t, IsRetryable(&RateLimitError{Err: errors.New("429")}))
	assert.False(t, IsRetryable(&ExchangeFatalError{Op: "fetch", Err: errors.New("bad symbol")}))
	assert.False(t, IsRetryable(errors.New("unrelated")))
	assert.False(t, IsRetryable(nil))
}

func TestRetryPolicy_BackoffSchedule(t *testing.T) {
	policy := RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  time.Second,
		MaxDelay:   60 * time.Second,
	}

	b := policy.Backoff()

	// Deterministic doubling: 1s, 2s, 4s, 8s, ...
	expected := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}

	for i, want := range expected {
		got := b.NextBackOff()
		assert.Equal(t, want, got, "delay for attempt %d", i)
	}
}

func TestRetriesExhaustedError(t *testing.T) {
	inner := &NetworkError{Op: "fetch", Err: errors.New("reset")}
	err := &RetriesExhaustedError{Attempts: 5, Last: inner}

	assert.Contains(t, err.Error(), "after 5 attempts")

	var exhausted *RetriesExhaustedError
	require.True(t, errors.As(fmt.Errorf("collect: %w", err), &exhausted))
	assert.Equal(t, 5, exhausted.Attempts)

	var netErr *NetworkError
	assert.True(t, errors.As(err, &netErr))
}
