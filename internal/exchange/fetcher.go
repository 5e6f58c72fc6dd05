package exchange

import (
	"context"
	"log/slog"
	"time"

	apperrors "github.com/odysseus-quant/marketdata/internal/errors"
)

// sleepFunc pauses for d or until the context is done. Injected so tests can
// observe the backoff schedule without waiting it out.
type sleepFunc func(ctx context.Context, d time.Duration) error

func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryingFetcher decorates a KlineFetcher with the bounded retry policy.
// Transient failures are retried with exponential backoff; fatal failures and
// empty results pass straight through. Each call carries its own backoff
// state, so a single instance is safe for concurrent use.
type RetryingFetcher struct {
	next   KlineFetcher
	policy apperrors.RetryPolicy
	sleep  sleepFunc
	logger *slog.Logger
}

// NewRetryingFetcher wraps next with the given retry policy.
func NewRetryingFetcher(next KlineFetcher, policy apperrors.RetryPolicy, logger *slog.Logger) *RetryingFetcher {
	return &RetryingFetcher{
		next:   next,
		policy: policy,
		sleep:  ctxSleep,
		logger: logger.With(slog.String("component", "retrying_fetcher")),
	}
}

// FetchKlines attempts the fetch up to MaxRetries times. The delay before
// retry k+1 is min(baseDelay * 2^k, maxDelay). When the budget is spent the
// terminal error reports the attempt count and wraps the last failure.
func (f *RetryingFetcher) FetchKlines(ctx context.Context, symbol, timeframe string, since *time.Time, limit int) ([]RawKline, error) {
	bo := f.policy.Backoff()

	var lastErr error
	for attempt := 0; attempt < f.policy.MaxRetries; attempt++ {
		rows, err := f.next.FetchKlines(ctx, symbol, timeframe, since, limit)
		if err == nil {
			return rows, nil
		}
		if !apperrors.IsRetryable(err) {
			return nil, err
		}
		lastErr = err

		if attempt == f.policy.MaxRetries-1 {
			break
		}

		delay := bo.NextBackOff()
		f.logger.Warn("transient fetch failure, backing off",
			slog.String("symbol", symbol),
			slog.String("timeframe", timeframe),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.Any("error", err))

		if err := f.sleep(ctx, delay); err != nil {
			return nil, &apperrors.RetriesExhaustedError{Attempts: attempt + 1, Last: err}
		}
	}

	return nil, &apperrors.RetriesExhaustedError{Attempts: f.policy.MaxRetries, Last: lastErr}
}
