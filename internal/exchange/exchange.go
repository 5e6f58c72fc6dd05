// Package exchange provides access to exchange market-data APIs. It defines
// the fetcher contracts the rest of the pipeline consumes, a Binance adapter
// built on the official REST client, and a retrying decorator that applies
// the bounded backoff policy to transient failures.
package exchange

import (
	"context"
	"time"
)

// RawKline is one OHLCV row as returned by an exchange, before validation.
// Prices and volumes stay as the exchange's decimal strings so no precision
// is lost before normalization.
type RawKline struct {
	// OpenTime is the candle open in milliseconds since the Unix epoch.
	OpenTime int64

	Open   string
	High   string
	Low    string
	Close  string
	Volume string

	// Extended fields, populated when the exchange provides them.
	QuoteVolume         string
	TradesCount         int64
	TakerBuyVolume      string
	TakerBuyQuoteVolume string
}

// KlineFetcher fetches raw candles for one symbol and timeframe.
//
// since is the inclusive lower bound of the window; nil means "most recent
// candles". limit caps the number of rows returned. Implementations return
// rows in ascending open-time order and classify failures into the pipeline's
// error taxonomy.
type KlineFetcher interface {
	FetchKlines(ctx context.Context, symbol, timeframe string, since *time.Time, limit int) ([]RawKline, error)
}

// HealthChecker reports whether the exchange API is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
