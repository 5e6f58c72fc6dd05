// Package models provides data structures and validation for OHLCV market data.
// This package contains the core data models for the ingestion pipeline:
// candles, quality metrics, and recorded data gaps.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DataSource identifies where a candle record originated.
type DataSource string

const (
	// SourceAPI marks candles fetched from the exchange REST API.
	SourceAPI DataSource = "api"
	// SourceWebsocket marks candles received over a streaming connection.
	SourceWebsocket DataSource = "websocket"
	// SourceManual marks candles inserted by an operator.
	SourceManual DataSource = "manual"
	// SourceInterpolation marks candles synthesized by the gap interpolator.
	SourceInterpolation DataSource = "interpolation"
)

// Valid reports whether ds is one of the known data sources.
func (ds DataSource) Valid() bool {
	switch ds {
	case SourceAPI, SourceWebsocket, SourceManual, SourceInterpolation:
		return true
	}
	return false
}

// DataStatus classifies a record during validation accounting.
type DataStatus string

const (
	StatusValid        DataStatus = "valid"
	StatusInterpolated DataStatus = "interpolated"
	StatusMissing      DataStatus = "missing"
	StatusCorrupted    DataStatus = "corrupted"
)

// Candle represents OHLCV price and volume data for a symbol at one
// timeframe-aligned instant. Candles are immutable after creation; persisted
// rows are replaced wholesale on re-ingestion of the same key.
type Candle struct {
	Symbol    string          `json:"symbol" db:"symbol"`
	Timeframe string          `json:"timeframe" db:"timeframe"`
	Timestamp time.Time       `json:"timestamp" db:"time"`
	Open      decimal.Decimal `json:"open" db:"open"`
	High      decimal.Decimal `json:"high" db:"high"`
	Low       decimal.Decimal `json:"low" db:"low"`
	Close     decimal.Decimal `json:"close" db:"close"`
	Volume    decimal.Decimal `json:"volume" db:"volume"`

	// Optional exchange extras; zero when the feed does not supply them.
	QuoteVolume         decimal.Decimal `json:"quote_volume,omitempty" db:"quote_volume"`
	TradesCount         int64           `json:"trades_count,omitempty" db:"trades_count"`
	TakerBuyVolume      decimal.Decimal `json:"taker_buy_volume,omitempty" db:"taker_buy_volume"`
	TakerBuyQuoteVolume decimal.Decimal `json:"taker_buy_quote_volume,omitempty" db:"taker_buy_quote_volume"`

	Source       DataSource `json:"source" db:"data_source"`
	Interpolated bool       `json:"interpolated" db:"is_interpolated"`
}

// ValidationError represents a candle validation error with field context.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Validate enforces the candle invariants: all prices strictly positive,
// volume non-negative, high >= max(open, close), low <= min(open, close),
// and required identity fields present. Returns a ValidationError on the
// first violation found.
func (c *Candle) Validate() error {
	if c.Symbol == "" {
		return &ValidationError{Field: "symbol", Message: "symbol cannot be empty"}
	}
	if c.Timeframe == "" {
		return &ValidationError{Field: "timeframe", Message: "timeframe cannot be empty"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "timestamp cannot be zero"}
	}

	zero := decimal.Zero
	if c.Open.LessThanOrEqual(zero) {
		return &ValidationError{Field: "open", Message: "open price must be greater than 0"}
	}
	if c.High.LessThanOrEqual(zero) {
		return &ValidationError{Field: "high", Message: "high price must be greater than 0"}
	}
	if c.Low.LessThanOrEqual(zero) {
		return &ValidationError{Field: "low", Message: "low price must be greater than 0"}
	}
	if c.Close.LessThanOrEqual(zero) {
		return &ValidationError{Field: "close", Message: "close price must be greater than 0"}
	}
	if c.Volume.LessThan(zero) {
		return &ValidationError{Field: "volume", Message: "volume must be greater than or equal to 0"}
	}

	maxOpenClose := decimal.Max(c.Open, c.Close)
	if c.High.LessThan(maxOpenClose) {
		return &ValidationError{
			Field:   "high",
			Message: fmt.Sprintf("high price (%s) must be greater than or equal to max(open, close) (%s)", c.High, maxOpenClose),
		}
	}

	minOpenClose := decimal.Min(c.Open, c.Close)
	if c.Low.GreaterThan(minOpenClose) {
		return &ValidationError{
			Field:   "low",
			Message: fmt.Sprintf("low price (%s) must be less than or equal to min(open, close) (%s)", c.Low, minOpenClose),
		}
	}

	if c.Source == "" {
		return &ValidationError{Field: "source", Message: "data source cannot be empty"}
	}
	if !c.Source.Valid() {
		return &ValidationError{Field: "source", Message: fmt.Sprintf("unknown data source %q", c.Source)}
	}

	return nil
}

// Range returns the total price movement for the period (high - low).
func (c *Candle) Range() decimal.Decimal {
	return c.High.Sub(c.Low)
}

// BodySize returns the absolute difference between open and close.
func (c *Candle) BodySize() decimal.Decimal {
	return c.Close.Sub(c.Open).Abs()
}

// IsBullish reports whether the close is above the open.
func (c *Candle) IsBullish() bool {
	return c.Close.GreaterThan(c.Open)
}

// String returns a human-readable representation of the candle.
// This method implements the fmt.Stringer interface.
func (c *Candle) String() string {
	return fmt.Sprintf("Candle{Symbol: %s, Timeframe: %s, Timestamp: %s, O: %s, H: %s, L: %s, C: %s, V: %s, Source: %s}",
		c.Symbol, c.Timeframe, c.Timestamp.Format(time.RFC3339), c.Open, c.High, c.Low, c.Close, c.Volume, c.Source)
}

// NewCandle creates a validated Candle from decimal strings. The timestamp
// should be the UTC open time of the candle period. Returns a ValidationError
// wrapped with context if any invariant fails.
//
// Example:
//
//	candle, err := NewCandle("BTC/USDT", "1h", ts,
//	    "100.50", "101.00", "100.00", "100.75", "1000.5", SourceAPI)
func NewCandle(symbol, timeframe string, timestamp time.Time, open, high, low, close, volume string, source DataSource) (*Candle, error) {
	o, err := decimal.NewFromString(open)
	if err != nil {
		return nil, &ValidationError{Field: "open", Message: fmt.Sprintf("invalid open price format: %v", err)}
	}
	h, err := decimal.NewFromString(high)
	if err != nil {
		return nil, &ValidationError{Field: "high", Message: fmt.Sprintf("invalid high price format: %v", err)}
	}
	l, err := decimal.NewFromString(low)
	if err != nil {
		return nil, &ValidationError{Field: "low", Message: fmt.Sprintf("invalid low price format: %v", err)}
	}
	cl, err := decimal.NewFromString(close)
	if err != nil {
		return nil, &ValidationError{Field: "close", Message: fmt.Sprintf("invalid close price format: %v", err)}
	}
	v, err := decimal.NewFromString(volume)
	if err != nil {
		return nil, &ValidationError{Field: "volume", Message: fmt.Sprintf("invalid volume format: %v", err)}
	}

	candle := &Candle{
		Symbol:    symbol,
		Timeframe: timeframe,
		Timestamp: timestamp.UTC(),
		Open:      o,
		High:      h,
		Low:       l,
		Close:     cl,
		Volume:    v,
		Source:    source,
	}

	if err := candle.Validate(); err != nil {
		return nil, fmt.Errorf("failed to create candle: %w", err)
	}

	return candle, nil
}
