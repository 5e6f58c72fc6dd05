// Package validator converts raw exchange rows into validated candles and
// computes per-symbol quality metrics. Validation failures are per-record:
// a malformed row is counted as corrupted and dropped, never failing the
// batch it arrived in.
package validator

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odysseus-quant/marketdata/internal/exchange"
	"github.com/odysseus-quant/marketdata/internal/models"
)

// Thresholds holds the injected health bounds for quality verdicts.
type Thresholds struct {
	MinQualityScore decimal.Decimal
	MaxMissingRatio decimal.Decimal
}

// Validator normalizes raw klines and scores batch quality.
type Validator struct {
	thresholds Thresholds
	logger     *slog.Logger
}

// New builds a Validator with the given health thresholds.
func New(thresholds Thresholds, logger *slog.Logger) *Validator {
	return &Validator{
		thresholds: thresholds,
		logger:     logger.With(slog.String("component", "validator")),
	}
}

// Normalize converts one raw kline into a validated Candle. The open time is
// interpreted as milliseconds since the Unix epoch and stored in UTC. Any
// parse or invariant failure comes back as a models.ValidationError.
func (v *Validator) Normalize(raw exchange.RawKline, symbol, timeframe string) (*models.Candle, error) {
	if raw.OpenTime <= 0 {
		return nil, &models.ValidationError{
			Field:   "open_time",
			Message: fmt.Sprintf("non-positive epoch milliseconds %d", raw.OpenTime),
		}
	}

	timestamp := time.UnixMilli(raw.OpenTime).UTC()
	candle, err := models.NewCandle(symbol, timeframe, timestamp, raw.Open, raw.High, raw.Low, raw.Close, raw.Volume, models.SourceAPI)
	if err != nil {
		return nil, err
	}

	if raw.QuoteVolume != "" {
		qv, err := decimal.NewFromString(raw.QuoteVolume)
		if err != nil {
			return nil, &models.ValidationError{Field: "quote_volume", Message: fmt.Sprintf("invalid decimal %q", raw.QuoteVolume)}
		}
		candle.QuoteVolume = qv
	}
	if raw.TakerBuyVolume != "" {
		tb, err := decimal.NewFromString(raw.TakerBuyVolume)
		if err != nil {
			return nil, &models.ValidationError{Field: "taker_buy_volume", Message: fmt.Sprintf("invalid decimal %q", raw.TakerBuyVolume)}
		}
		candle.TakerBuyVolume = tb
	}
	if raw.TakerBuyQuoteVolume != "" {
		tbq, err := decimal.NewFromString(raw.TakerBuyQuoteVolume)
		if err != nil {
			return nil, &models.ValidationError{Field: "taker_buy_quote_volume", Message: fmt.Sprintf("invalid decimal %q", raw.TakerBuyQuoteVolume)}
		}
		candle.TakerBuyQuoteVolume = tbq
	}
	candle.TradesCount = raw.TradesCount

	return candle, nil
}

// NormalizeBatch normalizes every row, counting rejected rows as corrupted.
// The result is sorted ascending by timestamp regardless of input order.
func (v *Validator) NormalizeBatch(raw []exchange.RawKline, symbol, timeframe string) ([]*models.Candle, int) {
	candles := make([]*models.Candle, 0, len(raw))
	corrupted := 0

	for _, row := range raw {
		candle, err := v.Normalize(row, symbol, timeframe)
		if err != nil {
			corrupted++
			v.logger.Warn("rejected corrupted record",
				slog.String("symbol", symbol),
				slog.String("timeframe", timeframe),
				slog.Int64("open_time", row.OpenTime),
				slog.Any("error", err))
			continue
		}
		candles = append(candles, candle)
	}

	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})

	return candles, corrupted
}

var (
	corruptedWeight    = decimal.RequireFromString("0.5")
	interpolatedWeight = decimal.RequireFromString("0.2")
)

// Score computes the composite quality score
// 1 - 0.5*corrupted/total - 0.2*interpolated/total, clamped to [0, 1].
// A batch with no records scores zero.
func Score(total, corrupted, interpolated int) decimal.Decimal {
	if total <= 0 {
		return decimal.Zero
	}

	n := decimal.NewFromInt(int64(total))
	score := decimal.NewFromInt(1).
		Sub(corruptedWeight.Mul(decimal.NewFromInt(int64(corrupted))).Div(n)).
		Sub(interpolatedWeight.Mul(decimal.NewFromInt(int64(interpolated))).Div(n))

	if score.IsNegative() {
		return decimal.Zero
	}
	if score.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return score
}

// BuildMetrics assembles the QualityMetrics snapshot for one symbol pass.
// fetched is the raw record count before validation and drives the score
// denominator; total is the record count after interpolation.
func (v *Validator) BuildMetrics(symbol string, fetched, total, missing, interpolated, corrupted int) *models.QualityMetrics {
	return &models.QualityMetrics{
		Symbol:              symbol,
		TotalRecords:        total,
		MissingRecords:      missing,
		InterpolatedRecords: interpolated,
		CorruptedRecords:    corrupted,
		QualityScore:        Score(fetched, corrupted, interpolated),
		ComputedAt:          time.Now().UTC(),
	}
}

// Healthy reports whether metrics clear the configured thresholds.
func (v *Validator) Healthy(m *models.QualityMetrics) bool {
	return m.Healthy(v.thresholds.MinQualityScore, v.thresholds.MaxMissingRatio)
}
