// Package gaps detects missing intervals in ordered candle sequences and
// repairs small runs by linear interpolation. Runs beyond the configured
// bound are recorded as Gap events and left unfilled.
package gaps

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odysseus-quant/marketdata/internal/models"
)

// timeframeMinutes is the expected candle spacing per timeframe.
var timeframeMinutes = map[string]int{
	"1m":  1,
	"5m":  5,
	"15m": 15,
	"30m": 30,
	"1h":  60,
	"2h":  120,
	"4h":  240,
	"6h":  360,
	"12h": 720,
	"1d":  1440,
}

// TimeframeMinutes returns the expected interval in minutes for a timeframe.
// Unknown timeframes default to 60.
func TimeframeMinutes(timeframe string) int {
	if m, ok := timeframeMinutes[timeframe]; ok {
		return m
	}
	return 60
}

// Detector scans candle sequences for missing intervals.
type Detector struct {
	// maxInterpolationGap is the largest run of missing candles that gets
	// synthesized; longer runs become recorded Gap events.
	maxInterpolationGap int
	logger              *slog.Logger
}

// NewDetector builds a Detector with the given interpolation bound.
func NewDetector(maxInterpolationGap int, logger *slog.Logger) *Detector {
	return &Detector{
		maxInterpolationGap: maxInterpolationGap,
		logger:              logger.With(slog.String("component", "gaps")),
	}
}

// FillGaps walks a time-ascending candle sequence for one symbol/timeframe,
// synthesizing interpolated candles for runs of up to maxInterpolationGap
// missing intervals and recording larger runs as Gap events. It returns the
// completed sequence, the number of candles synthesized, and the recorded
// large gaps. The input slice is not modified.
func (d *Detector) FillGaps(candles []*models.Candle, timeframe string) ([]*models.Candle, int, []models.Gap) {
	if len(candles) < 2 {
		return candles, 0, nil
	}

	interval := time.Duration(TimeframeMinutes(timeframe)) * time.Minute
	filled := make([]*models.Candle, 0, len(candles))
	interpolated := 0
	var largeGaps []models.Gap

	for i := 0; i < len(candles)-1; i++ {
		prev, next := candles[i], candles[i+1]
		filled = append(filled, prev)

		gapCount := int(next.Timestamp.Sub(prev.Timestamp)/interval) - 1
		if gapCount <= 0 {
			continue
		}

		if gapCount > d.maxInterpolationGap {
			gap, err := models.NewGap(uuid.NewString(), prev.Symbol, timeframe, prev.Timestamp, next.Timestamp, gapCount)
			if err != nil {
				d.logger.Error("failed to record gap",
					slog.String("symbol", prev.Symbol),
					slog.Any("error", err))
				continue
			}
			gap.MarkPermanent()
			largeGaps = append(largeGaps, *gap)

			d.logger.Warn("gap too large to interpolate",
				slog.String("symbol", prev.Symbol),
				slog.String("timeframe", timeframe),
				slog.Int("missing", gapCount),
				slog.Time("start", prev.Timestamp),
				slog.Time("end", next.Timestamp))
			continue
		}

		for j := 1; j <= gapCount; j++ {
			filled = append(filled, interpolate(prev, next, j, gapCount))
			interpolated++
		}
	}
	filled = append(filled, candles[len(candles)-1])

	if interpolated > 0 {
		d.logger.Info("interpolated missing candles",
			slog.String("symbol", candles[0].Symbol),
			slog.String("timeframe", timeframe),
			slog.Int("count", interpolated))
	}

	return filled, interpolated, largeGaps
}

// interpolate synthesizes the i-th of gapCount missing candles between prev
// and next by linear blend at ratio i/(gapCount+1). The blended high and low
// are clamped afterwards so every synthesized candle satisfies the OHLC
// invariant regardless of the surrounding pair.
func interpolate(prev, next *models.Candle, i, gapCount int) *models.Candle {
	ratio := decimal.NewFromInt(int64(i)).Div(decimal.NewFromInt(int64(gapCount + 1)))

	span := next.Timestamp.Sub(prev.Timestamp)
	timestamp := prev.Timestamp.Add(span * time.Duration(i) / time.Duration(gapCount+1))

	open := prev.Close.Add(ratio.Mul(next.Open.Sub(prev.Close)))
	close := prev.Close.Add(ratio.Mul(next.Close.Sub(prev.Close)))
	high := decimal.Max(prev.Close, next.Open).Add(ratio.Mul(prev.High.Sub(next.High).Abs()))
	low := decimal.Min(prev.Close, next.Open).Sub(ratio.Mul(prev.Low.Sub(next.Low).Abs()))
	volume := prev.Volume.Add(ratio.Mul(next.Volume.Sub(prev.Volume)))

	// Clamp so high covers the body and low stays positive and below it.
	high = decimal.Max(high, open, close)
	low = decimal.Min(low, open, close)
	if !low.IsPositive() {
		low = decimal.Min(open, close)
	}

	return &models.Candle{
		Symbol:       prev.Symbol,
		Timeframe:    prev.Timeframe,
		Timestamp:    timestamp,
		Open:         open,
		High:         high,
		Low:          low,
		Close:        close,
		Volume:       volume,
		Source:       models.SourceInterpolation,
		Interpolated: true,
	}
}
