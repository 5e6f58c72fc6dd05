package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// QualityMetrics summarizes the outcome of one validation pass over a
// symbol's candle batch. Metrics are ephemeral: recomputed on every pass,
// held in memory per symbol, never historized.
type QualityMetrics struct {
	Symbol              string          `json:"symbol"`
	TotalRecords        int             `json:"total_records"`
	MissingRecords      int             `json:"missing_records"`
	InterpolatedRecords int             `json:"interpolated_records"`
	CorruptedRecords    int             `json:"corrupted_records"`
	QualityScore        decimal.Decimal `json:"quality_score"`
	ComputedAt          time.Time       `json:"computed_at"`
}

// MissingRatio returns missing/total, guarding against an empty batch.
func (m *QualityMetrics) MissingRatio() decimal.Decimal {
	total := m.TotalRecords
	if total < 1 {
		total = 1
	}
	return decimal.NewFromInt(int64(m.MissingRecords)).Div(decimal.NewFromInt(int64(total)))
}

// Healthy reports whether the batch meets the injected quality thresholds:
// quality score at or above minScore and missing ratio at or below maxMissing.
func (m *QualityMetrics) Healthy(minScore, maxMissing decimal.Decimal) bool {
	return m.QualityScore.GreaterThanOrEqual(minScore) && m.MissingRatio().LessThanOrEqual(maxMissing)
}

// String returns a compact summary for logging.
func (m *QualityMetrics) String() string {
	return fmt.Sprintf("QualityMetrics{Symbol: %s, Total: %d, Missing: %d, Interpolated: %d, Corrupted: %d, Score: %s}",
		m.Symbol, m.TotalRecords, m.MissingRecords, m.InterpolatedRecords, m.CorruptedRecords, m.QualityScore.StringFixed(3))
}
