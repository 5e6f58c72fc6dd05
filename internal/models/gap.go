package models

import (
	"errors"
	"fmt"
	"time"
)

// GapStatus tracks the lifecycle of a recorded data gap.
type GapStatus string

const (
	// GapStatusDetected indicates a gap has been identified but not resolved.
	GapStatusDetected GapStatus = "detected"
	// GapStatusPermanent indicates the gap exceeds the interpolation bound
	// and the missing range was left unfilled.
	GapStatusPermanent GapStatus = "permanent"
)

// Gap records a run of missing expected candles between two observed candles
// that was too large to interpolate. Small gaps are repaired in-line by the
// interpolator and never recorded.
type Gap struct {
	// ID is the unique gap identifier.
	ID string `json:"id" db:"id"`

	// Symbol is the trading symbol (e.g. "BTC/USDT").
	Symbol string `json:"symbol" db:"symbol"`

	// Timeframe is the missing data timeframe (e.g. "1h").
	Timeframe string `json:"timeframe" db:"timeframe"`

	// StartTime is the timestamp of the last observed candle before the gap.
	StartTime time.Time `json:"start_time" db:"start_time"`

	// EndTime is the timestamp of the first observed candle after the gap.
	EndTime time.Time `json:"end_time" db:"end_time"`

	// MissingCount is the number of expected candles absent in (start, end).
	MissingCount int `json:"missing_count" db:"missing_count"`

	// Status is the current gap status.
	Status GapStatus `json:"status" db:"status"`

	// CreatedAt is when the gap was detected.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewGap creates a Gap in detected status and validates it.
func NewGap(id, symbol, timeframe string, startTime, endTime time.Time, missing int) (*Gap, error) {
	gap := &Gap{
		ID:           id,
		Symbol:       symbol,
		Timeframe:    timeframe,
		StartTime:    startTime,
		EndTime:      endTime,
		MissingCount: missing,
		Status:       GapStatusDetected,
		CreatedAt:    time.Now().UTC(),
	}

	if err := gap.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gap: %w", err)
	}

	return gap, nil
}

// Validate checks required fields and time ordering.
func (g *Gap) Validate() error {
	if g.ID == "" {
		return errors.New("gap ID cannot be empty")
	}
	if g.Symbol == "" {
		return errors.New("gap symbol cannot be empty")
	}
	if g.Timeframe == "" {
		return errors.New("gap timeframe cannot be empty")
	}
	if g.StartTime.IsZero() {
		return errors.New("gap start time cannot be zero")
	}
	if g.EndTime.IsZero() {
		return errors.New("gap end time cannot be zero")
	}
	if !g.EndTime.After(g.StartTime) {
		return errors.New("gap end time must be after start time")
	}
	if g.MissingCount <= 0 {
		return errors.New("gap missing count must be positive")
	}

	switch g.Status {
	case GapStatusDetected, GapStatusPermanent:
	default:
		return fmt.Errorf("invalid gap status: %s", g.Status)
	}

	return nil
}

// Duration returns the time span covered by the gap.
func (g *Gap) Duration() time.Duration {
	return g.EndTime.Sub(g.StartTime)
}

// MarkPermanent transitions the gap to permanent status. Gaps beyond the
// interpolation bound are recorded this way and excluded from repair.
func (g *Gap) MarkPermanent() {
	g.Status = GapStatusPermanent
}

// String returns a human-readable representation of the gap.
func (g *Gap) String() string {
	return fmt.Sprintf("Gap{ID: %s, Symbol: %s, Timeframe: %s, Missing: %d, Duration: %v, Status: %s}",
		g.ID, g.Symbol, g.Timeframe, g.MissingCount, g.Duration(), g.Status)
}
