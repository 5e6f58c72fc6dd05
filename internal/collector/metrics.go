package collector

import (
	"sync/atomic"
	"time"
)

// Metrics tracks pipeline counters across collection ticks. All methods are
// safe for concurrent use.
type Metrics struct {
	candlesFetched      atomic.Int64
	candlesStored       atomic.Int64
	recordsCorrupted    atomic.Int64
	candlesInterpolated atomic.Int64
	gapsRecorded        atomic.Int64
	symbolFailures      atomic.Int64
	ticksCompleted      atomic.Int64
	lastTickNanos       atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	CandlesFetched      int64         `json:"candles_fetched"`
	CandlesStored       int64         `json:"candles_stored"`
	RecordsCorrupted    int64         `json:"records_corrupted"`
	CandlesInterpolated int64         `json:"candles_interpolated"`
	GapsRecorded        int64         `json:"gaps_recorded"`
	SymbolFailures      int64         `json:"symbol_failures"`
	TicksCompleted      int64         `json:"ticks_completed"`
	LastTickDuration    time.Duration `json:"last_tick_duration"`
}

func (m *Metrics) addFetched(n int)      { m.candlesFetched.Add(int64(n)) }
func (m *Metrics) addStored(n int)       { m.candlesStored.Add(int64(n)) }
func (m *Metrics) addCorrupted(n int)    { m.recordsCorrupted.Add(int64(n)) }
func (m *Metrics) addInterpolated(n int) { m.candlesInterpolated.Add(int64(n)) }
func (m *Metrics) addGaps(n int)         { m.gapsRecorded.Add(int64(n)) }
func (m *Metrics) addFailure()           { m.symbolFailures.Add(1) }

func (m *Metrics) tickDone(d time.Duration) {
	m.ticksCompleted.Add(1)
	m.lastTickNanos.Store(int64(d))
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		CandlesFetched:      m.candlesFetched.Load(),
		CandlesStored:       m.candlesStored.Load(),
		RecordsCorrupted:    m.recordsCorrupted.Load(),
		CandlesInterpolated: m.candlesInterpolated.Load(),
		GapsRecorded:        m.gapsRecorded.Load(),
		SymbolFailures:      m.symbolFailures.Load(),
		TicksCompleted:      m.ticksCompleted.Load(),
		LastTickDuration:    time.Duration(m.lastTickNanos.Load()),
	}
}
