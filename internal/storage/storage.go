// Package storage persists validated candles and recorded gaps. It defines
// the interfaces the pipeline consumes, a DuckDB backend for durable
// time-series storage, and an in-memory backend with the same semantics for
// tests and ephemeral runs.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/odysseus-quant/marketdata/internal/models"
)

// StorageError wraps a failed storage operation. A batch that fails persists
// nothing; the caller treats the whole cycle for that symbol as failed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Upserter writes candle batches idempotently.
type Upserter interface {
	// Upsert persists the batch atomically, keyed by (timestamp, symbol,
	// exchange, timeframe). Conflicting rows are overwritten wholesale
	// except for their creation timestamp. Returns the number of rows
	// written. A failure persists nothing from the batch.
	Upsert(ctx context.Context, candles []*models.Candle) (int, error)
}

// Reader retrieves stored candles.
type Reader interface {
	// Query returns candles for symbol/timeframe in [start, end), ascending.
	Query(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]*models.Candle, error)

	// GetLatest returns the most recent candle for symbol/timeframe, or
	// nil when none is stored.
	GetLatest(ctx context.Context, symbol, timeframe string) (*models.Candle, error)
}

// GapRecorder persists large-gap events.
type GapRecorder interface {
	RecordGap(ctx context.Context, gap *models.Gap) error
	ListGaps(ctx context.Context, symbol, timeframe string) ([]*models.Gap, error)
}

// Stats summarizes store contents for health reporting.
type Stats struct {
	CandleCount   int64     `json:"candle_count"`
	GapCount      int64     `json:"gap_count"`
	SymbolCount   int64     `json:"symbol_count"`
	EarliestEntry time.Time `json:"earliest_entry"`
	LatestEntry   time.Time `json:"latest_entry"`
}

// Manager handles store lifecycle and diagnostics.
type Manager interface {
	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}

// Store is the full storage surface the collector wires up.
type Store interface {
	Upserter
	Reader
	GapRecorder
	Manager
}
