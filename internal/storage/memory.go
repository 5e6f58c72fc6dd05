package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/odysseus-quant/marketdata/internal/models"
)

// MemoryStore implements Store in memory with the same upsert semantics as
// the durable backend. Used in tests and ephemeral runs.
type MemoryStore struct {
	mu       sync.RWMutex
	exchange string
	candles  map[string]*storedCandle
	gaps     map[string]*models.Gap

	// failNext forces the next Upsert to fail; test hook for exercising
	// the all-or-nothing contract.
	failNext bool
}

type storedCandle struct {
	candle    models.Candle
	createdAt time.Time
}

// NewMemoryStore builds an empty in-memory store for the given exchange.
func NewMemoryStore(exchange string) *MemoryStore {
	return &MemoryStore{
		exchange: exchange,
		candles:  make(map[string]*storedCandle),
		gaps:     make(map[string]*models.Gap),
	}
}

func (s *MemoryStore) key(timestamp time.Time, symbol, timeframe string) string {
	return fmt.Sprintf("%d|%s|%s|%s", timestamp.UTC().UnixMilli(), symbol, s.exchange, timeframe)
}

// Initialize is a no-op for the in-memory backend.
func (s *MemoryStore) Initialize(ctx context.Context) error { return nil }

// FailNextUpsert makes the next Upsert return a StorageError.
func (s *MemoryStore) FailNextUpsert() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

// Upsert validates and stores the batch. Either every row lands or none do.
func (s *MemoryStore) Upsert(ctx context.Context, candles []*models.Candle) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, &StorageError{Op: "upsert", Err: err}
	}
	if len(candles) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext {
		s.failNext = false
		return 0, &StorageError{Op: "upsert", Err: fmt.Errorf("injected failure")}
	}

	// Validate the whole batch before touching state.
	for _, c := range candles {
		if err := c.Validate(); err != nil {
			return 0, &StorageError{Op: "upsert_validate", Err: err}
		}
	}

	now := time.Now().UTC()
	for _, c := range candles {
		k := s.key(c.Timestamp, c.Symbol, c.Timeframe)
		createdAt := now
		if existing, ok := s.candles[k]; ok {
			createdAt = existing.createdAt
		}
		s.candles[k] = &storedCandle{candle: *c, createdAt: createdAt}
	}
	return len(candles), nil
}

// Query returns candles in [start, end) ascending.
func (s *MemoryStore) Query(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]*models.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Candle
	for _, sc := range s.candles {
		c := sc.candle
		if c.Symbol != symbol || c.Timeframe != timeframe {
			continue
		}
		if c.Timestamp.Before(start) || !c.Timestamp.Before(end) {
			continue
		}
		cc := c
		out = append(out, &cc)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// GetLatest returns the newest candle for symbol/timeframe, or nil.
func (s *MemoryStore) GetLatest(ctx context.Context, symbol, timeframe string) (*models.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.Candle
	for _, sc := range s.candles {
		c := sc.candle
		if c.Symbol != symbol || c.Timeframe != timeframe {
			continue
		}
		if latest == nil || c.Timestamp.After(latest.Timestamp) {
			cc := c
			latest = &cc
		}
	}
	return latest, nil
}

// RecordGap stores a gap event keyed by ID.
func (s *MemoryStore) RecordGap(ctx context.Context, gap *models.Gap) error {
	if err := gap.Validate(); err != nil {
		return &StorageError{Op: "record_gap_validate", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	g := *gap
	s.gaps[gap.ID] = &g
	return nil
}

// ListGaps returns recorded gaps for symbol/timeframe, newest first.
func (s *MemoryStore) ListGaps(ctx context.Context, symbol, timeframe string) ([]*models.Gap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Gap
	for _, g := range s.gaps {
		if g.Symbol != symbol || g.Timeframe != timeframe {
			continue
		}
		gg := *g
		out = append(out, &gg)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out, nil
}

// HealthCheck always succeeds for the in-memory backend.
func (s *MemoryStore) HealthCheck(ctx context.Context) error { return nil }

// GetStats summarizes store contents.
func (s *MemoryStore) GetStats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{
		CandleCount: int64(len(s.candles)),
		GapCount:    int64(len(s.gaps)),
	}

	symbols := make(map[string]struct{})
	for _, sc := range s.candles {
		symbols[sc.candle.Symbol] = struct{}{}
		ts := sc.candle.Timestamp
		if stats.EarliestEntry.IsZero() || ts.Before(stats.EarliestEntry) {
			stats.EarliestEntry = ts
		}
		if ts.After(stats.LatestEntry) {
			stats.LatestEntry = ts
		}
	}
	stats.SymbolCount = int64(len(symbols))
	return stats, nil
}

// Close is a no-op for the in-memory backend.
func (s *MemoryStore) Close() error { return nil }

// CreatedAt exposes a stored row's creation timestamp; test helper for the
// upsert contract.
func (s *MemoryStore) CreatedAt(timestamp time.Time, symbol, timeframe string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc, ok := s.candles[s.key(timestamp, symbol, timeframe)]
	if !ok {
		return time.Time{}, false
	}
	return sc.createdAt, true
}
