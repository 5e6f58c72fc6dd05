package collector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odysseus-quant/marketdata/internal/config"
	"github.com/odysseus-quant/marketdata/internal/exchange"
	apperrors "github.com/odysseus-quant/marketdata/internal/errors"
	"github.com/odysseus-quant/marketdata/internal/gaps"
	"github.com/odysseus-quant/marketdata/internal/storage"
	"github.com/odysseus-quant/marketdata/internal/validator"
)

// stubFetcher serves canned rows per symbol and records the calls it saw.
type stubFetcher struct {
	mu    sync.Mutex
	rows  map[string][]exchange.RawKline
	errs  map[string]error
	calls []fetchCall
}

type fetchCall struct {
	symbol string
	since  *time.Time
	limit  int
}

func (s *stubFetcher) FetchKlines(ctx context.Context, symbol, timeframe string, since *time.Time, limit int) ([]exchange.RawKline, error) {
	s.mu.Lock()
	s.calls = append(s.calls, fetchCall{symbol: symbol, since: since, limit: limit})
	s.mu.Unlock()

	if err, ok := s.errs[symbol]; ok {
		return nil, err
	}
	return s.rows[symbol], nil
}

func rawRows(base time.Time, n int) []exchange.RawKline {
	rows := make([]exchange.RawKline, n)
	for i := range rows {
		rows[i] = exchange.RawKline{
			OpenTime: base.Add(time.Duration(i) * time.Hour).UnixMilli(),
			Open:     "100", High: "110", Low: "90", Close: "105", Volume: "10",
		}
	}
	return rows
}

func testCollectorConfig() config.CollectorConfig {
	return config.CollectorConfig{
		Symbols:       []string{"A/USDT", "B/USDT", "C/USDT"},
		Timeframe:     "1h",
		Interval:      config.Duration(time.Minute),
		Workers:       4,
		RealtimeLimit: 5,
		BackfillLimit: 1000,
	}
}

func newTestCollector(fetcher exchange.KlineFetcher, store storage.Store) *Collector {
	log := slog.Default()
	v := validator.New(validator.Thresholds{
		MinQualityScore: decimal.RequireFromString("0.95"),
		MaxMissingRatio: decimal.RequireFromString("0.05"),
	}, log)
	d := gaps.NewDetector(5, log)
	return New(fetcher, v, d, store, testCollectorConfig(), log)
}

func TestCollectTickStoresAllSymbols(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	fetcher := &stubFetcher{rows: map[string][]exchange.RawKline{
		"A/USDT": rawRows(base, 5),
		"B/USDT": rawRows(base, 5),
		"C/USDT": rawRows(base, 5),
	}}
	store := storage.NewMemoryStore("binance")
	c := newTestCollector(fetcher, store)

	results := c.CollectTick(context.Background(), []string{"A/USDT", "B/USDT", "C/USDT"})

	// 5 fetched, the still-forming trailing candle dropped.
	assert.Equal(t, map[string]int{"A/USDT": 4, "B/USDT": 4, "C/USDT": 4}, results)

	stored, err := store.Query(context.Background(), "A/USDT", "1h", base, base.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Len(t, stored, 4)

	snap := c.Metrics()
	assert.Equal(t, int64(12), snap.CandlesStored)
	assert.Equal(t, int64(1), snap.TicksCompleted)
	assert.Zero(t, snap.SymbolFailures)
}

func TestCollectTickIsolatesFailures(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	fetcher := &stubFetcher{
		rows: map[string][]exchange.RawKline{
			"A/USDT": rawRows(base, 5),
			"C/USDT": rawRows(base, 5),
		},
		errs: map[string]error{
			"B/USDT": &apperrors.RetriesExhaustedError{Attempts: 5, Last: errors.New("connection refused")},
		},
	}
	store := storage.NewMemoryStore("binance")
	c := newTestCollector(fetcher, store)

	results := c.CollectTick(context.Background(), []string{"A/USDT", "B/USDT", "C/USDT"})

	assert.Equal(t, 4, results["A/USDT"])
	assert.Equal(t, FailedSymbol, results["B/USDT"])
	assert.Equal(t, 4, results["C/USDT"])
	assert.Equal(t, int64(1), c.Metrics().SymbolFailures)
}

func TestCollectTickStorageFailureIsolated(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	fetcher := &stubFetcher{rows: map[string][]exchange.RawKline{
		"A/USDT": rawRows(base, 3),
	}}
	store := storage.NewMemoryStore("binance")
	store.FailNextUpsert()
	c := newTestCollector(fetcher, store)

	results := c.CollectTick(context.Background(), []string{"A/USDT"})
	assert.Equal(t, FailedSymbol, results["A/USDT"])

	// The next tick recovers.
	results = c.CollectTick(context.Background(), []string{"A/USDT"})
	assert.Equal(t, 2, results["A/USDT"])
}

func TestCollectSymbolKeepsSingleCandle(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	fetcher := &stubFetcher{rows: map[string][]exchange.RawKline{
		"A/USDT": rawRows(base, 1),
	}}
	store := storage.NewMemoryStore("binance")
	c := newTestCollector(fetcher, store)

	results := c.CollectTick(context.Background(), []string{"A/USDT"})
	assert.Equal(t, 1, results["A/USDT"], "a lone candle is kept as-is")
}

func TestCollectSymbolEmptyResult(t *testing.T) {
	fetcher := &stubFetcher{rows: map[string][]exchange.RawKline{"A/USDT": {}}}
	store := storage.NewMemoryStore("binance")
	c := newTestCollector(fetcher, store)

	results := c.CollectTick(context.Background(), []string{"A/USDT"})
	assert.Equal(t, 0, results["A/USDT"])
}

func TestCollectTickCountsCorruptedAndInterpolated(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	rows := []exchange.RawKline{
		{OpenTime: base.UnixMilli(), Open: "100", High: "110", Low: "90", Close: "105", Volume: "10"},
		{OpenTime: base.Add(time.Hour).UnixMilli(), Open: "bad", High: "110", Low: "90", Close: "105", Volume: "10"},
		// Two missing hours between the valid neighbors.
		{OpenTime: base.Add(3 * time.Hour).UnixMilli(), Open: "106", High: "112", Low: "100", Close: "108", Volume: "12"},
		{OpenTime: base.Add(4 * time.Hour).UnixMilli(), Open: "108", High: "113", Low: "104", Close: "110", Volume: "11"},
	}

	fetcher := &stubFetcher{rows: map[string][]exchange.RawKline{"A/USDT": rows}}
	store := storage.NewMemoryStore("binance")
	c := newTestCollector(fetcher, store)

	results := c.CollectTick(context.Background(), []string{"A/USDT"})

	// 4 fetched, trailing dropped -> 3; one corrupted -> 2 valid; the two
	// missing hours between 00:00 and 03:00 are synthesized -> 4 stored.
	assert.Equal(t, 4, results["A/USDT"])

	snap := c.Metrics()
	assert.Equal(t, int64(1), snap.RecordsCorrupted)
	assert.Equal(t, int64(2), snap.CandlesInterpolated)

	report := c.QualityReport()
	require.Contains(t, report, "A/USDT")
	m := report["A/USDT"]
	assert.Equal(t, 4, m.TotalRecords)
	assert.Equal(t, 1, m.CorruptedRecords)
	assert.Equal(t, 2, m.InterpolatedRecords)
	assert.Equal(t, 1, m.MissingRecords)

	// The score divides by the 3 fetched records, not the 4 stored ones:
	// 1 - 0.5*1/3 - 0.2*2/3.
	assert.True(t, m.QualityScore.Equal(decimal.RequireFromString("0.7")),
		"score = %s, want 0.7", m.QualityScore)
}

func TestBackfillScoresAgainstFetchedCount(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	rows := []exchange.RawKline{
		{OpenTime: base.UnixMilli(), Open: "100", High: "110", Low: "90", Close: "105", Volume: "10"},
		{OpenTime: base.Add(3 * time.Hour).UnixMilli(), Open: "106", High: "112", Low: "100", Close: "108", Volume: "12"},
	}

	fetcher := &stubFetcher{rows: map[string][]exchange.RawKline{"A/USDT": rows}}
	store := storage.NewMemoryStore("binance")
	c := newTestCollector(fetcher, store)

	n, err := c.Backfill(context.Background(), "A/USDT", base, 100)
	require.NoError(t, err)
	assert.Equal(t, 4, n, "two observed candles plus two synthesized ones")

	report := c.QualityReport()
	require.Contains(t, report, "A/USDT")
	m := report["A/USDT"]
	assert.Equal(t, 4, m.TotalRecords)
	assert.Equal(t, 2, m.InterpolatedRecords)
	assert.Zero(t, m.CorruptedRecords)

	// 2 interpolated against 2 fetched costs the full interpolation weight:
	// 1 - 0.2*2/2, even though the stored batch holds 4 records.
	assert.True(t, m.QualityScore.Equal(decimal.RequireFromString("0.8")),
		"score = %s, want 0.8", m.QualityScore)
}

func TestBackfillSkipsTrailingExclusion(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fetcher := &stubFetcher{rows: map[string][]exchange.RawKline{
		"A/USDT": rawRows(base, 10),
	}}
	store := storage.NewMemoryStore("binance")
	c := newTestCollector(fetcher, store)

	since := base
	n, err := c.Backfill(context.Background(), "A/USDT", since, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, n, "backfill keeps the full closed range")

	require.Len(t, fetcher.calls, 1)
	call := fetcher.calls[0]
	require.NotNil(t, call.since)
	assert.True(t, call.since.Equal(since))
	assert.Equal(t, 1000, call.limit, "zero limit falls back to the configured backfill limit")
}

func TestBackfillPropagatesFetchError(t *testing.T) {
	fetcher := &stubFetcher{errs: map[string]error{
		"A/USDT": &apperrors.ExchangeFatalError{Op: "fetch", Err: errors.New("invalid symbol")},
	}}
	c := newTestCollector(fetcher, storage.NewMemoryStore("binance"))

	_, err := c.Backfill(context.Background(), "A/USDT", time.Now().Add(-24*time.Hour), 100)
	require.Error(t, err)

	var fatal *apperrors.ExchangeFatalError
	assert.ErrorAs(t, err, &fatal)
}

func TestQualityReportReturnsCopies(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	fetcher := &stubFetcher{rows: map[string][]exchange.RawKline{
		"A/USDT": rawRows(base, 5),
	}}
	c := newTestCollector(fetcher, storage.NewMemoryStore("binance"))
	c.CollectTick(context.Background(), []string{"A/USDT"})

	first := c.QualityReport()
	first["A/USDT"].TotalRecords = 999

	second := c.QualityReport()
	assert.Equal(t, 4, second["A/USDT"].TotalRecords, "callers must not see each other's mutations")
}

func TestRunStopsOnCancel(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	fetcher := &stubFetcher{rows: map[string][]exchange.RawKline{
		"A/USDT": rawRows(base, 5),
		"B/USDT": rawRows(base, 5),
		"C/USDT": rawRows(base, 5),
	}}
	c := newTestCollector(fetcher, storage.NewMemoryStore("binance"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// The first tick fires immediately; give it a moment, then stop.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}

	assert.GreaterOrEqual(t, c.Metrics().TicksCompleted, int64(1))
}
