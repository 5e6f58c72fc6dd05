// Package collector orchestrates the per-symbol ingestion pipeline:
// fetch, normalize, fill gaps, score, persist. Symbols run concurrently
// under a bounded worker group; one symbol's failure never aborts another's
// cycle.
package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/odysseus-quant/marketdata/internal/config"
	"github.com/odysseus-quant/marketdata/internal/exchange"
	"github.com/odysseus-quant/marketdata/internal/gaps"
	"github.com/odysseus-quant/marketdata/internal/logger"
	"github.com/odysseus-quant/marketdata/internal/models"
	"github.com/odysseus-quant/marketdata/internal/storage"
	"github.com/odysseus-quant/marketdata/internal/validator"
)

// FailedSymbol is the results-map sentinel recorded when a symbol's pipeline
// fails anywhere between fetch and persist.
const FailedSymbol = -1

// Collector drives collection ticks over the configured symbol universe.
type Collector struct {
	fetcher   exchange.KlineFetcher
	validator *validator.Validator
	detector  *gaps.Detector
	store     storage.Store
	cfg       config.CollectorConfig
	logger    *slog.Logger
	metrics   *Metrics

	mu      sync.Mutex
	quality map[string]*models.QualityMetrics
}

// New wires a Collector from its collaborators.
func New(fetcher exchange.KlineFetcher, v *validator.Validator, d *gaps.Detector, store storage.Store, cfg config.CollectorConfig, log *slog.Logger) *Collector {
	return &Collector{
		fetcher:   fetcher,
		validator: v,
		detector:  d,
		store:     store,
		cfg:       cfg,
		logger:    log.With(slog.String("component", "collector")),
		metrics:   &Metrics{},
		quality:   make(map[string]*models.QualityMetrics),
	}
}

// CollectTick runs one collection pass over symbols. Each symbol gets its own
// results slot: the number of candles persisted, or FailedSymbol when its
// pipeline failed. Symbols run concurrently up to the configured worker cap;
// the tick always completes for every symbol.
func (c *Collector) CollectTick(ctx context.Context, symbols []string) map[string]int {
	if c.cfg.TickTimeout.Std() > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.TickTimeout.Std())
		defer cancel()
	}
	ctx = logger.WithTickID(ctx, uuid.NewString())
	ctx = logger.WithTimeframe(ctx, c.cfg.Timeframe)

	start := time.Now()
	results := make(map[string]int, len(symbols))
	var resultsMu sync.Mutex

	var g errgroup.Group
	g.SetLimit(c.cfg.Workers)

	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			n, err := c.collectSymbol(logger.WithSymbol(ctx, symbol), symbol)
			if err != nil {
				c.metrics.addFailure()
				c.logger.ErrorContext(ctx, "symbol collection failed",
					slog.String("symbol", symbol),
					slog.Any("error", err))
				n = FailedSymbol
			}

			resultsMu.Lock()
			results[symbol] = n
			resultsMu.Unlock()
			return nil
		})
	}
	// Workers record failures in their slot and never return errors.
	_ = g.Wait()

	c.metrics.tickDone(time.Since(start))
	c.logger.InfoContext(ctx, "collection tick completed",
		slog.Int("symbols", len(symbols)),
		slog.Duration("elapsed", time.Since(start)))
	return results
}

// collectSymbol runs one symbol's realtime cycle: fetch a small trailing
// window and, when more than one candle comes back, drop the most recent
// since it may still be forming. A single returned candle is kept as-is.
func (c *Collector) collectSymbol(ctx context.Context, symbol string) (int, error) {
	rows, err := c.fetcher.FetchKlines(ctx, symbol, c.cfg.Timeframe, nil, c.cfg.RealtimeLimit)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if len(rows) > 1 {
		rows = rows[:len(rows)-1]
	}
	return c.process(ctx, symbol, rows)
}

// Backfill fetches historical candles from since and runs the same
// normalize/interpolate/score/persist steps. The whole range is assumed
// closed, so no trailing candle is dropped. limit <= 0 uses the configured
// backfill limit.
func (c *Collector) Backfill(ctx context.Context, symbol string, since time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = c.cfg.BackfillLimit
	}
	ctx = logger.WithOperation(logger.WithSymbol(ctx, symbol), "backfill")

	rows, err := c.fetcher.FetchKlines(ctx, symbol, c.cfg.Timeframe, &since, limit)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return c.process(ctx, symbol, rows)
}

// process runs the normalize → interpolate → score → persist tail of the
// pipeline for one symbol's fetched rows.
func (c *Collector) process(ctx context.Context, symbol string, rows []exchange.RawKline) (int, error) {
	fetched := len(rows)
	c.metrics.addFetched(fetched)

	candles, corrupted := c.validator.NormalizeBatch(rows, symbol, c.cfg.Timeframe)
	c.metrics.addCorrupted(corrupted)

	filled, interpolated, largeGaps := c.detector.FillGaps(candles, c.cfg.Timeframe)
	c.metrics.addInterpolated(interpolated)

	for i := range largeGaps {
		if err := c.store.RecordGap(ctx, &largeGaps[i]); err != nil {
			// A gap record is diagnostic; losing one must not fail the cycle.
			c.logger.WarnContext(ctx, "failed to record gap",
				slog.String("symbol", symbol),
				slog.Any("error", err))
			continue
		}
		c.metrics.addGaps(1)
	}

	missing := fetched - len(candles)
	if missing < 0 {
		missing = 0
	}
	metrics := c.validator.BuildMetrics(symbol, fetched, len(filled), missing, interpolated, corrupted)

	c.mu.Lock()
	c.quality[symbol] = metrics
	c.mu.Unlock()

	if !c.validator.Healthy(metrics) {
		c.logger.WarnContext(ctx, "symbol data quality degraded",
			slog.String("symbol", symbol),
			slog.String("score", metrics.QualityScore.String()),
			slog.Int("missing", metrics.MissingRecords),
			slog.Int("corrupted", metrics.CorruptedRecords))
	}

	stored, err := c.store.Upsert(ctx, filled)
	if err != nil {
		return 0, err
	}
	c.metrics.addStored(stored)
	return stored, nil
}

// QualityReport returns the latest per-symbol quality snapshot.
func (c *Collector) QualityReport() map[string]*models.QualityMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]*models.QualityMetrics, len(c.quality))
	for symbol, m := range c.quality {
		snapshot := *m
		out[symbol] = &snapshot
	}
	return out
}

// Metrics returns the pipeline counters.
func (c *Collector) Metrics() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// Run executes collection ticks on the configured interval until the context
// is cancelled. The first tick fires immediately.
func (c *Collector) Run(ctx context.Context) error {
	c.logger.Info("collector started",
		slog.Int("symbols", len(c.cfg.Symbols)),
		slog.String("timeframe", c.cfg.Timeframe),
		slog.Duration("interval", c.cfg.Interval.Std()))

	ticker := time.NewTicker(c.cfg.Interval.Std())
	defer ticker.Stop()

	c.CollectTick(ctx, c.cfg.Symbols)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("collector stopped")
			return ctx.Err()
		case <-ticker.C:
			c.CollectTick(ctx, c.cfg.Symbols)
		}
	}
}
