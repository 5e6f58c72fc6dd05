package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/shopspring/decimal"

	"github.com/odysseus-quant/marketdata/internal/config"
	"github.com/odysseus-quant/marketdata/internal/models"
)

const candleSchema = `
CREATE TABLE IF NOT EXISTS candles (
    timestamp              TIMESTAMP NOT NULL,
    symbol                 VARCHAR NOT NULL,
    exchange               VARCHAR NOT NULL,
    timeframe              VARCHAR NOT NULL,
    open                   DECIMAL(38,18) NOT NULL CHECK (open > 0),
    high                   DECIMAL(38,18) NOT NULL CHECK (high > 0),
    low                    DECIMAL(38,18) NOT NULL CHECK (low > 0),
    close                  DECIMAL(38,18) NOT NULL CHECK (close > 0),
    volume                 DECIMAL(38,18) NOT NULL CHECK (volume >= 0),
    quote_volume           DECIMAL(38,18),
    trades_count           BIGINT,
    taker_buy_volume       DECIMAL(38,18),
    taker_buy_quote_volume DECIMAL(38,18),
    data_source            VARCHAR NOT NULL,
    interpolated           BOOLEAN NOT NULL DEFAULT false,
    created_at             TIMESTAMP NOT NULL,
    updated_at             TIMESTAMP NOT NULL,
    PRIMARY KEY (timestamp, symbol, exchange, timeframe),
    CHECK (high >= open AND high >= close),
    CHECK (low <= open AND low <= close)
);`

const gapSchema = `
CREATE TABLE IF NOT EXISTS gaps (
    id            VARCHAR PRIMARY KEY,
    symbol        VARCHAR NOT NULL,
    timeframe     VARCHAR NOT NULL,
    start_time    TIMESTAMP NOT NULL,
    end_time      TIMESTAMP NOT NULL,
    missing_count INTEGER NOT NULL CHECK (missing_count > 0),
    status        VARCHAR NOT NULL,
    created_at    TIMESTAMP NOT NULL
);`

const upsertCandleSQL = `
INSERT INTO candles (
    timestamp, symbol, exchange, timeframe,
    open, high, low, close, volume,
    quote_volume, trades_count, taker_buy_volume, taker_buy_quote_volume,
    data_source, interpolated, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (timestamp, symbol, exchange, timeframe) DO UPDATE SET
    open = excluded.open,
    high = excluded.high,
    low = excluded.low,
    close = excluded.close,
    volume = excluded.volume,
    quote_volume = excluded.quote_volume,
    trades_count = excluded.trades_count,
    taker_buy_volume = excluded.taker_buy_volume,
    taker_buy_quote_volume = excluded.taker_buy_quote_volume,
    data_source = excluded.data_source,
    interpolated = excluded.interpolated,
    updated_at = excluded.updated_at`

const selectCandleSQL = `
SELECT timestamp, symbol, timeframe,
       CAST(open AS VARCHAR), CAST(high AS VARCHAR), CAST(low AS VARCHAR),
       CAST(close AS VARCHAR), CAST(volume AS VARCHAR),
       CAST(quote_volume AS VARCHAR), trades_count,
       CAST(taker_buy_volume AS VARCHAR), CAST(taker_buy_quote_volume AS VARCHAR),
       data_source, interpolated
FROM candles`

// DuckDBStore is the durable Store backed by an embedded DuckDB database.
// The exchange name is fixed at construction and becomes part of every
// candle's storage key.
type DuckDBStore struct {
	db       *sql.DB
	exchange string
	logger   *slog.Logger
}

// NewDuckDBStore opens (or creates) the database at cfg.Path.
func NewDuckDBStore(cfg config.StorageConfig, exchange string, logger *slog.Logger) (*DuckDBStore, error) {
	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	return &DuckDBStore{
		db:       db,
		exchange: exchange,
		logger:   logger.With(slog.String("component", "storage")),
	}, nil
}

// Initialize creates the schema if it does not exist.
func (s *DuckDBStore) Initialize(ctx context.Context) error {
	for _, stmt := range []string{candleSchema, gapSchema} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &StorageError{Op: "initialize", Err: err}
		}
	}
	s.logger.Info("storage initialized", slog.String("exchange", s.exchange))
	return nil
}

// Upsert writes the batch inside a single transaction. Any failure rolls the
// whole batch back.
func (s *DuckDBStore) Upsert(ctx context.Context, candles []*models.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &StorageError{Op: "upsert_begin", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertCandleSQL)
	if err != nil {
		return 0, &StorageError{Op: "upsert_prepare", Err: err}
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, c := range candles {
		if err := c.Validate(); err != nil {
			return 0, &StorageError{Op: "upsert_validate", Err: err}
		}

		_, err := stmt.ExecContext(ctx,
			c.Timestamp.UTC(), c.Symbol, s.exchange, c.Timeframe,
			c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume.String(),
			c.QuoteVolume.String(), c.TradesCount, c.TakerBuyVolume.String(), c.TakerBuyQuoteVolume.String(),
			string(c.Source), c.Interpolated, now, now,
		)
		if err != nil {
			return 0, &StorageError{Op: "upsert_exec", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, &StorageError{Op: "upsert_commit", Err: err}
	}

	s.logger.Debug("upserted candles",
		slog.Int("count", len(candles)),
		slog.String("symbol", candles[0].Symbol))
	return len(candles), nil
}

// Query returns candles for symbol/timeframe with timestamps in [start, end),
// ascending.
func (s *DuckDBStore) Query(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]*models.Candle, error) {
	query := selectCandleSQL + `
	WHERE symbol = ? AND exchange = ? AND timeframe = ?
	  AND timestamp >= ? AND timestamp < ?
	ORDER BY timestamp ASC`

	rows, err := s.db.QueryContext(ctx, query, symbol, s.exchange, timeframe, start.UTC(), end.UTC())
	if err != nil {
		return nil, &StorageError{Op: "query", Err: err}
	}
	defer rows.Close()

	var out []*models.Candle
	for rows.Next() {
		candle, err := scanCandle(rows)
		if err != nil {
			return nil, &StorageError{Op: "query_scan", Err: err}
		}
		out = append(out, candle)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "query_rows", Err: err}
	}
	return out, nil
}

// GetLatest returns the newest stored candle for symbol/timeframe, or nil.
func (s *DuckDBStore) GetLatest(ctx context.Context, symbol, timeframe string) (*models.Candle, error) {
	query := selectCandleSQL + `
	WHERE symbol = ? AND exchange = ? AND timeframe = ?
	ORDER BY timestamp DESC
	LIMIT 1`

	rows, err := s.db.QueryContext(ctx, query, symbol, s.exchange, timeframe)
	if err != nil {
		return nil, &StorageError{Op: "get_latest", Err: err}
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	candle, err := scanCandle(rows)
	if err != nil {
		return nil, &StorageError{Op: "get_latest_scan", Err: err}
	}
	return candle, nil
}

func scanCandle(rows *sql.Rows) (*models.Candle, error) {
	var (
		c                models.Candle
		open, high, low  string
		closeStr, volume string
		quoteVol         sql.NullString
		trades           sql.NullInt64
		takerBase        sql.NullString
		takerQuote       sql.NullString
		source           string
	)
	if err := rows.Scan(&c.Timestamp, &c.Symbol, &c.Timeframe,
		&open, &high, &low, &closeStr, &volume,
		&quoteVol, &trades, &takerBase, &takerQuote,
		&source, &c.Interpolated); err != nil {
		return nil, err
	}

	var err error
	if c.Open, err = decimal.NewFromString(open); err != nil {
		return nil, fmt.Errorf("invalid stored open %q: %w", open, err)
	}
	if c.High, err = decimal.NewFromString(high); err != nil {
		return nil, fmt.Errorf("invalid stored high %q: %w", high, err)
	}
	if c.Low, err = decimal.NewFromString(low); err != nil {
		return nil, fmt.Errorf("invalid stored low %q: %w", low, err)
	}
	if c.Close, err = decimal.NewFromString(closeStr); err != nil {
		return nil, fmt.Errorf("invalid stored close %q: %w", closeStr, err)
	}
	if c.Volume, err = decimal.NewFromString(volume); err != nil {
		return nil, fmt.Errorf("invalid stored volume %q: %w", volume, err)
	}
	if quoteVol.Valid {
		if c.QuoteVolume, err = decimal.NewFromString(quoteVol.String); err != nil {
			return nil, fmt.Errorf("invalid stored quote_volume %q: %w", quoteVol.String, err)
		}
	}
	if takerBase.Valid {
		if c.TakerBuyVolume, err = decimal.NewFromString(takerBase.String); err != nil {
			return nil, fmt.Errorf("invalid stored taker_buy_volume %q: %w", takerBase.String, err)
		}
	}
	if takerQuote.Valid {
		if c.TakerBuyQuoteVolume, err = decimal.NewFromString(takerQuote.String); err != nil {
			return nil, fmt.Errorf("invalid stored taker_buy_quote_volume %q: %w", takerQuote.String, err)
		}
	}
	if trades.Valid {
		c.TradesCount = trades.Int64
	}

	c.Source = models.DataSource(source)
	c.Timestamp = c.Timestamp.UTC()
	return &c, nil
}

// RecordGap persists one large-gap event.
func (s *DuckDBStore) RecordGap(ctx context.Context, gap *models.Gap) error {
	if err := gap.Validate(); err != nil {
		return &StorageError{Op: "record_gap_validate", Err: err}
	}

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO gaps (id, symbol, timeframe, start_time, end_time, missing_count, status, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET status = excluded.status`,
		gap.ID, gap.Symbol, gap.Timeframe,
		gap.StartTime.UTC(), gap.EndTime.UTC(),
		gap.MissingCount, string(gap.Status), gap.CreatedAt.UTC())
	if err != nil {
		return &StorageError{Op: "record_gap", Err: err}
	}
	return nil
}

// ListGaps returns recorded gaps for symbol/timeframe, newest first.
func (s *DuckDBStore) ListGaps(ctx context.Context, symbol, timeframe string) ([]*models.Gap, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, symbol, timeframe, start_time, end_time, missing_count, status, created_at
	FROM gaps
	WHERE symbol = ? AND timeframe = ?
	ORDER BY start_time DESC`, symbol, timeframe)
	if err != nil {
		return nil, &StorageError{Op: "list_gaps", Err: err}
	}
	defer rows.Close()

	var out []*models.Gap
	for rows.Next() {
		var g models.Gap
		var status string
		if err := rows.Scan(&g.ID, &g.Symbol, &g.Timeframe, &g.StartTime, &g.EndTime,
			&g.MissingCount, &status, &g.CreatedAt); err != nil {
			return nil, &StorageError{Op: "list_gaps_scan", Err: err}
		}
		g.Status = models.GapStatus(status)
		g.StartTime, g.EndTime, g.CreatedAt = g.StartTime.UTC(), g.EndTime.UTC(), g.CreatedAt.UTC()
		out = append(out, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list_gaps_rows", Err: err}
	}
	return out, nil
}

// HealthCheck verifies the database answers queries.
func (s *DuckDBStore) HealthCheck(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return &StorageError{Op: "health_check", Err: err}
	}
	return nil
}

// GetStats summarizes store contents.
func (s *DuckDBStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	row := s.db.QueryRowContext(ctx, `
	SELECT COUNT(*), COUNT(DISTINCT symbol),
	       COALESCE(MIN(timestamp), TIMESTAMP '1970-01-01'),
	       COALESCE(MAX(timestamp), TIMESTAMP '1970-01-01')
	FROM candles WHERE exchange = ?`, s.exchange)
	if err := row.Scan(&stats.CandleCount, &stats.SymbolCount, &stats.EarliestEntry, &stats.LatestEntry); err != nil {
		return nil, &StorageError{Op: "stats", Err: err}
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM gaps").Scan(&stats.GapCount); err != nil {
		return nil, &StorageError{Op: "stats_gaps", Err: err}
	}

	stats.EarliestEntry = stats.EarliestEntry.UTC()
	stats.LatestEntry = stats.LatestEntry.UTC()
	return stats, nil
}

// Close releases the database handle.
func (s *DuckDBStore) Close() error {
	return s.db.Close()
}
