package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"golang.org/x/time/rate"

	"github.com/odysseus-quant/marketdata/internal/config"
	apperrors "github.com/odysseus-quant/marketdata/internal/errors"
)

// supportedIntervals are the Binance kline intervals the pipeline collects.
var supportedIntervals = map[string]struct{}{
	"1m": {}, "5m": {}, "15m": {}, "30m": {},
	"1h": {}, "2h": {}, "4h": {}, "6h": {}, "12h": {}, "1d": {},
}

// BinanceClient fetches spot klines from the Binance REST API. Requests pass
// through a client-side rate limiter so bursts from concurrent symbol workers
// stay inside the configured budget.
type BinanceClient struct {
	client  *binance.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewBinanceClient builds a public-data client. Kline endpoints need no API
// credentials.
func NewBinanceClient(cfg config.ExchangeConfig, logger *slog.Logger) *BinanceClient {
	client := binance.NewClient("", "")
	client.HTTPClient = &http.Client{Timeout: cfg.HTTPTimeout.Std()}

	return &BinanceClient{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit),
		logger:  logger.With(slog.String("component", "exchange")),
	}
}

// FetchKlines implements KlineFetcher against the Binance spot klines
// endpoint. Rows come back in ascending open-time order.
func (c *BinanceClient) FetchKlines(ctx context.Context, symbol, timeframe string, since *time.Time, limit int) ([]RawKline, error) {
	if _, ok := supportedIntervals[timeframe]; !ok {
		return nil, &apperrors.ExchangeFatalError{
			Op:  "fetch_klines",
			Err: fmt.Errorf("unsupported timeframe %q", timeframe),
		}
	}
	if limit < 1 {
		return nil, &apperrors.ExchangeFatalError{
			Op:  "fetch_klines",
			Err: fmt.Errorf("limit must be positive, got %d", limit),
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &apperrors.NetworkError{Op: "rate_limit_wait", Err: err}
	}

	svc := c.client.NewKlinesService().
		Symbol(apiSymbol(symbol)).
		Interval(timeframe).
		Limit(limit)
	if since != nil {
		svc = svc.StartTime(since.UnixMilli())
	}

	start := time.Now()
	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, classifyBinanceErr("fetch_klines", err)
	}

	c.logger.Debug("fetched klines",
		slog.String("symbol", symbol),
		slog.String("timeframe", timeframe),
		slog.Int("count", len(klines)),
		slog.Duration("elapsed", time.Since(start)))

	rows := make([]RawKline, 0, len(klines))
	for _, k := range klines {
		rows = append(rows, RawKline{
			OpenTime:            k.OpenTime,
			Open:                k.Open,
			High:                k.High,
			Low:                 k.Low,
			Close:               k.Close,
			Volume:              k.Volume,
			QuoteVolume:         k.QuoteAssetVolume,
			TradesCount:         k.TradeNum,
			TakerBuyVolume:      k.TakerBuyBaseAssetVolume,
			TakerBuyQuoteVolume: k.TakerBuyQuoteAssetVolume,
		})
	}
	return rows, nil
}

// Ping implements HealthChecker.
func (c *BinanceClient) Ping(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &apperrors.NetworkError{Op: "rate_limit_wait", Err: err}
	}
	if err := c.client.NewPingService().Do(ctx); err != nil {
		return classifyBinanceErr("ping", err)
	}
	return nil
}

// apiSymbol converts the pipeline's "BASE/QUOTE" form to Binance's
// concatenated form.
func apiSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

// classifyBinanceErr maps a go-binance error into the pipeline taxonomy.
// API errors with a rate-limit code retry; other API errors are fatal since
// the exchange understood and rejected the request. Everything else is
// treated as transport trouble.
func classifyBinanceErr(op string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1003, -1015: // TOO_MANY_REQUESTS, TOO_MANY_ORDERS
			return &apperrors.RateLimitError{Err: err}
		default:
			return &apperrors.ExchangeFatalError{Op: op, Err: err}
		}
	}

	switch apperrors.Classify(err) {
	case apperrors.TypeRateLimit:
		return &apperrors.RateLimitError{Err: err}
	case apperrors.TypeExchangeFatal:
		return &apperrors.ExchangeFatalError{Op: op, Err: err}
	default:
		return &apperrors.NetworkError{Op: op, Err: err}
	}
}
