// Market-data pipeline CLI. Collects OHLCV candles from an exchange,
// validates and gap-fills them, and persists the result to the time-series
// store.
//
// Usage:
//
//	marketdata run [--config config.json]
//	marketdata tick [--config config.json] [--symbols BTC/USDT,ETH/USDT]
//	marketdata backfill --symbol BTC/USDT --since 2024-01-01 [--limit 1000]
//	marketdata status [--config config.json]
//
// For detailed help on any command, use: marketdata <command> --help
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odysseus-quant/marketdata/internal/collector"
	"github.com/odysseus-quant/marketdata/internal/config"
	apperrors "github.com/odysseus-quant/marketdata/internal/errors"
	"github.com/odysseus-quant/marketdata/internal/exchange"
	"github.com/odysseus-quant/marketdata/internal/gaps"
	"github.com/odysseus-quant/marketdata/internal/logger"
	"github.com/odysseus-quant/marketdata/internal/storage"
	"github.com/odysseus-quant/marketdata/internal/validator"
)

const (
	exitSuccess     = 0
	exitUsageError  = 1
	exitConfigError = 2
	exitRunError    = 3
	exitInterrupt   = 130
)

type app struct {
	cfg       *config.AppConfig
	logs      *logger.Manager
	log       *slog.Logger
	store     storage.Store
	health    exchange.HealthChecker
	collector *collector.Collector
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitUsageError)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	command := os.Args[1]
	args := os.Args[2:]

	var code int
	switch command {
	case "run":
		code = cmdRun(ctx, args)
	case "tick":
		code = cmdTick(ctx, args)
	case "backfill":
		code = cmdBackfill(ctx, args)
	case "status":
		code = cmdStatus(ctx, args)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", command)
		printUsage()
		code = exitUsageError
	}
	os.Exit(code)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `marketdata - OHLCV ingestion and quality pipeline

Commands:
  run        Collect continuously on the configured interval
  tick       Run a single collection tick and print the results
  backfill   Fetch and store a historical range for one symbol
  status     Print store statistics and health

Common flags:
  --config   Path to a JSON configuration file (optional)

Run 'marketdata <command> --help' for command flags.
`)
}

// newApp loads configuration and wires the pipeline.
func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logs, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	log := logs.Logger()

	store, err := storage.NewDuckDBStore(cfg.Storage, cfg.Exchange.Name, log)
	if err != nil {
		logs.Close()
		return nil, err
	}

	client := exchange.NewBinanceClient(cfg.Exchange, log)
	policy := apperrors.RetryPolicy{
		MaxRetries: cfg.Exchange.MaxRetries,
		BaseDelay:  cfg.Exchange.BaseDelay.Std(),
		MaxDelay:   cfg.Exchange.MaxDelay.Std(),
	}
	fetcher := exchange.NewRetryingFetcher(client, policy, log)

	v := validator.New(validator.Thresholds{
		MinQualityScore: decimal.NewFromFloat(cfg.Validator.MinQualityScore),
		MaxMissingRatio: decimal.NewFromFloat(cfg.Validator.MaxMissingRatio),
	}, log)
	detector := gaps.NewDetector(cfg.Validator.MaxInterpolationGap, log)

	return &app{
		cfg:       cfg,
		logs:      logs,
		log:       logs.Component("cli"),
		store:     store,
		health:    client,
		collector: collector.New(fetcher, v, detector, store, cfg.Collector, log),
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Error("failed to close storage", slog.Any("error", err))
	}
	a.logs.Close()
}

func cmdRun(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to JSON config file")
	fs.Parse(args)

	a, err := newApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitConfigError
	}
	defer a.close()

	if err := a.store.Initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRunError
	}

	if err := a.collector.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRunError
	}
	if ctx.Err() != nil {
		return exitInterrupt
	}
	return exitSuccess
}

func cmdTick(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("tick", flag.ExitOnError)
	configPath := fs.String("config", "", "path to JSON config file")
	symbolsFlag := fs.String("symbols", "", "comma-separated symbols (default: configured universe)")
	fs.Parse(args)

	a, err := newApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitConfigError
	}
	defer a.close()

	if err := a.store.Initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRunError
	}

	symbols := a.cfg.Collector.Symbols
	if *symbolsFlag != "" {
		symbols = splitSymbols(*symbolsFlag)
	}

	results := a.collector.CollectTick(ctx, symbols)
	report := a.collector.QualityReport()

	failed := 0
	for _, symbol := range symbols {
		n := results[symbol]
		if n == collector.FailedSymbol {
			failed++
			fmt.Printf("%-12s FAILED\n", symbol)
			continue
		}
		line := fmt.Sprintf("%-12s stored %d", symbol, n)
		if m, ok := report[symbol]; ok {
			line += fmt.Sprintf("  score %s", m.QualityScore.StringFixed(3))
		}
		fmt.Println(line)
	}

	if failed > 0 {
		return exitRunError
	}
	return exitSuccess
}

func cmdBackfill(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("backfill", flag.ExitOnError)
	configPath := fs.String("config", "", "path to JSON config file")
	symbol := fs.String("symbol", "", "symbol to backfill (e.g. BTC/USDT)")
	sinceFlag := fs.String("since", "", "start date, YYYY-MM-DD or RFC3339")
	limit := fs.Int("limit", 0, "max candles to fetch (0 = configured limit)")
	fs.Parse(args)

	if *symbol == "" || *sinceFlag == "" {
		fmt.Fprintln(os.Stderr, "backfill requires --symbol and --since")
		return exitUsageError
	}
	since, err := parseTime(*sinceFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid --since: %v\n", err)
		return exitUsageError
	}

	a, err := newApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitConfigError
	}
	defer a.close()

	if err := a.store.Initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRunError
	}

	var n int
	err = logger.Timed(ctx, a.log, "backfill", func() error {
		var err error
		n, err = a.collector.Backfill(ctx, *symbol, since, *limit)
		return err
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: backfill failed: %v\n", err)
		return exitRunError
	}
	fmt.Printf("backfilled %d candles for %s since %s\n", n, *symbol, since.Format(time.RFC3339))
	return exitSuccess
}

func cmdStatus(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to JSON config file")
	fs.Parse(args)

	a, err := newApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitConfigError
	}
	defer a.close()

	if err := a.store.Initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRunError
	}
	if err := a.store.HealthCheck(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: store unhealthy: %v\n", err)
		return exitRunError
	}
	if err := a.health.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: exchange unreachable: %v\n", err)
		return exitRunError
	}

	stats, err := a.store.GetStats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRunError
	}

	out, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRunError
	}
	fmt.Println(string(out))
	return exitSuccess
}

func splitSymbols(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
