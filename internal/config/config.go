// Package config provides centralized configuration for the market-data
// pipeline. Configuration is loaded from an optional JSON file, overridden by
// environment variables, and validated before use. Components receive their
// settings explicitly; nothing reads configuration from a process-wide global.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig is the complete application configuration.
type AppConfig struct {
	Exchange  ExchangeConfig  `json:"exchange"`
	Collector CollectorConfig `json:"collector"`
	Validator ValidatorConfig `json:"validator"`
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`
}

// ExchangeConfig configures the exchange client and its retry behavior.
type ExchangeConfig struct {
	// Name identifies the exchange for storage keys (e.g. "binance").
	Name string `json:"name" env:"EXCHANGE_NAME"`

	// MaxRetries bounds the backoff-and-retry loop for transient failures.
	MaxRetries int `json:"max_retries" env:"EXCHANGE_MAX_RETRIES"`

	// BaseDelay is the initial backoff delay; doubles per attempt.
	BaseDelay Duration `json:"base_delay" env:"EXCHANGE_BASE_DELAY"`

	// MaxDelay caps the backoff delay.
	MaxDelay Duration `json:"max_delay" env:"EXCHANGE_MAX_DELAY"`

	// RateLimit is the client-side request budget in requests per second.
	RateLimit int `json:"rate_limit" env:"EXCHANGE_RATE_LIMIT"`

	// HTTPTimeout bounds individual API requests.
	HTTPTimeout Duration `json:"http_timeout" env:"EXCHANGE_HTTP_TIMEOUT"`
}

// CollectorConfig configures the orchestrator.
type CollectorConfig struct {
	// Symbols is the symbol universe collected each tick.
	Symbols []string `json:"symbols" env:"COLLECTOR_SYMBOLS"`

	// Timeframe is the primary collection timeframe (e.g. "1h").
	Timeframe string `json:"timeframe" env:"COLLECTOR_TIMEFRAME"`

	// Interval is the pause between collection ticks.
	Interval Duration `json:"interval" env:"COLLECTOR_INTERVAL"`

	// TickTimeout is the overall deadline for one collection tick.
	// Zero disables the deadline.
	TickTimeout Duration `json:"tick_timeout" env:"COLLECTOR_TICK_TIMEOUT"`

	// Workers caps concurrent per-symbol pipelines.
	Workers int `json:"workers" env:"COLLECTOR_WORKERS"`

	// RealtimeLimit is the trailing window fetched per tick.
	RealtimeLimit int `json:"realtime_limit" env:"COLLECTOR_REALTIME_LIMIT"`

	// BackfillLimit is the maximum candles per historical request.
	BackfillLimit int `json:"backfill_limit" env:"COLLECTOR_BACKFILL_LIMIT"`
}

// ValidatorConfig configures validation, interpolation and quality scoring.
type ValidatorConfig struct {
	// MaxInterpolationGap is the largest run of missing candles the
	// interpolator will synthesize; larger gaps are recorded, not filled.
	MaxInterpolationGap int `json:"max_interpolation_gap" env:"VALIDATOR_MAX_INTERPOLATION_GAP"`

	// MinQualityScore is the health threshold for the quality score.
	MinQualityScore float64 `json:"min_quality_score" env:"VALIDATOR_MIN_QUALITY_SCORE"`

	// MaxMissingRatio is the health threshold for the missing ratio.
	MaxMissingRatio float64 `json:"max_missing_ratio" env:"VALIDATOR_MAX_MISSING_RATIO"`
}

// StorageConfig configures the time-series store.
type StorageConfig struct {
	// Path is the DuckDB database path, or ":memory:" for ephemeral runs.
	Path string `json:"path" env:"STORAGE_PATH"`

	// MaxConns caps open database connections.
	MaxConns int `json:"max_conns" env:"STORAGE_MAX_CONNS"`

	// MaxIdleConns caps idle pooled connections.
	MaxIdleConns int `json:"max_idle_conns" env:"STORAGE_MAX_IDLE_CONNS"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`             // debug, info, warn, error
	Format     string `json:"format" env:"LOG_FORMAT"`           // json, text
	Output     string `json:"output" env:"LOG_OUTPUT"`           // stdout, stderr, file
	FilePath   string `json:"file_path" env:"LOG_FILE_PATH"`     // log file path when output is "file"
	MaxSizeMB  int    `json:"max_size_mb" env:"LOG_MAX_SIZE_MB"` // rotation size
	MaxBackups int    `json:"max_backups" env:"LOG_MAX_BACKUPS"`
	MaxAgeDays int    `json:"max_age_days" env:"LOG_MAX_AGE_DAYS"`
	Compress   bool   `json:"compress" env:"LOG_COMPRESS"`
}

// Duration wraps time.Duration with JSON string encoding ("1s", "2m").
type Duration time.Duration

// UnmarshalJSON accepts either a duration string or nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer: %s", data)
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON encodes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the baked-in defaults used when neither file nor
// environment provides a value.
func Default() *AppConfig {
	return &AppConfig{
		Exchange: ExchangeConfig{
			Name:        "binance",
			MaxRetries:  5,
			BaseDelay:   Duration(time.Second),
			MaxDelay:    Duration(60 * time.Second),
			RateLimit:   10,
			HTTPTimeout: Duration(30 * time.Second),
		},
		Collector: CollectorConfig{
			Symbols:       []string{"BTC/USDT", "ETH/USDT", "BNB/USDT", "ADA/USDT", "DOT/USDT"},
			Timeframe:     "1h",
			Interval:      Duration(60 * time.Second),
			TickTimeout:   Duration(5 * time.Minute),
			Workers:       4,
			RealtimeLimit: 5,
			BackfillLimit: 1000,
		},
		Validator: ValidatorConfig{
			MaxInterpolationGap: 5,
			MinQualityScore:     0.95,
			MaxMissingRatio:     0.05,
		},
		Storage: StorageConfig{
			Path:         "marketdata.db",
			MaxConns:     10,
			MaxIdleConns: 5,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load builds the configuration with priority: environment variables over
// file values over defaults. An empty path skips the file step.
func Load(path string) (*AppConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides configuration fields from the environment.
func applyEnv(cfg *AppConfig) {
	setString(&cfg.Exchange.Name, "EXCHANGE_NAME")
	setInt(&cfg.Exchange.MaxRetries, "EXCHANGE_MAX_RETRIES")
	setDuration(&cfg.Exchange.BaseDelay, "EXCHANGE_BASE_DELAY")
	setDuration(&cfg.Exchange.MaxDelay, "EXCHANGE_MAX_DELAY")
	setInt(&cfg.Exchange.RateLimit, "EXCHANGE_RATE_LIMIT")
	setDuration(&cfg.Exchange.HTTPTimeout, "EXCHANGE_HTTP_TIMEOUT")

	setStringSlice(&cfg.Collector.Symbols, "COLLECTOR_SYMBOLS")
	setString(&cfg.Collector.Timeframe, "COLLECTOR_TIMEFRAME")
	setDuration(&cfg.Collector.Interval, "COLLECTOR_INTERVAL")
	setDuration(&cfg.Collector.TickTimeout, "COLLECTOR_TICK_TIMEOUT")
	setInt(&cfg.Collector.Workers, "COLLECTOR_WORKERS")
	setInt(&cfg.Collector.RealtimeLimit, "COLLECTOR_REALTIME_LIMIT")
	setInt(&cfg.Collector.BackfillLimit, "COLLECTOR_BACKFILL_LIMIT")

	setInt(&cfg.Validator.MaxInterpolationGap, "VALIDATOR_MAX_INTERPOLATION_GAP")
	setFloat(&cfg.Validator.MinQualityScore, "VALIDATOR_MIN_QUALITY_SCORE")
	setFloat(&cfg.Validator.MaxMissingRatio, "VALIDATOR_MAX_MISSING_RATIO")

	setString(&cfg.Storage.Path, "STORAGE_PATH")
	setInt(&cfg.Storage.MaxConns, "STORAGE_MAX_CONNS")
	setInt(&cfg.Storage.MaxIdleConns, "STORAGE_MAX_IDLE_CONNS")

	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")
	setString(&cfg.Logging.Output, "LOG_OUTPUT")
	setString(&cfg.Logging.FilePath, "LOG_FILE_PATH")
	setInt(&cfg.Logging.MaxSizeMB, "LOG_MAX_SIZE_MB")
	setInt(&cfg.Logging.MaxBackups, "LOG_MAX_BACKUPS")
	setInt(&cfg.Logging.MaxAgeDays, "LOG_MAX_AGE_DAYS")
	setBool(&cfg.Logging.Compress, "LOG_COMPRESS")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setStringSlice(dst *[]string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

// Validate checks configuration consistency before components are built.
func (c *AppConfig) Validate() error {
	if c.Exchange.Name == "" {
		return fmt.Errorf("exchange.name is required")
	}
	if c.Exchange.MaxRetries < 1 {
		return fmt.Errorf("exchange.max_retries must be at least 1, got %d", c.Exchange.MaxRetries)
	}
	if c.Exchange.BaseDelay.Std() <= 0 {
		return fmt.Errorf("exchange.base_delay must be positive")
	}
	if c.Exchange.MaxDelay.Std() < c.Exchange.BaseDelay.Std() {
		return fmt.Errorf("exchange.max_delay must be at least base_delay")
	}
	if c.Exchange.RateLimit < 1 {
		return fmt.Errorf("exchange.rate_limit must be at least 1, got %d", c.Exchange.RateLimit)
	}

	if len(c.Collector.Symbols) == 0 {
		return fmt.Errorf("collector.symbols cannot be empty")
	}
	if c.Collector.Timeframe == "" {
		return fmt.Errorf("collector.timeframe is required")
	}
	if c.Collector.Interval.Std() <= 0 {
		return fmt.Errorf("collector.interval must be positive")
	}
	if c.Collector.Workers < 1 {
		return fmt.Errorf("collector.workers must be at least 1, got %d", c.Collector.Workers)
	}
	if c.Collector.RealtimeLimit < 1 {
		return fmt.Errorf("collector.realtime_limit must be at least 1, got %d", c.Collector.RealtimeLimit)
	}
	if c.Collector.BackfillLimit < 1 {
		return fmt.Errorf("collector.backfill_limit must be at least 1, got %d", c.Collector.BackfillLimit)
	}

	if c.Validator.MaxInterpolationGap < 0 {
		return fmt.Errorf("validator.max_interpolation_gap cannot be negative, got %d", c.Validator.MaxInterpolationGap)
	}
	if c.Validator.MinQualityScore < 0 || c.Validator.MinQualityScore > 1 {
		return fmt.Errorf("validator.min_quality_score must be in [0, 1], got %f", c.Validator.MinQualityScore)
	}
	if c.Validator.MaxMissingRatio < 0 || c.Validator.MaxMissingRatio > 1 {
		return fmt.Errorf("validator.max_missing_ratio must be in [0, 1], got %f", c.Validator.MaxMissingRatio)
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Storage.MaxConns < 1 {
		return fmt.Errorf("storage.max_conns must be at least 1, got %d", c.Storage.MaxConns)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level)
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging.file_path is required when logging.output is \"file\"")
	}

	return nil
}
