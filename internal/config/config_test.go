package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "binance", cfg.Exchange.Name)
	assert.Equal(t, 5, cfg.Exchange.MaxRetries)
	assert.Equal(t, time.Second, cfg.Exchange.BaseDelay.Std())
	assert.Equal(t, 60*time.Second, cfg.Exchange.MaxDelay.Std())
	assert.Equal(t, 5, cfg.Validator.MaxInterpolationGap)
	assert.Equal(t, "1h", cfg.Collector.Timeframe)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"exchange": {"name": "kraken", "base_delay": "500ms"},
		"collector": {"symbols": ["SOL/USDT"], "timeframe": "5m"},
		"validator": {"max_interpolation_gap": 3}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "kraken", cfg.Exchange.Name)
	assert.Equal(t, 500*time.Millisecond, cfg.Exchange.BaseDelay.Std())
	assert.Equal(t, []string{"SOL/USDT"}, cfg.Collector.Symbols)
	assert.Equal(t, "5m", cfg.Collector.Timeframe)
	assert.Equal(t, 3, cfg.Validator.MaxInterpolationGap)

	// Values the file does not mention keep their defaults.
	assert.Equal(t, 5, cfg.Exchange.MaxRetries)
	assert.Equal(t, 10, cfg.Storage.MaxConns)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EXCHANGE_MAX_RETRIES", "3")
	t.Setenv("COLLECTOR_SYMBOLS", "BTC/USDT, ETH/USDT")
	t.Setenv("COLLECTOR_TIMEFRAME", "15m")
	t.Setenv("VALIDATOR_MIN_QUALITY_SCORE", "0.9")
	t.Setenv("EXCHANGE_BASE_DELAY", "2s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Exchange.MaxRetries)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, cfg.Collector.Symbols)
	assert.Equal(t, "15m", cfg.Collector.Timeframe)
	assert.Equal(t, 0.9, cfg.Validator.MinQualityScore)
	assert.Equal(t, 2*time.Second, cfg.Exchange.BaseDelay.Std())
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"exchange": {"rate_limit": 20}}`), 0o644))
	t.Setenv("EXCHANGE_RATE_LIMIT", "50")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Exchange.RateLimit)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		want   string
	}{
		{"empty exchange name", func(c *AppConfig) { c.Exchange.Name = "" }, "exchange.name"},
		{"zero retries", func(c *AppConfig) { c.Exchange.MaxRetries = 0 }, "max_retries"},
		{"max delay below base", func(c *AppConfig) { c.Exchange.MaxDelay = Duration(time.Millisecond) }, "max_delay"},
		{"no symbols", func(c *AppConfig) { c.Collector.Symbols = nil }, "symbols"},
		{"empty timeframe", func(c *AppConfig) { c.Collector.Timeframe = "" }, "timeframe"},
		{"zero interval", func(c *AppConfig) { c.Collector.Interval = 0 }, "collector.interval"},
		{"zero workers", func(c *AppConfig) { c.Collector.Workers = 0 }, "workers"},
		{"negative interpolation gap", func(c *AppConfig) { c.Validator.MaxInterpolationGap = -1 }, "max_interpolation_gap"},
		{"score above one", func(c *AppConfig) { c.Validator.MinQualityScore = 1.5 }, "min_quality_score"},
		{"empty storage path", func(c *AppConfig) { c.Storage.Path = "" }, "storage.path"},
		{"bad log level", func(c *AppConfig) { c.Logging.Level = "verbose" }, "logging.level"},
		{"file output without path", func(c *AppConfig) { c.Logging.Output = "file" }, "file_path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDurationJSONRoundTrip(t *testing.T) {
	d := Duration(90 * time.Second)
	data, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))

	var parsed Duration
	require.NoError(t, parsed.UnmarshalJSON(data))
	assert.Equal(t, d, parsed)

	// Integer nanoseconds are accepted too.
	require.NoError(t, parsed.UnmarshalJSON([]byte("1000000000")))
	assert.Equal(t, time.Second, parsed.Std())

	require.Error(t, parsed.UnmarshalJSON([]byte(`"not a duration"`)))
}
