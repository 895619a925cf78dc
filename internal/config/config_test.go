package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsEmulator(t *testing.T) {
	t.Setenv("SENTINEL_APP_MODE", ModeEmulator)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"cmt_btcusdt", "cmt_ethusdt", "cmt_bnbusdt"}, cfg.Market.Symbols)
	assert.Equal(t, 3*time.Second, cfg.Scheduler.Detector.Interval)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.Validation.Interval)
	assert.Equal(t, 15*time.Second, cfg.Scheduler.Execution.Interval)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.OrderBooks.Interval)
	assert.Equal(t, time.Minute, cfg.Scheduler.AccountBalance.Interval)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.AuxStartupDelay)
	assert.Equal(t, 200*time.Millisecond, cfg.Scheduler.SymbolDelay)
	assert.Equal(t, 10*time.Second, cfg.WEEX.RequestTimeout)
	assert.Equal(t, "claude-3-5-sonnet-20240620", cfg.Judge.Model)
	assert.Equal(t, 300, cfg.Judge.MaxTokens)
	assert.InDelta(t, 0.3, cfg.Judge.Temperature, 1e-9)
	assert.InDelta(t, 10.0, cfg.Execution.DefaultNotional, 1e-9)
	assert.Equal(t, 5, cfg.Execution.MaxAttempts)
	assert.InDelta(t, 1.0, cfg.Comparison.MaxDriftPct, 1e-9)
	assert.False(t, cfg.WEEX.HasCredentials())
}

func TestLoadProductionRequiresDSN(t *testing.T) {
	t.Setenv("SENTINEL_APP_MODE", ModeProduction)
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.dsn")

	t.Setenv("SENTINEL_DATABASE_DSN", "postgres://localhost/sentinel")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/sentinel", cfg.Database.DSN)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sentinel.yaml")
	content := []byte(`
app:
  mode: emulator
market:
  symbols: [cmt_btcusdt]
scheduler:
  detector:
    cron: "@every 5s"
weex:
  api_key: key
  secret_key: secret
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	t.Setenv("SENTINEL_WEEX_PASSPHRASE", "pass")
	t.Setenv("SENTINEL_EXECUTION_MAX_ATTEMPTS", "3")
	t.Setenv("SENTINEL_JUDGE_TEMPERATURE", "0")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"cmt_btcusdt"}, cfg.Market.Symbols)
	assert.Equal(t, "@every 5s", cfg.Scheduler.Detector.Cron)
	assert.True(t, cfg.WEEX.HasCredentials())
	assert.Equal(t, 3, cfg.Execution.MaxAttempts)
	assert.Zero(t, cfg.Judge.Temperature, "explicit zero temperature is kept")
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("SENTINEL_APP_MODE", ModeEmulator)
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cases := map[string]func(*Config){
		"mode":       func(c *Config) { c.App.Mode = "paper" },
		"source":     func(c *Config) { c.Comparison.Source = "kraken" },
		"chainlink":  func(c *Config) { c.Comparison.Source = "chainlink" },
		"redis book": func(c *Config) { c.Comparison.PriceBook = "redis" },
		"events":     func(c *Config) { c.Events.Driver = "amqp" },
		"attempts":   func(c *Config) { c.Execution.MaxAttempts = 0 },
		"schedule":   func(c *Config) { c.Scheduler.Validation = TaskConfig{} },
		"telegram":   func(c *Config) { c.Alerting.Telegram.Enabled = true },
		"symbols":    func(c *Config) { c.Market.Symbols = nil },
		"temp":       func(c *Config) { c.Judge.Temperature = -0.1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
