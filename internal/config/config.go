package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"spread-sentinel/internal/logging"
)

// Run modes.
const (
	ModeProduction = "production"
	ModeEmulator   = "emulator"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	WEEX       WEEXConfig       `mapstructure:"weex"`
	Market     MarketConfig     `mapstructure:"market"`
	Comparison ComparisonConfig `mapstructure:"comparison"`
	Judge      JudgeConfig      `mapstructure:"judge"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Events     EventsConfig     `mapstructure:"events"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	// Mode is production (PostgreSQL) or emulator (in-memory store).
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig is shared by the price book and the redis event publisher.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// TaskConfig schedules one poller. Cron wins over Interval when set.
type TaskConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Cron     string        `mapstructure:"cron"`
}

// SchedulerConfig governs poller cadence.
type SchedulerConfig struct {
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	// AuxStartupDelay postpones the first auxiliary market poll.
	AuxStartupDelay time.Duration `mapstructure:"aux_startup_delay"`
	// SymbolDelay spaces per-symbol calls inside an auxiliary poll.
	SymbolDelay time.Duration `mapstructure:"symbol_delay"`

	Detector       TaskConfig `mapstructure:"detector"`
	Validation     TaskConfig `mapstructure:"validation"`
	Execution      TaskConfig `mapstructure:"execution"`
	OrderBooks     TaskConfig `mapstructure:"order_books"`
	RecentTrades   TaskConfig `mapstructure:"recent_trades"`
	OpenInterest   TaskConfig `mapstructure:"open_interest"`
	FundingRates   TaskConfig `mapstructure:"funding_rates"`
	AccountBalance TaskConfig `mapstructure:"account_balance"`
}

// WEEXConfig covers the exchange REST API.
type WEEXConfig struct {
	APIDomain      string        `mapstructure:"api_domain"`
	APIKey         string        `mapstructure:"api_key"`
	SecretKey      string        `mapstructure:"secret_key"`
	Passphrase     string        `mapstructure:"passphrase"`
	AccountID      string        `mapstructure:"account_id"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RateLimitDelay time.Duration `mapstructure:"rate_limit_delay"`
	UploadAILog    bool          `mapstructure:"upload_ai_log"`
}

// HasCredentials reports whether signed endpoints can be used.
func (w WEEXConfig) HasCredentials() bool {
	return w.APIKey != "" && w.SecretKey != "" && w.Passphrase != ""
}

// MarketConfig lists traded symbols and auxiliary poll sizes.
type MarketConfig struct {
	Symbols     []string `mapstructure:"symbols"`
	DepthLimit  int      `mapstructure:"depth_limit"`
	TradesLimit int      `mapstructure:"trades_limit"`
}

// ComparisonConfig selects the second price source and the profit thresholds.
type ComparisonConfig struct {
	Source       string          `mapstructure:"source"`
	PriceBook    string          `mapstructure:"price_book"`
	MaxDriftPct  float64         `mapstructure:"max_drift_pct"`
	Seed         int64           `mapstructure:"seed"`
	// PriceTTL holds a simulated price in the book before redrawing.
	PriceTTL     time.Duration   `mapstructure:"price_ttl"`
	MinSpreadPct float64         `mapstructure:"min_spread_pct"`
	TradeAmount  float64         `mapstructure:"trade_amount"`
	FeeRate      float64         `mapstructure:"fee_rate"`
	Binance      BinanceConfig   `mapstructure:"binance"`
	Chainlink    ChainlinkConfig `mapstructure:"chainlink"`
}

// BinanceConfig configures the binance comparison source.
type BinanceConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	APIKey         string            `mapstructure:"api_key"`
	SecretKey      string            `mapstructure:"secret_key"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
	Symbols        map[string]string `mapstructure:"symbols"`
}

// ChainlinkConfig configures the on-chain comparison source.
type ChainlinkConfig struct {
	RPCURL         string            `mapstructure:"rpc_url"`
	Feeds          map[string]string `mapstructure:"feeds"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
	MaxAge         time.Duration     `mapstructure:"max_age"`
}

// JudgeConfig configures the AI judgment service.
type JudgeConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Provider       string        `mapstructure:"provider"`
	Service        string        `mapstructure:"service"`
	Model          string        `mapstructure:"model"`
	Temperature    float64       `mapstructure:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	BatchSize      int           `mapstructure:"batch_size"`
}

// ExecutionConfig bounds automatic order placement.
type ExecutionConfig struct {
	DefaultNotional float64       `mapstructure:"default_notional"`
	BatchSize       int           `mapstructure:"batch_size"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
}

// AlertingConfig defines notification routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// EventsConfig selects the lifecycle event bus.
type EventsConfig struct {
	// Driver is none, redis or amqp.
	Driver  string `mapstructure:"driver"`
	Channel string `mapstructure:"channel"`
	AMQPURL string `mapstructure:"amqp_url"`
	Queue   string `mapstructure:"queue"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindSecrets(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// .env 可选；已存在的环境变量不会被覆盖。
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "spread-sentinel")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.mode", ModeProduction)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "sentinel:")

	v.SetDefault("scheduler.advisory_lock_key", int64(0x57454558))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.aux_startup_delay", "5s")
	v.SetDefault("scheduler.symbol_delay", "200ms")
	v.SetDefault("scheduler.detector.interval", "3s")
	v.SetDefault("scheduler.validation.interval", "10s")
	v.SetDefault("scheduler.execution.interval", "15s")
	v.SetDefault("scheduler.order_books.interval", "30s")
	v.SetDefault("scheduler.recent_trades.interval", "30s")
	v.SetDefault("scheduler.open_interest.interval", "60s")
	v.SetDefault("scheduler.funding_rates.interval", "60s")
	v.SetDefault("scheduler.account_balance.interval", "60s")

	v.SetDefault("weex.api_domain", "https://api-contract.weex.com")
	v.SetDefault("weex.request_timeout", "10s")
	v.SetDefault("weex.rate_limit_delay", "100ms")
	v.SetDefault("weex.upload_ai_log", true)

	v.SetDefault("market.symbols", []string{"cmt_btcusdt", "cmt_ethusdt", "cmt_bnbusdt"})
	v.SetDefault("market.depth_limit", 20)
	v.SetDefault("market.trades_limit", 20)

	v.SetDefault("comparison.source", "simulated")
	v.SetDefault("comparison.price_book", "memory")
	v.SetDefault("comparison.max_drift_pct", 1.0)
	v.SetDefault("comparison.price_ttl", "10s")
	v.SetDefault("comparison.min_spread_pct", 1.0)
	v.SetDefault("comparison.trade_amount", 100.0)
	v.SetDefault("comparison.fee_rate", 0.001)
	v.SetDefault("comparison.binance.base_url", "https://api.binance.com")
	v.SetDefault("comparison.binance.request_timeout", "10s")
	v.SetDefault("comparison.chainlink.request_timeout", "10s")
	v.SetDefault("comparison.chainlink.max_age", "1h")

	v.SetDefault("judge.provider", "anthropic")
	v.SetDefault("judge.service", "anthropic")
	v.SetDefault("judge.model", "claude-3-5-sonnet-20240620")
	v.SetDefault("judge.temperature", 0.3)
	v.SetDefault("judge.max_tokens", 300)
	v.SetDefault("judge.request_timeout", "30s")
	v.SetDefault("judge.batch_size", 5)

	v.SetDefault("execution.default_notional", 10.0)
	v.SetDefault("execution.batch_size", 5)
	v.SetDefault("execution.max_attempts", 5)
	v.SetDefault("execution.retry_backoff", "15s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("events.driver", "none")
	v.SetDefault("events.channel", "sentinel.alerts")
	v.SetDefault("events.queue", "sentinel.alerts")

	v.SetDefault("export.max_data_points", 100000)
}

// 没有默认值的键需要显式绑定，否则 Unmarshal 读不到环境变量。
func bindSecrets(v *viper.Viper) {
	for _, key := range []string{
		"database.dsn",
		"redis.addr",
		"redis.password",
		"weex.api_key",
		"weex.secret_key",
		"weex.passphrase",
		"weex.account_id",
		"comparison.binance.api_key",
		"comparison.binance.secret_key",
		"comparison.chainlink.rpc_url",
		"judge.base_url",
		"judge.api_key",
		"alerting.telegram.bot_token",
		"alerting.telegram.chat_id",
		"events.amqp_url",
	} {
		_ = v.BindEnv(key)
	}
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.App.Mode {
	case ModeProduction:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required in %s mode", ModeProduction)
		}
	case ModeEmulator:
	default:
		return fmt.Errorf("app.mode must be %s or %s, got %q", ModeProduction, ModeEmulator, c.App.Mode)
	}

	if len(c.Market.Symbols) == 0 {
		return fmt.Errorf("market.symbols must not be empty")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}

	tasks := map[string]TaskConfig{
		"detector":        c.Scheduler.Detector,
		"validation":      c.Scheduler.Validation,
		"execution":       c.Scheduler.Execution,
		"order_books":     c.Scheduler.OrderBooks,
		"recent_trades":   c.Scheduler.RecentTrades,
		"open_interest":   c.Scheduler.OpenInterest,
		"funding_rates":   c.Scheduler.FundingRates,
		"account_balance": c.Scheduler.AccountBalance,
	}
	for name, task := range tasks {
		if task.Cron == "" && task.Interval <= 0 {
			return fmt.Errorf("scheduler.%s needs an interval or a cron spec", name)
		}
	}

	switch c.Comparison.Source {
	case "simulated":
		if c.Comparison.MaxDriftPct < 0 {
			return fmt.Errorf("comparison.max_drift_pct cannot be negative")
		}
		if c.Comparison.PriceTTL < 0 {
			return fmt.Errorf("comparison.price_ttl cannot be negative")
		}
	case "binance":
	case "chainlink":
		if c.Comparison.Chainlink.RPCURL == "" {
			return fmt.Errorf("comparison.chainlink.rpc_url is required")
		}
	default:
		return fmt.Errorf("comparison.source must be simulated, binance or chainlink, got %q", c.Comparison.Source)
	}
	switch c.Comparison.PriceBook {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for comparison.price_book=redis")
		}
	default:
		return fmt.Errorf("comparison.price_book must be memory or redis, got %q", c.Comparison.PriceBook)
	}
	if c.Comparison.MinSpreadPct < 0 {
		return fmt.Errorf("comparison.min_spread_pct cannot be negative")
	}
	if c.Comparison.TradeAmount <= 0 {
		return fmt.Errorf("comparison.trade_amount must be greater than zero")
	}
	if c.Comparison.FeeRate < 0 {
		return fmt.Errorf("comparison.fee_rate cannot be negative")
	}

	if c.Judge.Temperature < 0 {
		return fmt.Errorf("judge.temperature cannot be negative")
	}
	if c.Judge.BatchSize <= 0 {
		return fmt.Errorf("judge.batch_size must be greater than zero")
	}
	if c.Execution.DefaultNotional <= 0 {
		return fmt.Errorf("execution.default_notional must be greater than zero")
	}
	if c.Execution.BatchSize <= 0 {
		return fmt.Errorf("execution.batch_size must be greater than zero")
	}
	if c.Execution.MaxAttempts <= 0 {
		return fmt.Errorf("execution.max_attempts must be greater than zero")
	}

	switch c.Events.Driver {
	case "", "none":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for events.driver=redis")
		}
	case "amqp":
		if c.Events.AMQPURL == "" {
			return fmt.Errorf("events.amqp_url is required for events.driver=amqp")
		}
	default:
		return fmt.Errorf("events.driver must be none, redis or amqp, got %q", c.Events.Driver)
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
