package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"spread-sentinel/internal/alerting"
	"spread-sentinel/internal/config"
	"spread-sentinel/internal/events"
	"spread-sentinel/internal/exchange"
	"spread-sentinel/internal/fetcher"
	"spread-sentinel/internal/judge"
	"spread-sentinel/internal/pricebook"
	"spread-sentinel/internal/scheduler"
	"spread-sentinel/internal/service"
	"spread-sentinel/internal/spread"
	"spread-sentinel/internal/storage"
	"spread-sentinel/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// resources are the connections opened for one command.
type resources struct {
	store   storage.Repository
	locker  scheduler.Locker
	redis   *redis.Client
	closers []func()
}

func (r *resources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// open connects the store for the configured mode, and Redis when a
// component needs it.
func (a *App) open(ctx context.Context) (*resources, error) {
	res := &resources{}

	switch a.Config.App.Mode {
	case config.ModeEmulator:
		a.Logger.Warn().Msg("emulator mode: using in-memory store, nothing is persisted")
		res.store = storage.NewMemoryStore()
	default:
		store, err := a.openStore(ctx)
		if err != nil {
			return nil, err
		}
		res.store = store
		res.locker = store
		res.closers = append(res.closers, store.Close)
	}

	if a.needsRedis() {
		rdb, err := storage.NewRedisClient(ctx, a.Config.Redis)
		if err != nil {
			res.Close()
			return nil, err
		}
		res.redis = rdb
		res.closers = append(res.closers, func() { _ = rdb.Close() })
	}
	return res, nil
}

func (a *App) needsRedis() bool {
	return a.Config.Comparison.PriceBook == "redis" || a.Config.Events.Driver == "redis"
}

// openStore connects PostgreSQL and applies migrations when configured.
func (a *App) openStore(ctx context.Context) (*storage.Store, error) {
	if a.Config.Database.DSN == "" {
		return nil, errors.New("database.dsn not configured")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}
	if a.Config.Database.AutoMigrate {
		if err := storage.Migrate(pool, 0); err != nil {
			pool.Close()
			return nil, err
		}
		a.Logger.Info().Msg("database migrations applied")
	}
	return storage.NewStore(pool), nil
}

func (a *App) newExchange() *exchange.Client {
	cfg := a.Config.WEEX
	return exchange.NewClient(exchange.Options{
		BaseURL: cfg.APIDomain,
		Credentials: exchange.Credentials{
			APIKey:     cfg.APIKey,
			SecretKey:  cfg.SecretKey,
			Passphrase: cfg.Passphrase,
		},
		AccountID:      cfg.AccountID,
		Timeout:        cfg.RequestTimeout,
		RateLimitDelay: cfg.RateLimitDelay,
	}, a.Logger)
}

func (a *App) newComparison(res *resources) fetcher.ComparisonSource {
	cfg := a.Config.Comparison
	switch cfg.Source {
	case "binance":
		return fetcher.NewBinance(fetcher.BinanceOptions{
			BaseURL:   cfg.Binance.BaseURL,
			APIKey:    cfg.Binance.APIKey,
			SecretKey: cfg.Binance.SecretKey,
			Timeout:   cfg.Binance.RequestTimeout,
			Symbols:   cfg.Binance.Symbols,
		}, a.Logger)
	case "chainlink":
		return fetcher.NewChainlink(fetcher.ChainlinkOptions{
			RPCURL:  cfg.Chainlink.RPCURL,
			Feeds:   cfg.Chainlink.Feeds,
			Timeout: cfg.Chainlink.RequestTimeout,
			MaxAge:  cfg.Chainlink.MaxAge,
		}, a.Logger)
	default:
		var book pricebook.Book = pricebook.NewMemory()
		if cfg.PriceBook == "redis" && res.redis != nil {
			book = pricebook.NewRedis(res.redis, a.Config.Redis.KeyPrefix)
		}
		return fetcher.NewSimulated(fetcher.SimulatedOptions{
			MaxDriftPct: decimal.NewFromFloat(cfg.MaxDriftPct),
			Seed:        cfg.Seed,
			PriceTTL:    cfg.PriceTTL,
		}, book, a.Logger)
	}
}

func (a *App) newPublisher(res *resources) (events.Publisher, error) {
	cfg := a.Config.Events
	switch cfg.Driver {
	case "redis":
		return events.NewRedisPublisher(res.redis, cfg.Channel), nil
	case "amqp":
		pub, err := events.DialAMQP(cfg.AMQPURL, cfg.Queue)
		if err != nil {
			return nil, err
		}
		return pub, nil
	default:
		return events.Nop{}, nil
	}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return alerting.Nop{}
}

// newJudge returns nil when the service is not configured; the validator
// then rejects every alert.
func (a *App) newJudge() judge.Generator {
	cfg := a.Config.Judge
	temperature := cfg.Temperature
	client, err := judge.New(judge.Options{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Provider:    cfg.Provider,
		Service:     cfg.Service,
		Model:       cfg.Model,
		Temperature: &temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.RequestTimeout,
	}, a.Logger)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("AI judgment disabled; pending alerts will be rejected")
		return nil
	}
	return client
}

func (a *App) spreadParams() spread.Params {
	cfg := a.Config.Comparison
	return spread.Params{
		MinSpreadPct: decimal.NewFromFloat(cfg.MinSpreadPct),
		TradeAmount:  decimal.NewFromFloat(cfg.TradeAmount),
		FeeRate:      decimal.NewFromFloat(cfg.FeeRate),
	}
}

func (a *App) executorOptions() service.ExecutorOptions {
	cfg := a.Config.Execution
	return service.ExecutorOptions{
		DefaultNotional: decimal.NewFromFloat(cfg.DefaultNotional),
		BatchSize:       cfg.BatchSize,
		MaxAttempts:     cfg.MaxAttempts,
		RetryBackoff:    cfg.RetryBackoff,
		UploadAILog:     a.Config.WEEX.UploadAILog,
		Model:           a.Config.Judge.Model,
	}
}

// pipeline holds the three core workers.
type pipeline struct {
	client    *exchange.Client
	detector  *service.Detector
	validator *service.Validator
	executor  *service.Executor
	publisher events.Publisher
}

func (a *App) newPipeline(res *resources, source fetcher.ComparisonSource) (*pipeline, error) {
	pub, err := a.newPublisher(res)
	if err != nil {
		return nil, err
	}
	notifier := a.newNotifier()
	client := a.newExchange()

	detector := service.NewDetector(service.DetectorOptions{
		Symbols: a.Config.Market.Symbols,
		Params:  a.spreadParams(),
	}, client, source, res.store, pub, notifier, a.Logger)

	var executor *service.Executor
	var immediate service.ImmediateExecutor
	if client.HasCredentials() {
		executor = service.NewExecutor(a.executorOptions(), client, client, res.store, pub, notifier, a.Logger)
		immediate = executor
	} else {
		a.Logger.Warn().Msg("WEEX credentials not configured; automatic execution disabled")
	}

	validator := service.NewValidator(service.ValidatorOptions{
		BatchSize: a.Config.Judge.BatchSize,
	}, a.newJudge(), res.store, immediate, pub, a.Logger)

	return &pipeline{
		client:    client,
		detector:  detector,
		validator: validator,
		executor:  executor,
		publisher: pub,
	}, nil
}

type task struct {
	name         string
	cfg          config.TaskConfig
	startupDelay time.Duration
	tick         scheduler.TickFunc
}

// Run executes the long-running pipeline until SIGINT/SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer res.Close()

	p, err := a.newPipeline(res, a.newComparison(res))
	if err != nil {
		return err
	}
	defer func() {
		if err := p.publisher.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close event publisher")
		}
	}()

	sc := a.Config.Scheduler
	tasks := []task{
		{name: "detector", cfg: sc.Detector, startupDelay: sc.StartupDelay, tick: p.detector.Tick},
		{name: "validation", cfg: sc.Validation, startupDelay: sc.StartupDelay, tick: p.validator.Tick},
	}
	if p.executor != nil {
		tasks = append(tasks, task{name: "execution", cfg: sc.Execution, startupDelay: sc.StartupDelay, tick: p.executor.Tick})
	}

	pollers := service.NewMarketPollers(service.MarketPollerOptions{
		Symbols:     a.Config.Market.Symbols,
		DepthLimit:  a.Config.Market.DepthLimit,
		TradesLimit: a.Config.Market.TradesLimit,
		SymbolDelay: sc.SymbolDelay,
	}, p.client, res.store, a.Logger)
	aux := []struct {
		collection string
		cfg        config.TaskConfig
	}{
		{storage.CollectionOrderBooks, sc.OrderBooks},
		{storage.CollectionRecentTrades, sc.RecentTrades},
		{storage.CollectionOpenInterest, sc.OpenInterest},
		{storage.CollectionFundingRates, sc.FundingRates},
		{storage.CollectionAccountBalance, sc.AccountBalance},
	}
	for _, t := range aux {
		if t.collection == storage.CollectionAccountBalance && !p.client.HasCredentials() {
			continue
		}
		tasks = append(tasks, task{
			name:         t.collection,
			cfg:          t.cfg,
			startupDelay: sc.StartupDelay + sc.AuxStartupDelay,
			tick:         pollers[t.collection].Tick,
		})
	}

	group, gctx := errgroup.WithContext(ctx)
	for i, t := range tasks {
		var lockKey int64
		if sc.AdvisoryLockKey != 0 {
			lockKey = sc.AdvisoryLockKey + int64(i)
		}
		sched, err := scheduler.New(scheduler.Options{
			Name:         t.name,
			Interval:     t.cfg.Interval,
			Cron:         t.cfg.Cron,
			StartupDelay: t.startupDelay,
			Locker:       res.locker,
			LockKey:      lockKey,
		}, a.Logger)
		if err != nil {
			return err
		}
		tick := t.tick
		group.Go(func() error {
			return sched.Run(gctx, tick)
		})
	}

	a.Logger.Info().
		Str("version", version.String()).
		Str("mode", a.Config.App.Mode).
		Str("source", a.Config.Comparison.Source).
		Strs("symbols", a.Config.Market.Symbols).
		Int("tasks", len(tasks)).
		Msg("starting spread sentinel")

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("pipeline terminated with error")
		return err
	}

	a.Logger.Info().Msg("spread sentinel stopped")
	return nil
}

// Migrate applies (steps == 0) or steps through the embedded migrations.
func (a *App) Migrate(ctx context.Context, steps int) error {
	if a.Config.Database.DSN == "" {
		return errors.New("database.dsn not configured; nothing to migrate")
	}
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := storage.Migrate(pool, steps); err != nil {
		return err
	}
	a.Logger.Info().Int("steps", steps).Msg("migrations complete")
	return nil
}

// SetPreference writes one user's auto-execution setting.
func (a *App) SetPreference(ctx context.Context, userID string, enabled bool, maxRisk string) error {
	if userID == "" {
		return errors.New("user id is required")
	}
	risk := spread.ParseRiskLevel(maxRisk, "")
	if maxRisk != "" && risk == "" {
		return fmt.Errorf("unknown risk level %q (want LOW, MEDIUM or HIGH)", maxRisk)
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.UpsertPreference(ctx, storage.UserPreference{
		UserID:             userID,
		AutoExecuteEnabled: enabled,
		AutoExecuteMaxRisk: risk,
	}); err != nil {
		return err
	}
	a.Logger.Info().Str("user_id", userID).Bool("enabled", enabled).Str("max_risk", string(risk)).Msg("preference saved")
	return nil
}

// ExportOptions hold parameters for exporting spread samples.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
	Audit bool
}

// SimulateOptions configure simulate-opportunity.
type SimulateOptions struct {
	Symbol     string
	WeexPrice  decimal.Decimal
	OtherPrice decimal.Decimal
	// Validate runs the validation worker on the created alert.
	Validate bool
}
