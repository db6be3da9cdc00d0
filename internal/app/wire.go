package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/copytraderbot/internal/blob/s3"
	"github.com/alanyoungcy/copytraderbot/internal/book"
	"github.com/alanyoungcy/copytraderbot/internal/cache/redis"
	"github.com/alanyoungcy/copytraderbot/internal/config"
	"github.com/alanyoungcy/copytraderbot/internal/decision"
	"github.com/alanyoungcy/copytraderbot/internal/domain"
	"github.com/alanyoungcy/copytraderbot/internal/notify"
	"github.com/alanyoungcy/copytraderbot/internal/pipeline"
	"github.com/alanyoungcy/copytraderbot/internal/platform/polygon"
	"github.com/alanyoungcy/copytraderbot/internal/platform/polymarket"
	"github.com/alanyoungcy/copytraderbot/internal/risk"
	"github.com/alanyoungcy/copytraderbot/internal/source"
	"github.com/alanyoungcy/copytraderbot/internal/store/postgres"
)

// Dependencies bundles everything the running application needs, constructed
// in dependency order by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	PositionStore  domain.PositionStore
	GuardrailStore domain.GuardrailStore
	RiskStateStore domain.RiskStateStore
	PaperStore     domain.PaperStore
	PnLStore       domain.PnLStore
	FillLogStore   domain.FillLogStore

	// Redis
	QuoteCache  domain.QuoteCache
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	// Market data and detection
	Coordinator *source.Coordinator
	Book        *book.Store // nil when book mode is "none"

	// Decisioning
	Orchestrator *pipeline.Orchestrator

	Notifier *notify.Notifier
}

// Wire constructs all concrete dependencies from the configuration. Sources
// and the book store are built before the engines that read them; nothing is
// rebound after construction.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Supabase.DSN,
		Host:     cfg.Supabase.Host,
		Port:     cfg.Supabase.Port,
		Database: cfg.Supabase.Database,
		User:     cfg.Supabase.User,
		Password: cfg.Supabase.Password,
		SSLMode:  cfg.Supabase.SSLMode,
		MaxConns: cfg.Supabase.PoolMaxConns,
		MinConns: cfg.Supabase.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Supabase.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.PositionStore = postgres.NewPositionStore(pool)
	guardrails := postgres.NewGuardrailStore(pool)
	deps.GuardrailStore = guardrails
	deps.RiskStateStore = postgres.NewRiskStateStore(pool)
	deps.PaperStore = postgres.NewPaperStore(pool)
	deps.PnLStore = postgres.NewPnLStore(pool)
	fillLog := postgres.NewFillLogStore(pool)
	deps.FillLogStore = fillLog

	if err := seedGuardrails(ctx, guardrails, cfg.Guardrails); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: seed guardrails: %w", err)
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.QuoteCache = redis.NewQuoteCache(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)

	// --- S3 fill archive ---
	var archiveRunner *pipeline.ArchiveRunner
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		archiver := s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			fillLog,
			cfg.Archive.Prefix,
		)
		archiveRunner = pipeline.NewArchiveRunner(archiver, cfg.Archive.RunAt, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Market data ---
	dataClient := polymarket.NewDataClient(cfg.Polymarket.ClobHost, cfg.Polymarket.DataHost)

	var bookStreaming bool
	if strings.ToLower(cfg.Book.Mode) != "none" {
		bookMode, err := book.ParseMode(cfg.Book.Mode)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
		bookStreaming = bookMode.UsesStreaming()

		var wsClient *polymarket.WSClient
		if bookMode.UsesStreaming() {
			wsClient = polymarket.NewWSClient(cfg.Polymarket.WsHost + "/ws/market")
		}
		deps.Book = book.New(book.Config{
			Mode:               bookMode,
			SnapshotInterval:   cfg.Book.SnapshotInterval.Duration,
			FreshThreshold:     cfg.Book.FreshThreshold.Duration,
			SoftStaleThreshold: cfg.Book.SoftStaleThreshold.Duration,
		}, wsClient, dataClient, deps.QuoteCache, logger)
	}

	// --- Fill sources ---
	leaders := make([]domain.Leader, 0, len(cfg.Leaders))
	for _, l := range cfg.Leaders {
		leaders = append(leaders, domain.Leader{ID: l.ID, Wallet: l.Wallet, Label: l.Label})
	}

	triggerMode, err := source.ParseTriggerMode(cfg.Trigger.Mode)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %w", err)
	}

	var sources []source.FillSource
	if triggerMode.WantsPolling() {
		sources = append(sources, source.NewPollingSource(dataClient, leaders, source.PollingConfig{
			Interval:               cfg.Trigger.PollInterval.Duration,
			Lookback:               cfg.Trigger.Lookback.Duration,
			MaxConsecutiveFailures: cfg.Trigger.MaxConsecutiveFailures,
		}, deps.RateLimiter, logger))
	}
	if triggerMode.WantsOnChain() {
		watcher, err := polygon.NewWatcher(cfg.Polygon.RPCWsURL, cfg.Polygon.ExchangeAddress, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: polygon watcher: %w", err)
		}
		sources = append(sources, source.NewOnChainSource(watcher, cfg.Polygon.ExchangeAddress, leaders, logger))
	}

	deps.Coordinator = source.NewCoordinator(sources, cfg.Trigger.DedupeWindow.Duration, logger)

	// --- Engines and pipeline ---
	riskEngine := risk.New(
		triggerMode,
		bookStreaming,
		deps.Coordinator,
		bookView(deps.Book),
		deps.PositionStore,
		logger,
	)
	decider := decision.New(deps.PositionStore, deps.RiskStateStore, logger)
	simulator := decision.NewSimulator()

	processor := pipeline.NewProcessor(pipeline.ProcessorDeps{
		Guardrails: deps.GuardrailStore,
		RiskEngine: riskEngine,
		Decider:    decider,
		Simulator:  simulator,
		Book:       bookAccess(deps.Book),
		Positions:  deps.PositionStore,
		Paper:      deps.PaperStore,
		PnL:        deps.PnLStore,
		FillLog:    deps.FillLogStore,
		Locks:      deps.LockManager,
		Bus:        deps.SignalBus,
		Notifier:   deps.Notifier,
	}, logger)

	deps.Orchestrator = pipeline.NewOrchestrator(
		deps.Coordinator,
		bookHealth(deps.Book),
		processor,
		archiveRunner,
		deps.Notifier,
		logger,
	)

	return deps, cleanup, nil
}

// bookView converts the optional book store to the risk engine's interface,
// preserving nilness. A typed nil inside a non-nil interface would defeat
// the engine's nil checks.
func bookView(b *book.Store) risk.BookView {
	if b == nil {
		return nil
	}
	return b
}

func bookAccess(b *book.Store) pipeline.BookAccess {
	if b == nil {
		return nil
	}
	return b
}

func bookHealth(b *book.Store) pipeline.HealthReporter {
	if b == nil {
		return nil
	}
	return b
}

// seedGuardrails writes the configured defaults as the global fallback row
// so guardrail resolution reflects the config file without per-leader rows.
func seedGuardrails(ctx context.Context, store domain.GuardrailStore, defaults config.GuardrailDefaults) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return store.Upsert(ctx, domain.GuardrailConfig{
		LeaderID:             "*",
		Side:                 "",
		SkipMakerTrades:      defaults.SkipMakerTrades,
		MaxUsdcPerEvent:      decimal.NewFromFloat(defaults.MaxUsdcPerEvent),
		MaxOpenPositions:     defaults.MaxOpenPositions,
		MirrorRatio:          decimal.NewFromFloat(defaults.MirrorRatio),
		MaxUsdcPerTrade:      decimal.NewFromFloat(defaults.MaxUsdcPerTrade),
		MaxUsdcPerDay:        decimal.NewFromFloat(defaults.MaxUsdcPerDay),
		SlippageTolerancePct: decimal.NewFromFloat(defaults.SlippageTolerancePct),
	})
}
