package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/quantara/perpbot/internal/blob/s3"
	"github.com/quantara/perpbot/internal/cache/redis"
	"github.com/quantara/perpbot/internal/config"
	"github.com/quantara/perpbot/internal/domain"
	"github.com/quantara/perpbot/internal/engine"
	"github.com/quantara/perpbot/internal/executor"
	"github.com/quantara/perpbot/internal/gate"
	"github.com/quantara/perpbot/internal/guard"
	"github.com/quantara/perpbot/internal/journal"
	"github.com/quantara/perpbot/internal/lifecycle"
	"github.com/quantara/perpbot/internal/notify"
	"github.com/quantara/perpbot/internal/oracle"
	"github.com/quantara/perpbot/internal/quality"
	"github.com/quantara/perpbot/internal/risk"
	"github.com/quantara/perpbot/internal/store/postgres"
)

// Dependencies bundles everything the run loops need. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	LiveTrades domain.LiveTradeStore
	Settled    domain.SettledTradeStore
	Events     domain.EventStore
	Equities   domain.EquityStore

	// Caches
	MarketData    *redis.MarketData
	SnapshotCache *redis.SnapshotCache
	Locks         *redis.LockManager

	// Engine stack
	Health   *guard.HealthMonitor
	Drawdown *guard.DrawdownGuard
	Manager  *lifecycle.Manager
	Engine   *engine.Engine

	// Archival; nil when archiving is disabled.
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// releases resources on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if !cfg.IsPaper() {
		return nil, nil, fmt.Errorf("wire: live mode requires a venue execution adapter; only paper is wired")
	}
	if cfg.Oracle.Endpoint == "" {
		return nil, nil, fmt.Errorf("wire: oracle endpoint is required")
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.LiveTrades = postgres.NewLiveTradeStore(pool)
	deps.Settled = postgres.NewSettledTradeStore(pool)
	deps.Events = postgres.NewEventStore(pool)
	deps.Equities = postgres.NewEquityStore(pool)

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

	deps.MarketData = redis.NewMarketData(redisClient)
	deps.SnapshotCache = redis.NewSnapshotCache(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)

	// --- S3 archival ---
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

		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Settled, deps.Events)
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

	// --- Engine stack ---
	jnl := journal.New(deps.Events, logger)
	deps.Health = guard.NewHealthMonitor(cfg.Health, logger)
	deps.Drawdown = guard.NewDrawdownGuard(cfg.Drawdown, logger)

	transport := executor.NewDryRunTransport(cfg.Paper, logger)
	router := executor.NewRouter(cfg.Execution, transport, logger)

	deps.Manager = lifecycle.NewManager(
		cfg.Lifecycle,
		cfg.Paper,
		cfg.IsPaper(),
		cfg.Risk.PumpScoreThreshold,
		deps.LiveTrades,
		deps.Settled,
		jnl,
		router,
		deps.MarketData,
		logger,
	)

	equityProvider := engine.NewPaperEquity(cfg.Paper.StartEquity, deps.Settled, deps.Manager, deps.MarketData)

	// The oracle posts the engine snapshot as decision context. The engine is
	// built after the oracle, so bind the snapshot source late.
	var eng *engine.Engine
	oracleClient := oracle.NewClient(cfg.Oracle.Endpoint, cfg.Oracle.APIKey, func() domain.StateSnapshot {
		if eng == nil {
			return domain.StateSnapshot{TS: time.Now().UTC(), Mode: cfg.Mode}
		}
		return eng.Snapshot()
	})

	startedAt := time.Now().UTC()
	eng = engine.New(cfg, engine.Deps{
		Oracle:   oracleClient,
		Market:   deps.MarketData,
		Equity:   equityProvider,
		Quality:  quality.NewGate(cfg.Quality, deps.MarketData, logger),
		Health:   deps.Health,
		Drawdown: deps.Drawdown,
		Gate:     gate.NewEligibility(cfg.Risk, deps.Health, deps.Drawdown, startedAt, logger),
		Levels:   risk.NewCalculator(cfg.Risk),
		Sizer:    risk.NewSizer(cfg.Risk),
		Router:   router,
		Manager:  deps.Manager,
		Journal:  jnl,
		Equities: deps.Equities,
	}, logger)
	deps.Engine = eng

	return deps, cleanup, nil
}
