package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/satoshis-endgame/sentinel/internal/adapters/clickhouse"
	"github.com/satoshis-endgame/sentinel/internal/adapters/config"
	"github.com/satoshis-endgame/sentinel/internal/adapters/database"
	"github.com/satoshis-endgame/sentinel/internal/adapters/providers"
	"github.com/satoshis-endgame/sentinel/internal/adapters/redis"
	"github.com/satoshis-endgame/sentinel/internal/adapters/telegram"
	"github.com/satoshis-endgame/sentinel/internal/adapters/tipstream"
	"github.com/satoshis-endgame/sentinel/internal/alerts"
	"github.com/satoshis-endgame/sentinel/internal/checker"
	"github.com/satoshis-endgame/sentinel/internal/detector"
	"github.com/satoshis-endgame/sentinel/internal/monitor"
	"github.com/satoshis-endgame/sentinel/internal/registry"
	"github.com/satoshis-endgame/sentinel/pkg/logger"
	"github.com/satoshis-endgame/sentinel/pkg/models"
	"github.com/satoshis-endgame/sentinel/pkg/worker"
)

func main() {
	// Setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, shutting down...")
		cancel()
	}()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Sentinel starting...",
		zap.Duration("poll_interval", cfg.Monitor.PollInterval),
		zap.Strings("providers", cfg.Providers.Priority),
	)

	// Initialize database
	db, err := initDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// Load the watched address registry. Without it there is nothing to
	// monitor, so failure here is fatal.
	reg, err := registry.Load(ctx, registry.NewSQLRepository(db.DB()))
	if err != nil {
		return err
	}
	logRegistryStats(reg)

	// Initialize chain providers in priority order
	pool, directPool, err := initProviders(cfg)
	if err != nil {
		return err
	}

	// Optional leadership lock for multi-instance deployments
	var leader monitor.Leader
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(&cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to initialize redis: %w", err)
		}
		defer redisClient.Close()

		lock := redisClient.NewMonitorLock()
		defer lock.Release(context.Background())
		leader = lock
	}

	// Optional ClickHouse analytics sink
	var analytics *clickhouse.Analytics
	if cfg.Analytics.Enabled {
		analytics, err = clickhouse.New(&cfg.Analytics)
		if err != nil {
			return fmt.Errorf("failed to initialize analytics: %w", err)
		}
		defer analytics.Close()
	}

	// Alert pipeline: notifier -> manager -> detector
	notifier, tgNotifier := initNotifier(cfg)

	var recorder alerts.PatternRecorder
	if analytics != nil {
		recorder = analytics
	}
	alertManager := alerts.NewManager(cfg.Alerts, notifier, alerts.NewSQLRepository(db.DB()), recorder)
	if err := alertManager.Restore(ctx); err != nil {
		logger.Warn("failed to restore alert cooldowns", zap.Error(err))
	}

	det := detector.New(cfg.Detector, alertManager)
	go det.Run(ctx)

	// Block monitor on the periodic runner
	store := monitor.NewSQLStore(db.DB())
	sink := &eventFanout{detector: det, analytics: analytics}
	blockMonitor := monitor.New(pool, reg, store, sink, leader, cfg.Monitor)

	group := worker.NewWorkerGroup(ctx)
	runner := group.Add(blockMonitor, cfg.Monitor.PollInterval)

	// Tier-driven direct checks on leftover rate budget
	if cfg.Checker.Enabled {
		group.Add(checker.New(cfg.Checker, reg, directPool), cfg.Checker.SweepInterval)
	}

	group.Start()

	// The websocket tip feed nudges the monitor between polls
	if cfg.Providers.TipStreamOn {
		tipstream.New(cfg.Providers.TipStreamURL, func(height int64) {
			runner.Trigger()
		}).Start(ctx)
	}

	if tgNotifier != nil {
		if err := tgNotifier.SendStartup(ctx, reg.Size()); err != nil {
			logger.Warn("failed to send startup notification", zap.Error(err))
		}
	}

	logger.Info("🛡️ Sentinel online",
		zap.Int("watched_addresses", reg.Size()),
	)

	// Keep service running
	<-ctx.Done()
	logger.Info("shutting down gracefully...")
	group.Stop(30 * time.Second)

	return nil
}

// eventFanout forwards committed events to the detector and, when enabled,
// mirrors them into the analytics sink.
type eventFanout struct {
	detector  *detector.Detector
	analytics *clickhouse.Analytics
}

func (f *eventFanout) Publish(events []models.ActivityEvent) {
	if f.analytics != nil {
		f.analytics.RecordEvents(events)
	}
	f.detector.Publish(events)
}

// initDatabase initializes database connection with sqlx
func initDatabase(cfg *config.Config) (*database.DB, error) {
	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Migrate("./migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("database connection established (sqlx)",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Name),
	)

	return db, nil
}

// initProviders builds two pools over the same rate buckets: a blocking one
// for block scanning and a best-effort one for direct checks, so direct checks
// can never starve the scanner of tokens.
func initProviders(cfg *config.Config) (*providers.Pool, *providers.Pool, error) {
	var chain, direct []providers.ChainProvider

	for _, name := range cfg.Providers.Priority {
		var rl *providers.RateLimitedProvider
		switch name {
		case "blockstream":
			p := providers.NewBlockstreamProvider(cfg.Providers.Blockstream.BaseURL)
			rl = providers.NewRateLimitedProvider(p,
				cfg.Providers.Blockstream.RatePerSec, cfg.Providers.Blockstream.BucketCapacity)
		case "mempoolspace":
			p := providers.NewMempoolSpaceProvider(cfg.Providers.MempoolSpace.BaseURL)
			rl = providers.NewRateLimitedProvider(p,
				cfg.Providers.MempoolSpace.RatePerSec, cfg.Providers.MempoolSpace.BucketCapacity)
		default:
			return nil, nil, fmt.Errorf("unknown provider %q in priority list", name)
		}
		chain = append(chain, rl)
		direct = append(direct, rl.BestEffort())
	}

	pool := providers.NewPool(cfg.Providers.CallTimeout, chain...)
	directPool := providers.NewPool(cfg.Providers.CallTimeout, direct...)

	logger.Info("chain providers initialized",
		zap.Strings("priority", pool.Providers()),
		zap.Duration("call_timeout", cfg.Providers.CallTimeout),
	)

	return pool, directPool, nil
}

// initNotifier picks the alert channel: Telegram when configured, logging
// otherwise.
func initNotifier(cfg *config.Config) (alerts.Notifier, *telegram.Notifier) {
	if cfg.Telegram.BotToken == "" {
		logger.Info("telegram not configured, alerts will be logged only")
		return alerts.LogNotifier{}, nil
	}

	tg, err := telegram.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	if err != nil {
		logger.Error("failed to create telegram notifier, falling back to logs", zap.Error(err))
		return alerts.LogNotifier{}, nil
	}
	return tg, tg
}

func logRegistryStats(reg *registry.Registry) {
	stats := reg.Stats()
	logger.Info("watched address registry ready",
		zap.Int("total", stats.Total),
		zap.Int("satoshi_era", stats.SatoshiEra),
		zap.Any("by_type", stats.ByType),
		zap.Any("by_tier", stats.ByTier),
	)
}
