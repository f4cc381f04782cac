// Package application wires connectors, repositories, the purchase engine and
// its workers into one errgroup.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"autobuy/internal/config"
	"autobuy/internal/domain/entity"
	"autobuy/internal/domain/service/condition"
	"autobuy/internal/domain/service/purchase"
	"autobuy/internal/domain/service/race"
	"autobuy/internal/domain/service/scoring"
	"autobuy/internal/infrastructure/contextcache"
	"autobuy/internal/infrastructure/limits"
	"autobuy/internal/infrastructure/notifier"
	"autobuy/internal/infrastructure/persistence"
	"autobuy/internal/infrastructure/purchaser"
	"autobuy/internal/infrastructure/scheduler"
	"autobuy/internal/observability"
	"autobuy/internal/worker"
	"autobuy/pkg/application/connectors"
	"autobuy/pkg/application/modules"
	"autobuy/pkg/logx"
)

func Run(ctx context.Context, cfg config.Config) error {
	// 1. Connectors
	pg := &connectors.Postgres{
		DSN:             cfg.Postgres.DSN,
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	}
	db := pg.Client(ctx)
	defer pg.Close(ctx)

	if err := persistence.Migrate(ctx, db); err != nil {
		return fmt.Errorf("persistence.Migrate: %w", err)
	}

	rds := &connectors.Redis{
		Username:           cfg.Redis.Username,
		Password:           cfg.Redis.Password,
		Address:            cfg.Redis.Address,
		DatabaseNumber:     cfg.Redis.DatabaseNumber,
		PoolSize:           cfg.Redis.PoolSize,
		MinIdleConnections: cfg.Redis.MinIdleConnections,
		MaxIdleConnections: cfg.Redis.MaxIdleConnections,
	}
	redisClient := rds.Client(ctx)
	defer rds.Close(ctx)

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Address,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DatabaseNumber,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger(ctx).Error("asynqClient.Close", logx.Error(err))
		}
	}()

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	// 2. Repositories
	configurations := persistence.NewConfigurationRepository(db)
	ledger := persistence.NewAttemptRepository(db)

	reportUnreconciled(ctx, ledger)

	// 3. Purchasers
	registry := newRegistry(cfg.Purchasers)
	cache := contextcache.New(cfg.Engine.PreloadTTL)
	counter := limits.NewRedisCounter(redisClient)
	retries := scheduler.NewAsynqScheduler(asynqClient, scheduler.QueueRetries)

	// 4. Engine
	scorer := scoring.NewScorer(cfg.Engine.Weights())

	coordinator := race.NewCoordinator(registry, cfg.Engine.RaceDeadline, metrics).
		WithLateSuccessHandler(func(ctx context.Context, discarded entity.DiscardedSuccess) {
			if err := ledger.RecordDiscarded(ctx, discarded); err != nil {
				logger(ctx).Error("ledger.RecordDiscarded", logx.Error(err), slog.String(logx.FieldAttemptID, discarded.AttemptID))
			}
		})

	outcomes, deliver, err := newNotifier(ctx, cfg.Notifier)
	if err != nil {
		return err
	}

	engine := purchase.NewEngine(purchase.Dependencies{
		Configurations: configurations,
		Conditions:     condition.NewValidator(counter, condition.NewExpiryVerifier(), cfg.Engine.DailyLimit),
		Selector:       scorer,
		Racer:          coordinator,
		Fallback:       cfg.Engine.Plan().Chain(coordinator, scorer, retries, metrics),
		Cache:          cache,
		Counter:        counter,
		Ledger:         ledger,
		Notifier:       outcomes,
		Metrics:        metrics,
	})

	// 5. Workers
	preloader := worker.NewPreloader(configurations, registry, cache, metrics).
		WithSchedule(cfg.Engine.PreloadInterval, cfg.Engine.PreloadTTL).
		WithRateControl(cfg.Engine.PreloadRate, len(registry.Sources())).
		WithConfigurations(cfg.Engine.PreloadConfigurations...)

	dispatcher := worker.NewDispatcher(engine, metrics, cfg.Engine.MaxConcurrentRaces)

	asynqLogger := zap.Must(zap.NewProduction()).Sugar().Named("asynq")
	defer func() { _ = asynqLogger.Sync() }()

	g, ctx := errgroup.WithContext(ctx)

	modules.ProbeServer{
		Name:          cfg.App.Name,
		Version:       cfg.App.Version,
		ListenAddress: cfg.Probe.ListenAddress,
	}.Run(ctx, g)

	modules.MetricServer{
		ListenAddress: cfg.Metrics.ListenAddress,
	}.Run(ctx, g)

	modules.AsynqServer{
		RedisUsername: cfg.Redis.Username,
		RedisPassword: cfg.Redis.Password,
		RedisAddress:  cfg.Redis.Address,
		RedisDB:       cfg.Redis.DatabaseNumber,
		Concurrency:   cfg.Asynq.Concurrency,
		Logger:        asynqLogger,
	}.Run(ctx, g,
		modules.AsynqQueues{
			scheduler.QueueSnapshots: 6,
			scheduler.QueueRetries:   3,
		},
		scheduler.SnapshotHandler(dispatcher.Submit),
		scheduler.RetryHandler(func(ctx context.Context, token entity.ReplayToken) error {
			_, err := engine.Replay(ctx, token)
			return err
		}),
	)

	g.Go(func() error {
		return untilCancelled(dispatcher.Run(ctx))
	})

	g.Go(func() error {
		return untilCancelled(preloader.Run(ctx))
	})

	if deliver != nil {
		g.Go(func() error {
			return untilCancelled(deliver(ctx))
		})
	}

	logger(ctx).Info("autobuy started", slog.Any("sources", registry.Sources()))

	if err := g.Wait(); err != nil {
		return fmt.Errorf("errgroup.Wait: %w", err)
	}

	logger(ctx).Info("application stopping...")

	return nil
}

// reportUnreconciled logs every race with a discarded success next to the
// transaction that won it, so both purchases can be matched by hand.
func reportUnreconciled(ctx context.Context, ledger *persistence.AttemptRepository) {
	pending, err := ledger.UnreconciledDiscarded(ctx)
	if err != nil {
		logger(ctx).Error("ledger.UnreconciledDiscarded", logx.Error(err))
		return
	}
	if pending == 0 {
		return
	}

	logger(ctx).Warn("discarded successes wait for reconciliation", slog.Int("count", pending))

	raceIDs, err := ledger.UnreconciledRaces(ctx)
	if err != nil {
		logger(ctx).Error("ledger.UnreconciledRaces", logx.Error(err))
		return
	}

	for _, raceID := range raceIDs {
		attempts, err := ledger.ListByRace(ctx, raceID)
		if err != nil {
			logger(ctx).Error("ledger.ListByRace", logx.Error(err), slog.String(logx.FieldRaceID, raceID))
			continue
		}

		winner, ok := lo.Find(attempts, func(a *entity.PurchaseAttempt) bool {
			return a.Status == entity.AttemptStatusSucceeded
		})
		if !ok || winner.Result == nil {
			logger(ctx).Warn("discarded success without a recorded winner", slog.String(logx.FieldRaceID, raceID))
			continue
		}

		logger(ctx).Warn("discarded success next to race winner",
			slog.String(logx.FieldRaceID, raceID),
			slog.String(logx.FieldAttemptID, winner.ID),
			slog.String(logx.FieldSource, winner.Candidate.Source),
			slog.String(logx.FieldTransactionID, winner.Result.TransactionID),
		)
	}
}

func newRegistry(cfg config.Purchasers) *purchaser.Registry {
	client := purchaser.NewHTTPClient(cfg.Token)

	registry := purchaser.NewRegistry()
	for _, source := range cfg.Sources() {
		registry.Register(source, purchaser.NewHTTPAdapter(source, cfg.Endpoints[source], client).
			WithWarmTimeout(cfg.WarmTimeout))
	}

	return registry
}

// newNotifier returns the engine-facing notifier and, for telegram, the loop
// that delivers queued events.
func newNotifier(ctx context.Context, cfg config.Notifier) (purchase.Notifier, func(context.Context) error, error) {
	if !cfg.Telegram() {
		logger(ctx).Info("telegram notifier disabled, outcomes go to the log")
		return notifier.Log{}, nil, nil
	}

	bot, err := notifier.NewTelegramBot(cfg.BotToken, cfg.ChatID)
	if err != nil {
		return nil, nil, fmt.Errorf("notifier.NewTelegramBot: %w", err)
	}

	if err := bot.SendText(ctx, "autobuy is starting"); err != nil {
		logger(ctx).Error("telegram notifier test failed, check token and chat id", logx.Error(err))
	}

	queue := notifier.NewChannel(cfg.BufferSize)

	return queue, func(ctx context.Context) error {
		return bot.Run(ctx, queue.Events())
	}, nil
}

func untilCancelled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
