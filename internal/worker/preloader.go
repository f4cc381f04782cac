// Package worker holds the long-running loops around the engine: the context
// preloader and the inventory snapshot dispatcher.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"autobuy/internal/domain/entity"
	"autobuy/internal/observability"
	"autobuy/pkg/contextx"
	"autobuy/pkg/logx"
)

const (
	defaultPreloadInterval = 5 * time.Minute
	defaultPreloadTTL      = time.Hour
)

type ConfigurationLister interface {
	ListActive(ctx context.Context) ([]entity.PurchaseConfiguration, error)
	Get(ctx context.Context, id string) (entity.PurchaseConfiguration, error)
}

// ContextProvider warms up sessions and carts for one configuration.
type ContextProvider interface {
	Preload(ctx context.Context, cfg entity.PurchaseConfiguration) (*entity.PreloadedContext, error)
}

type ContextStore interface {
	Put(configurationID string, preloaded *entity.PreloadedContext, ttl time.Duration)
}

// Preloader периодически прогревает PreloadedContext для всех активных
// конфигураций. Гонка никогда не ждёт прогрева: промах кэша означает
// холодный старт.
type Preloader struct {
	configurations ConfigurationLister
	provider       ContextProvider
	store          ContextStore
	metrics        *observability.Metrics

	interval time.Duration
	ttl      time.Duration

	configurationIDs []string

	requestInterval time.Duration
	lastRequest     time.Time

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	isRunning  bool
	wg         sync.WaitGroup
}

func NewPreloader(
	configurations ConfigurationLister,
	provider ContextProvider,
	store ContextStore,
	metrics *observability.Metrics,
) *Preloader {
	return &Preloader{
		configurations: configurations,
		provider:       provider,
		store:          store,
		metrics:        metrics,
		interval:       defaultPreloadInterval,
		ttl:            defaultPreloadTTL,
	}
}

// WithSchedule задаёт период прогрева и время жизни записи в кэше.
func (w *Preloader) WithSchedule(interval, ttl time.Duration) *Preloader {
	if interval > 0 {
		w.interval = interval
	}
	if ttl > 0 {
		w.ttl = ttl
	}
	return w
}

// WithRateControl ограничивает частоту обращений к площадкам: sourceCount
// источников делят между собой ratePerSource.
func (w *Preloader) WithRateControl(ratePerSource time.Duration, sourceCount int) *Preloader {
	if sourceCount > 0 {
		w.requestInterval = ratePerSource / time.Duration(sourceCount)
	}
	return w
}

func (w *Preloader) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return errors.New("preloader is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel
	w.isRunning = true

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			w.isRunning = false
			w.cancelFunc = nil
			w.mu.Unlock()
		}()

		if err := w.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger(ctx).Error("preloader stopped", logx.Error(err))
		}
	}()

	return nil
}

func (w *Preloader) Stop() {
	w.mu.Lock()

	if !w.isRunning {
		w.mu.Unlock()
		return
	}

	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	w.mu.Unlock()

	w.wg.Wait()
}

// IsRunning возвращает текущий статус
func (w *Preloader) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isRunning
}

// Run прогревает контексты сразу и затем раз в interval, пока жив ctx.
func (w *Preloader) Run(ctx context.Context) error {
	logger(ctx).Info("preloader started", slog.Duration("interval", w.interval), slog.Duration("ttl", w.ttl))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.PreloadAll(ctx)

		select {
		case <-ctx.Done():
			logger(ctx).Info("preloader stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PreloadAll проходит по всем конфигурациям один раз и возвращает число
// успешно прогретых.
func (w *Preloader) PreloadAll(ctx context.Context) int {
	configurations, err := w.listConfigurations(ctx)
	if err != nil {
		logger(ctx).Error("failed to list configurations", logx.Error(err))
		return 0
	}

	var warmed int

	for _, cfg := range configurations {
		select {
		case <-ctx.Done():
			return warmed
		default:
		}

		if err := w.preloadOne(ctx, cfg); err != nil {
			if errors.Is(err, context.Canceled) {
				return warmed
			}
			logger(ctx).Warn("preload failed, races stay cold",
				slog.String(logx.FieldConfigurationID, cfg.ID),
				logx.Error(err),
			)
			continue
		}

		warmed++
	}

	if len(configurations) > 0 {
		logger(ctx).Info("preload cycle completed",
			slog.Int("configurations", len(configurations)),
			slog.Int("warmed", warmed),
		)
	}

	return warmed
}

func (w *Preloader) listConfigurations(ctx context.Context) ([]entity.PurchaseConfiguration, error) {
	ids := w.pinned()
	if len(ids) == 0 {
		return w.configurations.ListActive(ctx)
	}

	result := make([]entity.PurchaseConfiguration, 0, len(ids))
	for _, id := range ids {
		cfg, err := w.configurations.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if cfg.Active {
			result = append(result, cfg)
		}
	}
	return result, nil
}

func (w *Preloader) preloadOne(ctx context.Context, cfg entity.PurchaseConfiguration) error {
	if err := w.waitForNextSlot(ctx); err != nil {
		return err
	}

	ctx = contextx.WithLogger(ctx, logger(ctx).With(slog.String(logx.FieldConfigurationID, cfg.ID)))

	preloaded, err := w.provider.Preload(ctx, cfg)
	w.metrics.ObservePreload(err == nil)
	if err != nil {
		return err
	}

	w.store.Put(cfg.ID, preloaded, w.ttl)

	logger(ctx).Debug("context preloaded", slog.Int("sessions", len(preloaded.Sessions)))

	return nil
}

func (w *Preloader) waitForNextSlot(ctx context.Context) error {
	if w.requestInterval <= 0 {
		return nil
	}

	if w.lastRequest.IsZero() {
		w.lastRequest = time.Now()
		return nil
	}

	elapsed := time.Since(w.lastRequest)
	if elapsed >= w.requestInterval {
		w.lastRequest = time.Now()
		return nil
	}

	wait := w.requestInterval - elapsed

	select {
	case <-time.After(wait):
		w.lastRequest = time.Now()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
