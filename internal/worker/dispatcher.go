package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"autobuy/internal/domain/entity"
	"autobuy/internal/domain/service/purchase"
	"autobuy/internal/observability"
	"autobuy/pkg/contextx"
	"autobuy/pkg/logx"
)

const (
	DispatchStarted = "started"
	DispatchBusy    = "busy"
	DispatchFailed  = "failed"

	defaultMaxConcurrent = 16
)

var ErrDispatcherStopped = errors.New("dispatcher stopped")

type Executor interface {
	Execute(ctx context.Context, configurationID string, candidates []entity.InventoryCandidate) (purchase.Result, error)
}

// Dispatcher запускает гонки по снимкам инвентаря. Разные конфигурации
// гоняются параллельно, одна конфигурация одновременно участвует не более
// чем в одной гонке: снимок для занятой конфигурации отбрасывается.
type Dispatcher struct {
	engine  Executor
	metrics *observability.Metrics

	snapshots     chan entity.InventorySnapshot
	done          chan struct{}
	maxConcurrent int

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewDispatcher(engine Executor, metrics *observability.Metrics, maxConcurrent int) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}

	return &Dispatcher{
		engine:        engine,
		metrics:       metrics,
		snapshots:     make(chan entity.InventorySnapshot, maxConcurrent),
		done:          make(chan struct{}),
		maxConcurrent: maxConcurrent,
		inFlight:      make(map[string]struct{}),
	}
}

// Submit ставит снимок в очередь. Блокируется, пока очередь полна.
func (d *Dispatcher) Submit(ctx context.Context, snapshot entity.InventorySnapshot) error {
	select {
	case <-d.done:
		return ErrDispatcherStopped
	default:
	}

	select {
	case d.snapshots <- snapshot:
		return nil
	case <-d.done:
		return ErrDispatcherStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run разбирает очередь до отмены ctx. Отмена ctx не прерывает начатые
// гонки, Run дожидается их перед выходом.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)

	var g errgroup.Group
	g.SetLimit(d.maxConcurrent)

	logger(ctx).Info("dispatcher started", slog.Int("max-concurrent", d.maxConcurrent))

	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			logger(ctx).Info("dispatcher stopped")
			return ctx.Err()
		case snapshot := <-d.snapshots:
			d.dispatch(ctx, &g, snapshot)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, g *errgroup.Group, snapshot entity.InventorySnapshot) {
	ctx = contextx.WithLogger(ctx, logger(ctx).With(slog.String(logx.FieldConfigurationID, snapshot.ConfigurationID)))

	if !d.acquire(snapshot.ConfigurationID) {
		d.metrics.ObserveDispatch(DispatchBusy)
		logger(ctx).Debug("race in progress, snapshot dropped")
		return
	}

	d.metrics.ObserveDispatch(DispatchStarted)

	raceCtx := context.WithoutCancel(ctx)
	g.Go(func() error {
		err := d.execute(raceCtx, snapshot)
		d.release(snapshot.ConfigurationID)

		if err != nil {
			d.metrics.ObserveDispatch(DispatchFailed)
		}
		return nil
	})
}

func (d *Dispatcher) execute(ctx context.Context, snapshot entity.InventorySnapshot) error {
	result, err := d.engine.Execute(ctx, snapshot.ConfigurationID, snapshot.Candidates)
	if err != nil {
		logger(ctx).Error("purchase flow aborted", logx.Error(err))
		return err
	}

	logger(ctx).Info("purchase flow finished",
		slog.String("outcome", string(result.Event.Type)),
		slog.Int("attempts", len(result.Attempts())),
	)

	return nil
}

func (d *Dispatcher) acquire(configurationID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, busy := d.inFlight[configurationID]; busy {
		return false
	}
	d.inFlight[configurationID] = struct{}{}
	return true
}

func (d *Dispatcher) release(configurationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.inFlight, configurationID)
}
