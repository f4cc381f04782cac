// Package purchase is the orchestration entry point: validate, select, race,
// fall back, then hand the outcome to the ledger and the notifier.
package purchase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"autobuy/internal/domain/entity"
	"autobuy/internal/domain/service/condition"
	"autobuy/internal/domain/service/fallback"
	"autobuy/internal/domain/service/race"
	"autobuy/internal/observability"
	"autobuy/pkg/contextx"
	"autobuy/pkg/logx"
)

const reasonNoEligible = "no eligible candidates"

type ConfigurationSource interface {
	Get(ctx context.Context, id string) (entity.PurchaseConfiguration, error)
}

// Ledger durably stores terminal attempts. The engine never reads from it.
type Ledger interface {
	Record(ctx context.Context, attempts []*entity.PurchaseAttempt) error
	RecordDiscarded(ctx context.Context, discarded entity.DiscardedSuccess) error
}

type Notifier interface {
	Notify(ctx context.Context, event entity.OutcomeEvent) error
}

type ContextCache interface {
	Get(configurationID string) (*entity.PreloadedContext, bool)
}

type DailyCounter interface {
	Increment(ctx context.Context, configurationID string, day time.Time) (int, error)
}

type ConditionValidator interface {
	Validate(ctx context.Context, cfg entity.PurchaseConfiguration, candidates []entity.InventoryCandidate) *condition.Rejection
}

type FallbackChain interface {
	Run(ctx context.Context, in fallback.Input) fallback.Report
}

type Dependencies struct {
	Configurations ConfigurationSource
	Conditions     ConditionValidator
	Selector       fallback.Selector
	Racer          fallback.Racer
	Fallback       FallbackChain
	Cache          ContextCache
	Counter        DailyCounter
	Ledger         Ledger
	Notifier       Notifier
	Metrics        *observability.Metrics
}

type Engine struct {
	Dependencies

	contract *validator.Validate
	running  *keyedMutex
	now      func() time.Time
}

func NewEngine(deps Dependencies) *Engine {
	return &Engine{
		Dependencies: deps,
		contract:     validator.New(validator.WithRequiredStructEnabled()),
		running:      newKeyedMutex(),
		now:          time.Now,
	}
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Result is the structured outcome of one Execute or Replay call.
type Result struct {
	Configuration entity.PurchaseConfiguration
	Rejection     *condition.Rejection
	Primary       entity.RaceOutcome
	Fallback      *fallback.Report
	Winner        *entity.PurchaseAttempt
	Event         entity.OutcomeEvent
}

func (r Result) Purchased() bool {
	return r.Winner != nil
}

func (r Result) Rejected() bool {
	return r.Rejection != nil
}

func (r Result) RetryScheduled() bool {
	return r.Fallback != nil && r.Fallback.Scheduled()
}

// Attempts lists every sub-attempt of the run, primary race first.
func (r Result) Attempts() []*entity.PurchaseAttempt {
	attempts := r.Primary.Attempts()
	if r.Fallback != nil {
		for _, o := range r.Fallback.Outcomes {
			attempts = append(attempts, o.Attempts()...)
		}
	}
	return attempts
}

// Execute runs one full purchase flow for a fresh inventory snapshot.
// Rejections and exhausted races are results; only a missing or malformed
// configuration is an error. Runs of the same configuration are serialised
// with Replay.
func (e *Engine) Execute(ctx context.Context, configurationID string, candidates []entity.InventoryCandidate) (Result, error) {
	return e.run(ctx, configurationID, candidates, entity.AttemptKindPrimary)
}

// Replay re-runs a delayed retry. A replay never schedules another one.
func (e *Engine) Replay(ctx context.Context, token entity.ReplayToken) (Result, error) {
	if err := checkToken(e.contract, token); err != nil {
		return Result{}, err
	}

	return e.run(ctx, token.ConfigurationID, token.Candidates, entity.AttemptKindFallbackDelayed)
}

func (e *Engine) run(
	ctx context.Context,
	configurationID string,
	candidates []entity.InventoryCandidate,
	kind entity.AttemptKind,
) (Result, error) {
	started := e.now()

	ctx = contextx.WithLogger(ctx, logger(ctx).With(
		slog.String(logx.FieldConfigurationID, configurationID),
		slog.String(logx.FieldAttemptKind, string(kind)),
	))

	// Execute and Replay of one configuration never overlap, so the daily
	// cap check and the increment see the same count.
	unlock, err := e.running.lock(ctx, configurationID)
	if err != nil {
		return Result{}, fmt.Errorf("running.lock: %w", err)
	}
	defer unlock()

	cfg, err := e.Configurations.Get(ctx, configurationID)
	if err != nil {
		return Result{}, fmt.Errorf("configurations.Get: %w", err)
	}

	if err := checkContract(e.contract, cfg); err != nil {
		logger(ctx).Error("configuration contract violated", logx.Error(err))
		return Result{}, err
	}

	ctx = contextx.WithLogger(ctx, logger(ctx).With(slog.Int64(logx.FieldOwnerID, cfg.OwnerID)))

	result := Result{Configuration: cfg}

	if rejection := e.Conditions.Validate(ctx, cfg, candidates); rejection != nil {
		e.Metrics.ObserveRejection(string(rejection.Reason))

		result.Rejection = rejection
		result.Event = e.event(cfg, entity.EventNotAttempted, started)
		result.Event.Kind = kind
		result.Event.Reasons = []string{rejection.String()}

		e.notify(ctx, result.Event)

		return result, nil
	}

	preloaded, ok := e.Cache.Get(cfg.ID)
	e.Metrics.ObserveContextLookup(ok)
	if !ok {
		logger(ctx).Info("no preloaded context, racing cold")
	}

	selected := e.Selector.Select(cfg, candidates)
	if len(selected) == 0 {
		logger(ctx).Info("no eligible candidates for the primary race")
		result.Primary = entity.RaceOutcome{RaceID: entity.NewRaceID(), Kind: kind}
	} else {
		result.Primary = e.Racer.Race(ctx, race.Request{
			Configuration: cfg,
			Candidates:    selected,
			Context:       preloaded,
			Kind:          kind,
		})
	}

	if result.Primary.HasWinner() {
		result.Winner = result.Primary.Winner
	} else {
		report := e.Fallback.Run(ctx, fallback.Input{
			Configuration: cfg,
			Candidates:    candidates,
			Context:       preloaded,
			Attempted:     result.Primary.Sources(),
			Kind:          kind,
		})
		result.Fallback = &report

		if report.Won() {
			result.Winner = report.Final.Outcome.Winner
		}
	}

	e.record(ctx, result)

	switch {
	case result.Purchased():
		e.countPurchase(ctx, cfg)
		result.Event = e.successEvent(cfg, result, started)
	case result.RetryScheduled():
		result.Event = e.event(cfg, entity.EventRetryScheduled, started)
		result.Event.Kind = entity.AttemptKindFallbackDelayed
		result.Event.Strategy = result.Fallback.Strategy
		result.Event.RetryAt = result.Fallback.Final.RetryAt
		result.Event.Reasons = failureReasons(result)
	default:
		result.Event = e.event(cfg, entity.EventPurchaseFailed, started)
		result.Event.Kind = kind
		result.Event.Reasons = failureReasons(result)
		logger(ctx).Warn("race exhausted", slog.Any("reasons", result.Event.Reasons))
	}

	e.notify(ctx, result.Event)

	return result, nil
}

func (e *Engine) event(cfg entity.PurchaseConfiguration, eventType entity.EventType, started time.Time) entity.OutcomeEvent {
	now := e.now()

	urgency := entity.UrgencyMedium
	if eventType == entity.EventPurchaseSucceeded {
		urgency = entity.UrgencyHigh
	}

	return entity.OutcomeEvent{
		Type:            eventType,
		Urgency:         urgency,
		OwnerID:         cfg.OwnerID,
		ConfigurationID: cfg.ID,
		TotalPaid:       decimal.Zero,
		Elapsed:         now.Sub(started),
		OccurredAt:      now,
	}
}

func (e *Engine) successEvent(cfg entity.PurchaseConfiguration, result Result, started time.Time) entity.OutcomeEvent {
	winner := result.Winner

	event := e.event(cfg, entity.EventPurchaseSucceeded, started)
	event.AttemptID = winner.ID
	event.Kind = winner.Kind
	event.Source = winner.Candidate.Source
	event.Quantity = winner.Quantity

	if result.Fallback != nil {
		event.Strategy = result.Fallback.Strategy
	}

	if winner.Result != nil {
		event.TransactionID = winner.Result.TransactionID
		event.TotalPaid = winner.Result.TotalPaid
	}

	return event
}

func failureReasons(result Result) []string {
	var reasons []string

	if len(result.Primary.Attempts()) == 0 {
		reasons = append(reasons, string(result.Primary.Kind)+": "+reasonNoEligible)
	}
	reasons = append(reasons, result.Primary.FailureReasons()...)

	if result.Fallback != nil {
		reasons = append(reasons, result.Fallback.Reasons()...)
	}

	return reasons
}

// record hands every terminal attempt and discarded success to the ledger.
// Ledger trouble never changes the outcome.
func (e *Engine) record(ctx context.Context, result Result) {
	attempts := result.Attempts()
	if len(attempts) > 0 {
		if err := e.Ledger.Record(ctx, attempts); err != nil {
			logger(ctx).Error("ledger.Record", logx.Error(err), slog.Int("attempts", len(attempts)))
		}
	}

	outcomes := []entity.RaceOutcome{result.Primary}
	if result.Fallback != nil {
		outcomes = append(outcomes, result.Fallback.Outcomes...)
	}

	for _, o := range outcomes {
		for _, d := range o.Discarded {
			if err := e.Ledger.RecordDiscarded(ctx, d); err != nil {
				logger(ctx).Error("ledger.RecordDiscarded", logx.Error(err), slog.String(logx.FieldAttemptID, d.AttemptID))
			}
		}
	}
}

func (e *Engine) countPurchase(ctx context.Context, cfg entity.PurchaseConfiguration) {
	count, err := e.Counter.Increment(ctx, cfg.ID, e.now())
	if err != nil {
		logger(ctx).Error("counter.Increment", logx.Error(err))
		return
	}

	logger(ctx).Debug("daily purchase counted", slog.Int("count", count))
}

func (e *Engine) notify(ctx context.Context, event entity.OutcomeEvent) {
	e.Metrics.ObserveOutcome(string(event.Type))

	if err := e.Notifier.Notify(ctx, event); err != nil {
		logger(ctx).Error("notifier.Notify", logx.Error(err), slog.String("event-type", string(event.Type)))
	}
}
