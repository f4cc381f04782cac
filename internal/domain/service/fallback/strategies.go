package fallback

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"autobuy/internal/domain"
	"autobuy/internal/domain/entity"
	"autobuy/internal/domain/service/race"
	"autobuy/pkg/contextx"
	"autobuy/pkg/errcodes"
	"autobuy/pkg/logx"
)

const (
	NameRelaxed     = "relaxed_criteria"
	NameAlternative = "alternative_platforms"
	NameDelayed     = "delayed_retry"

	reasonNoEligible = "no eligible candidates"
)

func logWith(ctx context.Context, strategy string) context.Context {
	return contextx.WithLogger(ctx, logger(ctx).With(slog.String(logx.FieldStrategy, strategy)))
}

func raced(outcome entity.RaceOutcome) Result {
	if outcome.HasWinner() {
		return Result{Status: StatusWon, Outcome: &outcome}
	}
	return Result{Status: StatusNoWinner, Outcome: &outcome}
}

// Relaxed raises the price ceiling, drops section constraints and races
// again over the full candidate set.
type Relaxed struct {
	factor   decimal.Decimal
	racer    Racer
	selector Selector
}

func NewRelaxed(factor decimal.Decimal, racer Racer, selector Selector) Relaxed {
	return Relaxed{factor: factor, racer: racer, selector: selector}
}

func (Relaxed) Name() string {
	return NameRelaxed
}

func (s Relaxed) Attempt(ctx context.Context, in Input) (Result, error) {
	cfg := in.Configuration.Relaxed(s.factor)

	selected := s.selector.Select(cfg, in.Candidates)
	if len(selected) == 0 {
		return Result{Status: StatusNoWinner, Reason: reasonNoEligible}, nil
	}

	logger(ctx).Info("racing with relaxed criteria", slog.String("max-price", cfg.MaxPrice.String()))

	return raced(s.racer.Race(ctx, race.Request{
		Configuration: cfg,
		Candidates:    selected,
		Context:       in.Context,
		Kind:          entity.AttemptKindFallbackRelaxed,
	})), nil
}

// Alternative races the sources nobody tried yet, without platform
// constraints. With nothing left to try it reports not supported.
type Alternative struct {
	racer    Racer
	selector Selector
}

func NewAlternative(racer Racer, selector Selector) Alternative {
	return Alternative{racer: racer, selector: selector}
}

func (Alternative) Name() string {
	return NameAlternative
}

func (s Alternative) Attempt(ctx context.Context, in Input) (Result, error) {
	remaining := lo.Filter(in.Candidates, func(c entity.InventoryCandidate, _ int) bool {
		return !slices.Contains(in.Attempted, c.Source)
	})
	if len(remaining) == 0 {
		return Result{Status: StatusNotSupported, Reason: "no unattempted sources"}, nil
	}

	cfg := in.Configuration
	cfg.PreferredPlatforms = nil
	cfg.AllowedPlatforms = nil

	selected := s.selector.Select(cfg, remaining)
	if len(selected) == 0 {
		return Result{Status: StatusNoWinner, Reason: reasonNoEligible}, nil
	}

	return raced(s.racer.Race(ctx, race.Request{
		Configuration: cfg,
		Candidates:    selected,
		Context:       in.Context,
		Kind:          entity.AttemptKindFallbackAlternative,
	})), nil
}

// Delayed hands a full re-run to the scheduler. Confirmation of the
// schedule is its success.
type Delayed struct {
	delay     time.Duration
	scheduler Scheduler
	now       func() time.Time
}

func NewDelayed(delay time.Duration, scheduler Scheduler) Delayed {
	return Delayed{delay: delay, scheduler: scheduler, now: time.Now}
}

func (s Delayed) WithClock(now func() time.Time) Delayed {
	s.now = now
	return s
}

func (Delayed) Name() string {
	return NameDelayed
}

func (s Delayed) Attempt(ctx context.Context, in Input) (Result, error) {
	if in.Kind == entity.AttemptKindFallbackDelayed {
		return Result{Status: StatusNotSupported, Reason: "already a delayed retry"}, nil
	}

	now := s.now()
	runAfter := now.Add(s.delay)

	token := entity.ReplayToken{
		ConfigurationID: in.Configuration.ID,
		Candidates:      in.Candidates,
		ScheduledAt:     now,
		RunAfter:        runAfter,
	}

	if err := s.scheduler.ScheduleAfter(ctx, s.delay, token); err != nil {
		return Result{}, domain.WrapError(err, errcodes.ScheduleFailed, fmt.Sprintf("schedule retry of %s", in.Configuration.ID))
	}

	logger(ctx).Info("delayed retry scheduled", slog.Time("run-after", runAfter))

	return Result{Status: StatusScheduled, RetryAt: &runAfter}, nil
}
