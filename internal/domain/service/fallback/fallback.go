// Package fallback recovers from a race without a winner by running an
// ordered chain of strategies.
package fallback

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"autobuy/internal/domain/entity"
	"autobuy/internal/domain/service/race"
	"autobuy/internal/observability"
	"autobuy/pkg/logx"
)

type Status string

const (
	StatusWon          Status = "won"
	StatusScheduled    Status = "scheduled"
	StatusNoWinner     Status = "no_winner"
	StatusNotSupported Status = "not_supported"
	StatusError        Status = "error"
)

// Stops reports whether the chain ends on this status.
func (s Status) Stops() bool {
	return s == StatusWon || s == StatusScheduled
}

type Racer interface {
	Race(ctx context.Context, req race.Request) entity.RaceOutcome
}

type Selector interface {
	Select(cfg entity.PurchaseConfiguration, candidates []entity.InventoryCandidate) []entity.ScoredCandidate
}

// Scheduler re-runs a purchase later. Timers survive process restarts on
// the scheduler's side, not ours.
type Scheduler interface {
	ScheduleAfter(ctx context.Context, delay time.Duration, token entity.ReplayToken) error
}

// Input is what the failed race leaves behind.
type Input struct {
	Configuration entity.PurchaseConfiguration
	Candidates    []entity.InventoryCandidate
	Context       *entity.PreloadedContext
	// Attempted holds the sources every previous race of this run fanned out to.
	Attempted []string
	// Kind of the race that failed. A failed delayed retry is never rescheduled.
	Kind entity.AttemptKind
}

type Result struct {
	Status  Status
	Outcome *entity.RaceOutcome
	RetryAt *time.Time
	Reason  string
}

type Strategy interface {
	Name() string
	Attempt(ctx context.Context, in Input) (Result, error)
}

// Plan is the immutable strategy table. Build it once at startup.
type Plan struct {
	RelaxFactor decimal.Decimal
	RetryDelay  time.Duration
}

func DefaultPlan() Plan {
	return Plan{
		RelaxFactor: decimal.RequireFromString("1.1"),
		RetryDelay:  2 * time.Minute,
	}
}

// Chain builds relaxed criteria, alternative platforms and delayed retry, in
// that order.
func (p Plan) Chain(racer Racer, selector Selector, scheduler Scheduler, metrics *observability.Metrics) Chain {
	return NewChain(metrics,
		NewRelaxed(p.RelaxFactor, racer, selector),
		NewAlternative(racer, selector),
		NewDelayed(p.RetryDelay, scheduler),
	)
}

type Step struct {
	Strategy string
	Status   Status
	Reason   string
}

type Report struct {
	// Final is the step that ended the chain, nil when every strategy was exhausted.
	Final    *Result
	Strategy string
	// Outcomes lists every race the chain ran, in order.
	Outcomes []entity.RaceOutcome
	Trace    []Step
}

func (r Report) Won() bool {
	return r.Final != nil && r.Final.Status == StatusWon
}

func (r Report) Scheduled() bool {
	return r.Final != nil && r.Final.Status == StatusScheduled
}

// Reasons collects the failure reasons of every race and step of the chain.
func (r Report) Reasons() []string {
	var reasons []string
	for _, o := range r.Outcomes {
		reasons = append(reasons, o.FailureReasons()...)
	}
	for _, s := range r.Trace {
		if s.Reason != "" {
			reasons = append(reasons, s.Strategy+": "+s.Reason)
		}
	}
	return reasons
}

type Chain struct {
	strategies []Strategy
	metrics    *observability.Metrics
}

func NewChain(metrics *observability.Metrics, strategies ...Strategy) Chain {
	return Chain{strategies: strategies, metrics: metrics}
}

func (c Chain) Strategies() []string {
	names := make([]string, 0, len(c.strategies))
	for _, s := range c.strategies {
		names = append(names, s.Name())
	}
	return names
}

// Run tries the strategies strictly in order and stops at the first one
// that wins or schedules a retry. Strategy errors are logged and the chain
// moves on.
func (c Chain) Run(ctx context.Context, in Input) Report {
	var report Report

	in.Attempted = append([]string(nil), in.Attempted...)

	for _, strategy := range c.strategies {
		ctx := logWith(ctx, strategy.Name())

		result, err := strategy.Attempt(ctx, in)
		if err != nil {
			logger(ctx).Error("fallback strategy failed", logx.Error(err))
			result = Result{Status: StatusError, Reason: err.Error()}
		}

		c.metrics.ObserveFallback(strategy.Name(), string(result.Status))
		report.Trace = append(report.Trace, Step{Strategy: strategy.Name(), Status: result.Status, Reason: result.Reason})

		if result.Outcome != nil {
			report.Outcomes = append(report.Outcomes, *result.Outcome)
			in.Attempted = append(in.Attempted, result.Outcome.Sources()...)
		}

		logger(ctx).Info("fallback strategy finished", slog.String("status", string(result.Status)))

		if result.Status.Stops() {
			report.Final = &result
			report.Strategy = strategy.Name()
			return report
		}
	}

	return report
}
