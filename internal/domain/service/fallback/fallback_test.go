package fallback_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"autobuy/internal/domain"
	"autobuy/internal/domain/entity"
	"autobuy/internal/domain/service/fallback"
	"autobuy/internal/domain/service/race"
	"autobuy/internal/domain/service/scoring"
	"autobuy/pkg/errcodes"
)

type adapters map[string]race.Adapter

func (a adapters) Resolve(source string) (race.Adapter, bool) {
	adapter, ok := a[source]
	return adapter, ok
}

var succeed = race.AdapterFunc(func(_ context.Context, req race.PurchaseRequest) (entity.PurchaseResult, error) { //nolint:gochecknoglobals
	return entity.PurchaseResult{TransactionID: "tx-" + req.Candidate.Source, TotalPaid: req.Candidate.Price}, nil
})

var soldOut = race.AdapterFunc(func(context.Context, race.PurchaseRequest) (entity.PurchaseResult, error) { //nolint:gochecknoglobals
	return entity.PurchaseResult{}, errors.New("sold out")
})

type scheduler struct {
	mu     sync.Mutex
	err    error
	delays []time.Duration
	tokens []entity.ReplayToken
}

func (s *scheduler) ScheduleAfter(_ context.Context, delay time.Duration, token entity.ReplayToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}

	s.delays = append(s.delays, delay)
	s.tokens = append(s.tokens, token)

	return nil
}

func configuration() entity.PurchaseConfiguration {
	return entity.PurchaseConfiguration{
		ID:                 "cfg-1",
		OwnerID:            7,
		Active:             true,
		MaxPrice:           decimal.NewFromInt(200),
		DesiredQuantity:    2,
		PreferredPlatforms: []string{"A"},
		PreferredSections:  []string{"floor"},
		PaymentMethodRef:   "pm-1",
	}
}

func candidate(source string, price int64) entity.InventoryCandidate {
	return entity.InventoryCandidate{
		Source:    source,
		ListingID: source + "-1",
		Price:     decimal.NewFromInt(price),
		Quantity:  2,
		Section:   "Balcony",
	}
}

func chain(registry adapters, sched fallback.Scheduler) fallback.Chain {
	coordinator := race.NewCoordinator(registry, time.Second, nil)
	return fallback.DefaultPlan().Chain(coordinator, scoring.NewScorer(scoring.DefaultWeights()), sched, nil)
}

func statuses(trace []fallback.Step) []fallback.Status {
	out := make([]fallback.Status, 0, len(trace))
	for _, s := range trace {
		out = append(out, s.Status)
	}
	return out
}

func TestChainStrategyOrder(t *testing.T) {
	require.Equal(t,
		[]string{fallback.NameRelaxed, fallback.NameAlternative, fallback.NameDelayed},
		chain(adapters{}, &scheduler{}).Strategies(),
	)
}

func TestChainRelaxedWins(t *testing.T) {
	rq := require.New(t)

	sched := &scheduler{}

	// $210 is over the $200 ceiling but under the relaxed $220 one.
	report := chain(adapters{"A": succeed, "B": soldOut}, sched).Run(context.Background(), fallback.Input{
		Configuration: configuration(),
		Candidates:    []entity.InventoryCandidate{candidate("A", 210), candidate("B", 230)},
		Attempted:     []string{},
		Kind:          entity.AttemptKindPrimary,
	})

	rq.True(report.Won())
	rq.Equal(fallback.NameRelaxed, report.Strategy)
	rq.Equal([]fallback.Status{fallback.StatusWon}, statuses(report.Trace))
	rq.Len(report.Outcomes, 1)

	winner := report.Final.Outcome.Winner
	rq.Equal(entity.AttemptKindFallbackRelaxed, winner.Kind)
	rq.Equal("A", winner.Candidate.Source)
	rq.Equal("tx-A", winner.Result.TransactionID)
	rq.Empty(sched.tokens)
}

func TestChainAlternativeWins(t *testing.T) {
	rq := require.New(t)

	cfg := configuration()
	cfg.AllowedPlatforms = []string{"A"}

	report := chain(adapters{"A": soldOut, "B": succeed}, &scheduler{}).Run(context.Background(), fallback.Input{
		Configuration: cfg,
		Candidates:    []entity.InventoryCandidate{candidate("A", 150), candidate("B", 150)},
		Attempted:     []string{"A"},
		Kind:          entity.AttemptKindPrimary,
	})

	rq.True(report.Won())
	rq.Equal(fallback.NameAlternative, report.Strategy)
	rq.Equal([]fallback.Status{fallback.StatusNoWinner, fallback.StatusWon}, statuses(report.Trace))
	rq.Len(report.Outcomes, 2)
	rq.Equal(entity.AttemptKindFallbackAlternative, report.Final.Outcome.Winner.Kind)
	rq.Equal("B", report.Final.Outcome.Winner.Candidate.Source)
}

func TestChainDelayedRetryScheduled(t *testing.T) {
	rq := require.New(t)

	sched := &scheduler{}
	candidates := []entity.InventoryCandidate{candidate("A", 150), candidate("B", 150)}

	report := chain(adapters{"A": soldOut, "B": soldOut}, sched).Run(context.Background(), fallback.Input{
		Configuration: configuration(),
		Candidates:    candidates,
		Attempted:     []string{"A", "B"},
		Kind:          entity.AttemptKindPrimary,
	})

	rq.False(report.Won())
	rq.True(report.Scheduled())
	rq.Equal(fallback.NameDelayed, report.Strategy)
	rq.Equal(
		[]fallback.Status{fallback.StatusNoWinner, fallback.StatusNotSupported, fallback.StatusScheduled},
		statuses(report.Trace),
	)
	rq.NotNil(report.Final.RetryAt)

	rq.Equal([]time.Duration{2 * time.Minute}, sched.delays)
	rq.Equal("cfg-1", sched.tokens[0].ConfigurationID)
	rq.Equal(candidates, sched.tokens[0].Candidates)
	rq.Equal(2*time.Minute, sched.tokens[0].RunAfter.Sub(sched.tokens[0].ScheduledAt))
}

func TestChainExhausted(t *testing.T) {
	testCases := []struct {
		name     string
		kind     entity.AttemptKind
		sched    *scheduler
		statuses []fallback.Status
	}{
		{
			name:     "Replay is never rescheduled",
			kind:     entity.AttemptKindFallbackDelayed,
			sched:    &scheduler{},
			statuses: []fallback.Status{fallback.StatusNoWinner, fallback.StatusNotSupported, fallback.StatusNotSupported},
		},
		{
			name:     "Scheduler down",
			kind:     entity.AttemptKindPrimary,
			sched:    &scheduler{err: errors.New("redis down")},
			statuses: []fallback.Status{fallback.StatusNoWinner, fallback.StatusNotSupported, fallback.StatusError},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rq := require.New(t)

			report := chain(adapters{"A": soldOut}, tc.sched).Run(context.Background(), fallback.Input{
				Configuration: configuration(),
				Candidates:    []entity.InventoryCandidate{candidate("A", 150)},
				Attempted:     []string{"A"},
				Kind:          tc.kind,
			})

			rq.Nil(report.Final)
			rq.False(report.Won())
			rq.False(report.Scheduled())
			rq.Equal(tc.statuses, statuses(report.Trace))
			rq.Empty(tc.sched.tokens)
			rq.Contains(report.Reasons(), "A: purchase failed: sold out")
		})
	}
}

func TestChainNoWinnerIsRepeatable(t *testing.T) {
	rq := require.New(t)

	c := chain(adapters{"A": soldOut, "B": soldOut}, &scheduler{err: errors.New("down")})
	in := fallback.Input{
		Configuration: configuration(),
		Candidates:    []entity.InventoryCandidate{candidate("A", 150), candidate("B", 190), candidate("C", 250)},
		Attempted:     []string{"A", "B"},
		Kind:          entity.AttemptKindPrimary,
	}

	first := c.Run(context.Background(), in)
	for range 5 {
		rq.Equal(first.Trace, c.Run(context.Background(), in).Trace)
	}
}

func TestDelayedScheduleError(t *testing.T) {
	rq := require.New(t)

	_, err := fallback.NewDelayed(time.Minute, &scheduler{err: errors.New("down")}).
		Attempt(context.Background(), fallback.Input{Configuration: configuration()})

	rq.Error(err)
	rq.True(domain.HasCode(err, errcodes.ScheduleFailed))
}

func TestDelayedClock(t *testing.T) {
	rq := require.New(t)

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sched := &scheduler{}

	result, err := fallback.NewDelayed(2*time.Minute, sched).
		WithClock(func() time.Time { return now }).
		Attempt(context.Background(), fallback.Input{Configuration: configuration()})

	rq.NoError(err)
	rq.Equal(fallback.StatusScheduled, result.Status)
	rq.Equal(now.Add(2*time.Minute), *result.RetryAt)
	rq.Equal(now, sched.tokens[0].ScheduledAt)
}
