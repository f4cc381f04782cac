package purchase_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"autobuy/internal/domain"
	"autobuy/internal/domain/entity"
	"autobuy/internal/domain/service/condition"
	"autobuy/internal/domain/service/fallback"
	"autobuy/internal/domain/service/purchase"
	"autobuy/internal/domain/service/race"
	"autobuy/internal/domain/service/scoring"
	"autobuy/pkg/errcodes"
)

type configurations map[string]entity.PurchaseConfiguration

func (c configurations) Get(_ context.Context, id string) (entity.PurchaseConfiguration, error) {
	cfg, ok := c[id]
	if !ok {
		return entity.PurchaseConfiguration{}, domain.NewError(errcodes.ConfigurationNotFound, "configuration "+id+" not found")
	}
	return cfg, nil
}

type ledger struct {
	mu        sync.Mutex
	err       error
	attempts  []*entity.PurchaseAttempt
	discarded []entity.DiscardedSuccess
}

func (l *ledger) Record(_ context.Context, attempts []*entity.PurchaseAttempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = append(l.attempts, attempts...)
	return l.err
}

func (l *ledger) RecordDiscarded(_ context.Context, d entity.DiscardedSuccess) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.discarded = append(l.discarded, d)
	return l.err
}

type notifier struct {
	mu     sync.Mutex
	err    error
	events []entity.OutcomeEvent
}

func (n *notifier) Notify(_ context.Context, event entity.OutcomeEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

type cache map[string]*entity.PreloadedContext

func (c cache) Get(id string) (*entity.PreloadedContext, bool) {
	p, ok := c[id]
	return p, ok
}

type counter struct {
	mu    sync.Mutex
	count map[string]int
}

func (c *counter) Count(_ context.Context, id string, _ time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count[id], nil
}

func (c *counter) Increment(_ context.Context, id string, _ time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count == nil {
		c.count = map[string]int{}
	}
	c.count[id]++
	return c.count[id], nil
}

type scheduler struct {
	tokens []entity.ReplayToken
}

func (s *scheduler) ScheduleAfter(_ context.Context, _ time.Duration, token entity.ReplayToken) error {
	s.tokens = append(s.tokens, token)
	return nil
}

type adapters map[string]race.Adapter

func (a adapters) Resolve(source string) (race.Adapter, bool) {
	adapter, ok := a[source]
	return adapter, ok
}

type fixture struct {
	engine    *purchase.Engine
	ledger    *ledger
	notifier  *notifier
	counter   *counter
	scheduler *scheduler
	calls     *atomic.Int32
}

func newFixture(cfgs configurations, registry adapters, preloaded cache) fixture {
	calls := &atomic.Int32{}
	counted := adapters{}
	for source, adapter := range registry {
		counted[source] = race.AdapterFunc(func(ctx context.Context, req race.PurchaseRequest) (entity.PurchaseResult, error) {
			calls.Add(1)
			return adapter.AttemptPurchase(ctx, req)
		})
	}

	f := fixture{
		ledger:    &ledger{},
		notifier:  &notifier{},
		counter:   &counter{},
		scheduler: &scheduler{},
		calls:     calls,
	}

	scorer := scoring.NewScorer(scoring.DefaultWeights())
	coordinator := race.NewCoordinator(counted, time.Second, nil)

	f.engine = purchase.NewEngine(purchase.Dependencies{
		Configurations: cfgs,
		Conditions:     condition.NewValidator(f.counter, condition.NewExpiryVerifier(), 5),
		Selector:       scorer,
		Racer:          coordinator,
		Fallback:       fallback.DefaultPlan().Chain(coordinator, scorer, f.scheduler, nil),
		Cache:          preloaded,
		Counter:        f.counter,
		Ledger:         f.ledger,
		Notifier:       f.notifier,
	})

	return f
}

func configuration() entity.PurchaseConfiguration {
	return entity.PurchaseConfiguration{
		ID:                 "cfg-1",
		OwnerID:            7,
		Active:             true,
		MaxPrice:           decimal.NewFromInt(200),
		DesiredQuantity:    2,
		PreferredPlatforms: []string{"A"},
		PaymentMethodRef:   "pm-1",
	}
}

func candidate(source string, price int64, qty int) entity.InventoryCandidate {
	return entity.InventoryCandidate{
		Source:    source,
		ListingID: source + "-1",
		Price:     decimal.NewFromInt(price),
		Quantity:  qty,
	}
}

func succeedAfter(delay time.Duration) race.Adapter {
	return race.AdapterFunc(func(ctx context.Context, req race.PurchaseRequest) (entity.PurchaseResult, error) {
		select {
		case <-time.After(delay):
			return entity.PurchaseResult{
				TransactionID: "tx-" + req.Candidate.Source,
				TotalPaid:     req.Candidate.Price.Mul(decimal.NewFromInt(int64(req.Quantity))),
			}, nil
		case <-ctx.Done():
			return entity.PurchaseResult{}, ctx.Err()
		}
	})
}

var soldOut = race.AdapterFunc(func(context.Context, race.PurchaseRequest) (entity.PurchaseResult, error) { //nolint:gochecknoglobals
	return entity.PurchaseResult{}, errors.New("sold out")
})

func TestEngineExecutePrimaryWinner(t *testing.T) {
	rq := require.New(t)

	f := newFixture(
		configurations{"cfg-1": configuration()},
		adapters{"A": succeedAfter(5 * time.Millisecond), "B": succeedAfter(300 * time.Millisecond)},
		cache{"cfg-1": {ConfigurationID: "cfg-1", PreloadedAt: time.Now()}},
	)

	result, err := f.engine.Execute(context.Background(), "cfg-1", []entity.InventoryCandidate{
		candidate("A", 150, 2),
		candidate("B", 120, 4),
		candidate("C", 250, 5),
	})
	rq.NoError(err)

	rq.True(result.Purchased())
	rq.Nil(result.Fallback)
	rq.Equal("A", result.Winner.Candidate.Source)
	rq.Equal(entity.AttemptKindPrimary, result.Winner.Kind)
	rq.Len(result.Primary.Losers, 1)
	rq.Equal("B", result.Primary.Losers[0].Candidate.Source)
	rq.Equal(entity.AttemptStatusAborted, result.Primary.Losers[0].Status)

	rq.Len(f.ledger.attempts, 2)
	rq.Equal(1, f.counter.count["cfg-1"])

	rq.Len(f.notifier.events, 1)
	event := f.notifier.events[0]
	rq.Equal(entity.EventPurchaseSucceeded, event.Type)
	rq.Equal(entity.UrgencyHigh, event.Urgency)
	rq.Equal(int64(7), event.OwnerID)
	rq.Equal("tx-A", event.TransactionID)
	rq.Equal(2, event.Quantity)
	rq.True(decimal.NewFromInt(300).Equal(event.TotalPaid))
	rq.Equal(result.Winner.ID, event.AttemptID)
}

func TestEngineExecuteInactiveShortCircuit(t *testing.T) {
	rq := require.New(t)

	cfg := configuration()
	cfg.Active = false

	f := newFixture(configurations{"cfg-1": cfg}, adapters{"A": succeedAfter(0), "B": succeedAfter(0)}, cache{})

	result, err := f.engine.Execute(context.Background(), "cfg-1", []entity.InventoryCandidate{
		candidate("A", 1, 100),
		candidate("B", 1, 100),
	})
	rq.NoError(err)

	rq.True(result.Rejected())
	rq.Equal(condition.ReasonInactiveConfiguration, result.Rejection.Reason)
	rq.False(result.Purchased())
	rq.Empty(result.Attempts())
	rq.Zero(f.calls.Load())
	rq.Empty(f.ledger.attempts)

	rq.Len(f.notifier.events, 1)
	rq.Equal(entity.EventNotAttempted, f.notifier.events[0].Type)
	rq.Equal(entity.UrgencyMedium, f.notifier.events[0].Urgency)
	rq.Equal([]string{"inactive_configuration"}, f.notifier.events[0].Reasons)
}

func TestEngineExecuteRelaxedFallback(t *testing.T) {
	rq := require.New(t)

	f := newFixture(configurations{"cfg-1": configuration()}, adapters{"A": succeedAfter(0), "B": soldOut}, cache{})

	result, err := f.engine.Execute(context.Background(), "cfg-1", []entity.InventoryCandidate{
		candidate("A", 210, 2),
		candidate("B", 150, 2),
	})
	rq.NoError(err)

	rq.True(result.Purchased())
	rq.Equal(entity.AttemptKindFallbackRelaxed, result.Winner.Kind)
	rq.Equal("A", result.Winner.Candidate.Source)
	rq.False(result.Primary.HasWinner())
	rq.Equal(fallback.NameRelaxed, result.Fallback.Strategy)

	// One primary attempt on B, then A and B again with the relaxed ceiling.
	rq.Len(result.Attempts(), 3)
	rq.Len(f.ledger.attempts, 3)

	event := f.notifier.events[0]
	rq.Equal(entity.EventPurchaseSucceeded, event.Type)
	rq.Equal(entity.AttemptKindFallbackRelaxed, event.Kind)
	rq.Equal(fallback.NameRelaxed, event.Strategy)
}

func TestEngineExecuteNoEligibleCandidates(t *testing.T) {
	rq := require.New(t)

	cfg := configuration()
	cfg.AllowedPlatforms = []string{"Z"}

	f := newFixture(configurations{"cfg-1": cfg}, adapters{"A": succeedAfter(0)}, cache{})

	result, err := f.engine.Execute(context.Background(), "cfg-1", []entity.InventoryCandidate{candidate("A", 150, 2)})
	rq.NoError(err)

	rq.False(result.Rejected())
	rq.Empty(result.Primary.Attempts())
	rq.True(result.Purchased())
	rq.Equal(entity.AttemptKindFallbackAlternative, result.Winner.Kind)
}

func TestEngineExecuteRetryScheduled(t *testing.T) {
	rq := require.New(t)

	f := newFixture(configurations{"cfg-1": configuration()}, adapters{"A": soldOut, "B": soldOut}, cache{})

	candidates := []entity.InventoryCandidate{candidate("A", 150, 2), candidate("B", 150, 2)}

	result, err := f.engine.Execute(context.Background(), "cfg-1", candidates)
	rq.NoError(err)

	rq.False(result.Purchased())
	rq.True(result.RetryScheduled())
	rq.Len(f.scheduler.tokens, 1)
	rq.Equal(candidates, f.scheduler.tokens[0].Candidates)
	rq.Zero(f.counter.count["cfg-1"])

	event := f.notifier.events[0]
	rq.Equal(entity.EventRetryScheduled, event.Type)
	rq.Equal(entity.AttemptKindFallbackDelayed, event.Kind)
	rq.NotNil(event.RetryAt)
	rq.Contains(event.Reasons, "A: purchase failed: sold out")
}

func TestEngineReplayNeverReschedules(t *testing.T) {
	rq := require.New(t)

	f := newFixture(configurations{"cfg-1": configuration()}, adapters{"A": soldOut}, cache{})

	result, err := f.engine.Replay(context.Background(), entity.ReplayToken{
		ConfigurationID: "cfg-1",
		Candidates:      []entity.InventoryCandidate{candidate("A", 150, 2)},
	})
	rq.NoError(err)

	rq.False(result.Purchased())
	rq.False(result.RetryScheduled())
	rq.Empty(f.scheduler.tokens)
	rq.Equal(entity.AttemptKindFallbackDelayed, result.Primary.Kind)
	rq.Equal(entity.AttemptKindFallbackDelayed, result.Primary.Losers[0].Kind)

	event := f.notifier.events[0]
	rq.Equal(entity.EventPurchaseFailed, event.Type)
	rq.Equal(entity.UrgencyMedium, event.Urgency)
	rq.NotEmpty(event.Reasons)
}

func TestEngineExecuteErrors(t *testing.T) {
	malformed := configuration()
	malformed.PaymentMethodRef = ""

	noCeiling := configuration()
	noCeiling.MaxPrice = decimal.Zero

	testCases := []struct {
		name string
		id   string
		code string
	}{
		{name: "Not found", id: "missing", code: string(errcodes.ConfigurationNotFound)},
		{name: "Malformed", id: "malformed", code: string(errcodes.InvalidConfiguration)},
		{name: "No ceiling", id: "no-ceiling", code: string(errcodes.InvalidConfiguration)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rq := require.New(t)

			f := newFixture(configurations{"malformed": malformed, "no-ceiling": noCeiling}, adapters{}, cache{})

			_, err := f.engine.Execute(context.Background(), tc.id, []entity.InventoryCandidate{candidate("A", 150, 2)})
			rq.Error(err)

			code, ok := domain.GetCode(err)
			rq.True(ok)
			rq.Equal(tc.code, string(code))
			rq.Empty(f.notifier.events)
		})
	}
}

func TestEngineReplayInvalidToken(t *testing.T) {
	rq := require.New(t)

	f := newFixture(configurations{}, adapters{}, cache{})

	_, err := f.engine.Replay(context.Background(), entity.ReplayToken{})
	rq.True(domain.HasCode(err, errcodes.InvalidReplayToken))
}

func TestEngineBoundaryFailuresKeepPurchase(t *testing.T) {
	rq := require.New(t)

	f := newFixture(configurations{"cfg-1": configuration()}, adapters{"A": succeedAfter(0)}, cache{})
	f.ledger.err = errors.New("db down")
	f.notifier.err = errors.New("telegram down")

	result, err := f.engine.Execute(context.Background(), "cfg-1", []entity.InventoryCandidate{candidate("A", 150, 2)})
	rq.NoError(err)

	rq.True(result.Purchased())
	rq.Equal(entity.EventPurchaseSucceeded, result.Event.Type)
	rq.Equal(1, f.counter.count["cfg-1"])
}

func TestEngineExecuteDailyLimit(t *testing.T) {
	rq := require.New(t)

	cfg := configuration()
	cfg.DailyLimit = 1

	f := newFixture(configurations{"cfg-1": cfg}, adapters{"A": succeedAfter(0)}, cache{})
	candidates := []entity.InventoryCandidate{candidate("A", 150, 2)}

	first, err := f.engine.Execute(context.Background(), "cfg-1", candidates)
	rq.NoError(err)
	rq.True(first.Purchased())

	second, err := f.engine.Execute(context.Background(), "cfg-1", candidates)
	rq.NoError(err)
	rq.True(second.Rejected())
	rq.Equal(condition.ReasonDailyLimitExceeded, second.Rejection.Reason)
	rq.Equal(int32(1), f.calls.Load())
}

func TestEngineDailyLimitAcrossExecuteAndReplay(t *testing.T) {
	rq := require.New(t)

	cfg := configuration()
	cfg.DailyLimit = 1

	f := newFixture(configurations{"cfg-1": cfg}, adapters{"A": succeedAfter(20 * time.Millisecond)}, cache{})
	candidates := []entity.InventoryCandidate{candidate("A", 150, 2)}

	var (
		wg      sync.WaitGroup
		results [2]purchase.Result
		errs    [2]error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0], errs[0] = f.engine.Execute(context.Background(), "cfg-1", candidates)
	}()
	go func() {
		defer wg.Done()
		results[1], errs[1] = f.engine.Replay(context.Background(), entity.ReplayToken{
			ConfigurationID: "cfg-1",
			Candidates:      candidates,
		})
	}()
	wg.Wait()

	rq.NoError(errs[0])
	rq.NoError(errs[1])

	purchased, rejected := 0, 0
	for _, r := range results {
		if r.Purchased() {
			purchased++
		}
		if r.Rejected() {
			rejected++
			rq.Equal(condition.ReasonDailyLimitExceeded, r.Rejection.Reason)
		}
	}

	rq.Equal(1, purchased)
	rq.Equal(1, rejected)
	rq.Equal(int32(1), f.calls.Load())
	rq.Equal(1, f.counter.count["cfg-1"])
}

func TestEngineExecuteWaitsForRunningConfiguration(t *testing.T) {
	rq := require.New(t)

	release := make(chan struct{})
	blocking := race.AdapterFunc(func(ctx context.Context, req race.PurchaseRequest) (entity.PurchaseResult, error) {
		<-release
		return entity.PurchaseResult{}, errors.New("sold out")
	})

	f := newFixture(configurations{"cfg-1": configuration()}, adapters{"A": blocking}, cache{})
	candidates := []entity.InventoryCandidate{candidate("A", 150, 2)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.engine.Replay(context.Background(), entity.ReplayToken{ConfigurationID: "cfg-1", Candidates: candidates})
	}()

	rq.Eventually(func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.engine.Execute(ctx, "cfg-1", candidates)
	rq.ErrorIs(err, context.DeadlineExceeded)
	rq.Equal(int32(1), f.calls.Load())

	close(release)
	<-done
}
