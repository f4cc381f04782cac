// Package race runs the first-success-wins race across ranked candidates.
package race

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"autobuy/internal/domain"
	"autobuy/internal/domain/entity"
	"autobuy/internal/observability"
	"autobuy/pkg/contextx"
	"autobuy/pkg/errcodes"
	"autobuy/pkg/logx"
)

const (
	reasonLostRace         = "another sub-attempt won"
	reasonDeadlineExceeded = "race deadline exceeded"
	reasonCancelled        = "race cancelled"
)

// Request describes one race.
type Request struct {
	Configuration entity.PurchaseConfiguration
	Candidates    []entity.ScoredCandidate
	Context       *entity.PreloadedContext
	Kind          entity.AttemptKind
	// Deadline overrides the coordinator default when positive.
	Deadline time.Duration
}

// LateSuccessHandler is told about successes that arrived after the race was
// already closed. They are never turned into winners.
type LateSuccessHandler func(ctx context.Context, discarded entity.DiscardedSuccess)

type Coordinator struct {
	adapters      AdapterResolver
	deadline      time.Duration
	metrics       *observability.Metrics
	onLateSuccess LateSuccessHandler
	now           func() time.Time
}

func NewCoordinator(adapters AdapterResolver, deadline time.Duration, metrics *observability.Metrics) *Coordinator {
	return &Coordinator{
		adapters: adapters,
		deadline: deadline,
		metrics:  metrics,
		now:      time.Now,
	}
}

func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

func (c *Coordinator) WithLateSuccessHandler(h LateSuccessHandler) *Coordinator {
	c.onLateSuccess = h
	return c
}

type report struct {
	index  int
	result entity.PurchaseResult
	err    error
	at     time.Time
}

// board accepts reports until the race closes. Sends happen under the lock,
// so once close returns the channel content is final.
type board struct {
	mu      sync.Mutex
	closed  bool
	reports chan report
}

func (b *board) deliver(r report) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	b.reports <- r

	return true
}

func (b *board) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

// Race fans out one sub-attempt per candidate and returns as soon as one of
// them succeeds or the deadline elapses. At most one attempt of the outcome
// is succeeded. Pending attempts are aborted and their purchasers cancelled;
// the coordinator does not wait for them to acknowledge.
func (c *Coordinator) Race(ctx context.Context, req Request) entity.RaceOutcome {
	raceID := entity.NewRaceID()
	ctx = contextx.WithRaceID(ctx, contextx.RaceID(raceID))
	ctx = contextx.WithLogger(ctx, logger(ctx).With(
		slog.String(logx.FieldRaceID, raceID),
		slog.String(logx.FieldConfigurationID, req.Configuration.ID),
		slog.String(logx.FieldAttemptKind, string(req.Kind)),
	))

	started := c.now()
	outcome := entity.RaceOutcome{RaceID: raceID, Kind: req.Kind}

	if len(req.Candidates) == 0 {
		c.metrics.ObserveRace(string(req.Kind), false, 0)
		return outcome
	}

	deadline := c.deadline
	if req.Deadline > 0 {
		deadline = req.Deadline
	}

	raceCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	attempts := make([]*entity.PurchaseAttempt, len(req.Candidates))
	b := &board{reports: make(chan report, len(req.Candidates))}

	logger(ctx).Info("race started", slog.Int("candidates", len(req.Candidates)), slog.Duration("deadline", deadline))

	for i, scored := range req.Candidates {
		attempt := entity.NewPurchaseAttempt(raceID, req.Configuration, req.Kind, scored.Candidate, started)
		attempts[i] = attempt

		purchase := PurchaseRequest{
			AttemptID:       attempt.ID,
			RaceID:          raceID,
			ConfigurationID: req.Configuration.ID,
			Candidate:       scored.Candidate,
			Quantity:        attempt.Quantity,
			PaymentRef:      req.Configuration.PaymentMethodRef,
			Context:         req.Context,
		}

		go c.run(raceCtx, b, i, purchase)
	}

	var winner *entity.PurchaseAttempt

	pending := len(attempts)
	deadlineAt := started.Add(deadline)

wait:
	for pending > 0 {
		select {
		case r := <-b.reports:
			pending--
			winner = c.settle(ctx, raceCtx.Err(), deadlineAt, &outcome, attempts[r.index], r, winner)
			if winner != nil {
				break wait
			}
		case <-raceCtx.Done():
			break wait
		}
	}

	raceErr := raceCtx.Err()
	b.close()
	cancel()

	// Reports that made it onto the board before it closed still count.
	for drained := false; !drained; {
		select {
		case r := <-b.reports:
			winner = c.settle(ctx, raceErr, deadlineAt, &outcome, attempts[r.index], r, winner)
		default:
			drained = true
		}
	}

	abortReason := reasonDeadlineExceeded
	switch {
	case winner != nil:
		abortReason = reasonLostRace
	case ctx.Err() != nil:
		abortReason = reasonCancelled
	}

	completed := c.now()
	for _, attempt := range attempts {
		if attempt.Status.Terminal() {
			continue
		}
		if err := attempt.Abort(abortReason, completed); err != nil {
			logger(ctx).Error("attempt.Abort", logx.Error(err))
		}
	}

	for _, attempt := range attempts {
		c.metrics.ObserveSubAttempt(attempt.Candidate.Source, string(attempt.Status))

		if attempt == winner {
			outcome.Winner = attempt
			continue
		}
		outcome.Losers = append(outcome.Losers, attempt)
	}

	outcome.Elapsed = completed.Sub(started)
	c.metrics.ObserveRace(string(req.Kind), winner != nil, outcome.Elapsed)

	attrs := []any{slog.Int64(logx.FieldDurationMs, outcome.Elapsed.Milliseconds())}
	if winner != nil {
		attrs = append(attrs,
			slog.String(logx.FieldAttemptID, winner.ID),
			slog.String(logx.FieldSource, winner.Candidate.Source),
		)
	}
	logger(ctx).Info("race finished", append(attrs, slog.Bool("winner", winner != nil))...)

	return outcome
}

// settle applies one report. The first success reported within the deadline
// becomes the winner; any other success is discarded and the attempt is left
// for abortion. A purchaser that gave up because the race had already ended
// is not a failure either: its attempt stays pending and gets aborted.
func (c *Coordinator) settle(
	ctx context.Context,
	raceErr error,
	deadlineAt time.Time,
	outcome *entity.RaceOutcome,
	attempt *entity.PurchaseAttempt,
	r report,
	winner *entity.PurchaseAttempt,
) *entity.PurchaseAttempt {
	if r.err != nil {
		if raceErr != nil && interrupted(r.err) {
			return winner
		}

		if err := attempt.Fail(r.err.Error(), r.at); err != nil {
			logger(ctx).Error("attempt.Fail", logx.Error(err))
		}

		logger(ctx).Warn("sub-attempt failed",
			slog.String(logx.FieldAttemptID, attempt.ID),
			slog.String(logx.FieldSource, attempt.Candidate.Source),
			logx.Error(r.err),
		)

		return winner
	}

	if winner != nil || r.at.After(deadlineAt) {
		discarded := entity.DiscardedSuccess{
			RaceID:          attempt.RaceID,
			ConfigurationID: attempt.ConfigurationID,
			AttemptID:       attempt.ID,
			Source:          attempt.Candidate.Source,
			ListingID:       attempt.Candidate.ListingID,
			Result:          r.result,
			At:              r.at,
		}
		outcome.Discarded = append(outcome.Discarded, discarded)
		c.lateSuccess(ctx, discarded)

		return winner
	}

	if err := attempt.Succeed(r.result, r.at); err != nil {
		logger(ctx).Error("attempt.Succeed", logx.Error(err))
		return nil
	}

	return attempt
}

func interrupted(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func (c *Coordinator) run(ctx context.Context, b *board, index int, req PurchaseRequest) {
	result, err := c.invoke(ctx, req)

	r := report{index: index, result: result, err: err, at: c.now()}
	if b.deliver(r) {
		return
	}

	if err != nil {
		logger(ctx).Debug("sub-attempt finished after race closed",
			slog.String(logx.FieldAttemptID, req.AttemptID),
			logx.Error(err),
		)
		return
	}

	c.lateSuccess(ctx, entity.DiscardedSuccess{
		RaceID:          req.RaceID,
		ConfigurationID: req.ConfigurationID,
		AttemptID:       req.AttemptID,
		Source:          req.Candidate.Source,
		ListingID:       req.Candidate.ListingID,
		Result:          result,
		At:              r.at,
	})
}

func (c *Coordinator) invoke(ctx context.Context, req PurchaseRequest) (result entity.PurchaseResult, err error) {
	adapter, ok := c.adapters.Resolve(req.Candidate.Source)
	if !ok {
		return result, domain.NewError(errcodes.UnknownSource, "no purchaser for source "+req.Candidate.Source)
	}

	defer func() {
		if r := recover(); r != nil {
			err = domain.NewError(errcodes.AdapterFailure, fmt.Sprintf("purchaser panic: %v", r))
		}
	}()

	result, err = adapter.AttemptPurchase(ctx, req)
	if err != nil {
		if interrupted(err) {
			return result, fmt.Errorf("adapter.AttemptPurchase: %w", err)
		}
		if !domain.IsAppError(err) {
			err = domain.WrapError(err, errcodes.AdapterFailure, "purchase failed")
		}
		return result, err
	}

	return result, nil
}

// lateSuccess is the LateSuccessDiscarded condition: a real-world purchase
// that nobody acts upon. It must always reach the logs.
func (c *Coordinator) lateSuccess(ctx context.Context, discarded entity.DiscardedSuccess) {
	logger(ctx).Error("late success discarded, manual reconciliation required",
		slog.String(logx.FieldAttemptID, discarded.AttemptID),
		slog.String(logx.FieldSource, discarded.Source),
		slog.String(logx.FieldListingID, discarded.ListingID),
		slog.String(logx.FieldTransactionID, discarded.Result.TransactionID),
	)

	c.metrics.ObserveLateSuccess(discarded.Source)

	if c.onLateSuccess != nil {
		c.onLateSuccess(context.WithoutCancel(ctx), discarded)
	}
}
