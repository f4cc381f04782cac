package entity

import (
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/shopspring/decimal"

	"autobuy/internal/domain"
	"autobuy/pkg/errcodes"
)

type AttemptKind string

const (
	AttemptKindPrimary             AttemptKind = "primary"
	AttemptKindFallbackRelaxed     AttemptKind = "fallback_relaxed"
	AttemptKindFallbackAlternative AttemptKind = "fallback_alternative"
	AttemptKindFallbackDelayed     AttemptKind = "fallback_delayed"
)

type AttemptStatus string

const (
	AttemptStatusPending   AttemptStatus = "pending"
	AttemptStatusSucceeded AttemptStatus = "succeeded"
	AttemptStatusFailed    AttemptStatus = "failed"
	// AttemptStatusAborted marks a sub-attempt abandoned because another one
	// won or the race deadline elapsed. It is not a failure.
	AttemptStatusAborted AttemptStatus = "aborted"
)

func (s AttemptStatus) Terminal() bool {
	return s != AttemptStatusPending
}

// PurchaseResult is what an adapter returns for a completed purchase.
type PurchaseResult struct {
	TransactionID string          `json:"transaction_id"`
	Confirmation  string          `json:"confirmation"`
	TotalPaid     decimal.Decimal `json:"total_paid"`
}

// PurchaseAttempt is one sub-attempt of a race. Its status only moves
// forward: once terminal it never changes again.
type PurchaseAttempt struct {
	ID              string
	RaceID          string
	ConfigurationID string
	OwnerID         int64
	Kind            AttemptKind
	Status          AttemptStatus
	Candidate       InventoryCandidate
	Quantity        int
	Result          *PurchaseResult
	FailureReason   string
	StartedAt       time.Time
	CompletedAt     time.Time
}

func NewAttemptID() string {
	return "attempt_" + xid.New().String()
}

func NewRaceID() string {
	return "race_" + xid.New().String()
}

func NewPurchaseAttempt(
	raceID string,
	cfg PurchaseConfiguration,
	kind AttemptKind,
	candidate InventoryCandidate,
	startedAt time.Time,
) *PurchaseAttempt {
	return &PurchaseAttempt{
		ID:              NewAttemptID(),
		RaceID:          raceID,
		ConfigurationID: cfg.ID,
		OwnerID:         cfg.OwnerID,
		Kind:            kind,
		Status:          AttemptStatusPending,
		Candidate:       candidate,
		Quantity:        cfg.DesiredQuantity,
		StartedAt:       startedAt,
	}
}

func (a *PurchaseAttempt) Succeed(result PurchaseResult, at time.Time) error {
	if err := a.ensurePending(AttemptStatusSucceeded); err != nil {
		return err
	}

	a.Status = AttemptStatusSucceeded
	a.Result = &result
	a.CompletedAt = at

	return nil
}

func (a *PurchaseAttempt) Fail(reason string, at time.Time) error {
	if err := a.ensurePending(AttemptStatusFailed); err != nil {
		return err
	}

	a.Status = AttemptStatusFailed
	a.FailureReason = reason
	a.CompletedAt = at

	return nil
}

func (a *PurchaseAttempt) Abort(reason string, at time.Time) error {
	if err := a.ensurePending(AttemptStatusAborted); err != nil {
		return err
	}

	a.Status = AttemptStatusAborted
	a.FailureReason = reason
	a.CompletedAt = at

	return nil
}

// ExecutionTime is zero until the attempt is terminal.
func (a *PurchaseAttempt) ExecutionTime() time.Duration {
	if a.CompletedAt.IsZero() {
		return 0
	}
	return a.CompletedAt.Sub(a.StartedAt)
}

func (a *PurchaseAttempt) ensurePending(to AttemptStatus) error {
	if a.Status.Terminal() {
		return domain.NewError(
			errcodes.AttemptAlreadyTerminal,
			fmt.Sprintf("attempt %s is %s, cannot move to %s", a.ID, a.Status, to),
		)
	}
	return nil
}
