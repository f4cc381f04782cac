// Package condition gates a race on preconditions that make an attempt
// pointless or forbidden.
package condition

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"autobuy/internal/domain/entity"
	"autobuy/pkg/logx"
)

type Reason string

const (
	ReasonInactiveConfiguration Reason = "inactive_configuration"
	ReasonPriceExceedsBudget    Reason = "price_exceeds_budget"
	ReasonInsufficientQuantity  Reason = "insufficient_quantity"
	ReasonOutsideWindow         Reason = "outside_purchase_window"
	ReasonDailyLimitExceeded    Reason = "daily_limit_exceeded"
	ReasonInvalidPaymentMethod  Reason = "invalid_payment_method"
)

// Rejection is an expected outcome, not a fault: the race never starts.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r Rejection) String() string {
	if r.Detail == "" {
		return string(r.Reason)
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

type DailyCounter interface {
	Count(ctx context.Context, configurationID string, day time.Time) (int, error)
}

type PaymentVerifier interface {
	Verify(ctx context.Context, cfg entity.PurchaseConfiguration) (bool, error)
}

type Validator struct {
	counter           DailyCounter
	payments          PaymentVerifier
	defaultDailyLimit int
	now               func() time.Time
}

func NewValidator(counter DailyCounter, payments PaymentVerifier, defaultDailyLimit int) *Validator {
	return &Validator{
		counter:           counter,
		payments:          payments,
		defaultDailyLimit: defaultDailyLimit,
		now:               time.Now,
	}
}

func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// DailyLimit resolves the effective cap for cfg.
func (v *Validator) DailyLimit(cfg entity.PurchaseConfiguration) int {
	if cfg.DailyLimit > 0 {
		return cfg.DailyLimit
	}
	return v.defaultDailyLimit
}

// Validate runs the checks in order and stops at the first failure.
// A nil result means the race may proceed.
func (v *Validator) Validate(
	ctx context.Context,
	cfg entity.PurchaseConfiguration,
	candidates []entity.InventoryCandidate,
) *Rejection {
	checks := []func(context.Context, entity.PurchaseConfiguration, []entity.InventoryCandidate) *Rejection{
		v.checkActive,
		v.checkBudget,
		v.checkQuantity,
		v.checkWindow,
		v.checkDailyLimit,
		v.checkPayment,
	}

	for _, check := range checks {
		if rejection := check(ctx, cfg, candidates); rejection != nil {
			logger(ctx).Info("purchase rejected",
				slog.String(logx.FieldConfigurationID, cfg.ID),
				slog.String(logx.FieldReason, rejection.String()),
			)
			return rejection
		}
	}

	return nil
}

func (v *Validator) checkActive(_ context.Context, cfg entity.PurchaseConfiguration, _ []entity.InventoryCandidate) *Rejection {
	if !cfg.Active {
		return &Rejection{Reason: ReasonInactiveConfiguration}
	}
	return nil
}

func (v *Validator) checkBudget(_ context.Context, cfg entity.PurchaseConfiguration, candidates []entity.InventoryCandidate) *Rejection {
	if len(candidates) == 0 {
		return nil
	}

	cheapest := candidates[0].Price
	for _, c := range candidates[1:] {
		cheapest = decimal.Min(cheapest, c.Price)
	}

	if cheapest.GreaterThan(cfg.MaxPrice) {
		return &Rejection{
			Reason: ReasonPriceExceedsBudget,
			Detail: fmt.Sprintf("cheapest %s exceeds ceiling %s", cheapest, cfg.MaxPrice),
		}
	}
	return nil
}

func (v *Validator) checkQuantity(_ context.Context, cfg entity.PurchaseConfiguration, candidates []entity.InventoryCandidate) *Rejection {
	available := 0
	for _, c := range candidates {
		available = max(available, c.Quantity)
	}

	if available < cfg.DesiredQuantity {
		return &Rejection{
			Reason: ReasonInsufficientQuantity,
			Detail: fmt.Sprintf("%d available < %d desired", available, cfg.DesiredQuantity),
		}
	}
	return nil
}

func (v *Validator) checkWindow(_ context.Context, cfg entity.PurchaseConfiguration, _ []entity.InventoryCandidate) *Rejection {
	now := v.now()

	if cfg.WindowStart != nil && now.Before(*cfg.WindowStart) {
		return &Rejection{Reason: ReasonOutsideWindow, Detail: "purchase window has not started yet"}
	}
	if cfg.WindowEnd != nil && now.After(*cfg.WindowEnd) {
		return &Rejection{Reason: ReasonOutsideWindow, Detail: "purchase window has ended"}
	}
	return nil
}

// checkDailyLimit fails closed: an unreadable counter rejects the attempt.
func (v *Validator) checkDailyLimit(ctx context.Context, cfg entity.PurchaseConfiguration, _ []entity.InventoryCandidate) *Rejection {
	limit := v.DailyLimit(cfg)
	if limit <= 0 {
		return nil
	}

	count, err := v.counter.Count(ctx, cfg.ID, v.now())
	if err != nil {
		logger(ctx).Error("daily counter unavailable",
			slog.String(logx.FieldConfigurationID, cfg.ID),
			logx.Error(err),
		)
		return &Rejection{Reason: ReasonDailyLimitExceeded, Detail: "daily counter unavailable"}
	}

	if count >= limit {
		return &Rejection{
			Reason: ReasonDailyLimitExceeded,
			Detail: fmt.Sprintf("%d of %d purchases used today", count, limit),
		}
	}
	return nil
}

func (v *Validator) checkPayment(ctx context.Context, cfg entity.PurchaseConfiguration, _ []entity.InventoryCandidate) *Rejection {
	ok, err := v.payments.Verify(ctx, cfg)
	if err != nil {
		logger(ctx).Error("payment verification failed",
			slog.String(logx.FieldConfigurationID, cfg.ID),
			logx.Error(err),
		)
		return &Rejection{Reason: ReasonInvalidPaymentMethod, Detail: "payment method could not be verified"}
	}

	if !ok {
		return &Rejection{Reason: ReasonInvalidPaymentMethod, Detail: "payment method is invalid or expired"}
	}
	return nil
}
