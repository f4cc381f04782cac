package condition

import (
	"context"
	"time"

	"autobuy/internal/domain/entity"
)

// ExpiryVerifier accepts any referenced payment method that has not expired.
type ExpiryVerifier struct {
	now func() time.Time
}

func NewExpiryVerifier() ExpiryVerifier {
	return ExpiryVerifier{now: time.Now}
}

func (v ExpiryVerifier) WithClock(now func() time.Time) ExpiryVerifier {
	v.now = now
	return v
}

func (v ExpiryVerifier) Verify(_ context.Context, cfg entity.PurchaseConfiguration) (bool, error) {
	if cfg.PaymentMethodRef == "" {
		return false, nil
	}

	if cfg.PaymentMethodExpiresAt != nil && !v.now().Before(*cfg.PaymentMethodExpiresAt) {
		return false, nil
	}

	return true, nil
}
