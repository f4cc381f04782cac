package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseConfiguration is a buyer's standing instruction to auto-purchase.
// The engine only reads it.
type PurchaseConfiguration struct {
	ID      string `json:"id" validate:"required"`
	OwnerID int64  `json:"owner_id" validate:"required,gt=0"`
	EventID string `json:"event_id"`
	Active  bool   `json:"active"`

	MaxPrice        decimal.Decimal `json:"max_price"`
	DesiredQuantity int             `json:"desired_quantity" validate:"gte=1"`

	// Ranked preferences only affect scoring.
	PreferredPlatforms []string `json:"preferred_platforms" validate:"dive,required"`
	PreferredSections  []string `json:"preferred_sections" validate:"dive,required"`

	// Allow-lists are hard filters; empty means unrestricted.
	AllowedPlatforms []string `json:"allowed_platforms" validate:"dive,required"`
	AllowedSections  []string `json:"allowed_sections" validate:"dive,required"`

	WindowStart *time.Time `json:"window_start,omitempty"`
	WindowEnd   *time.Time `json:"window_end,omitempty"`

	PaymentMethodRef       string     `json:"payment_method_ref" validate:"required"`
	PaymentMethodExpiresAt *time.Time `json:"payment_method_expires_at,omitempty"`

	// DailyLimit of successful purchases; 0 falls back to the engine default.
	DailyLimit int `json:"daily_limit" validate:"gte=0"`
}

// InWindow reports whether at falls inside the optional purchase window.
func (c PurchaseConfiguration) InWindow(at time.Time) bool {
	if c.WindowStart != nil && at.Before(*c.WindowStart) {
		return false
	}
	if c.WindowEnd != nil && at.After(*c.WindowEnd) {
		return false
	}
	return true
}

// Relaxed returns a copy with the price ceiling scaled by factor and every
// section constraint cleared.
func (c PurchaseConfiguration) Relaxed(factor decimal.Decimal) PurchaseConfiguration {
	relaxed := c
	relaxed.MaxPrice = c.MaxPrice.Mul(factor)
	relaxed.PreferredSections = nil
	relaxed.AllowedSections = nil
	return relaxed
}
