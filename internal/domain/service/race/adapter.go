package race

import (
	"context"

	"autobuy/internal/domain/entity"
)

// PurchaseRequest is everything one sub-attempt hands to a purchaser.
type PurchaseRequest struct {
	AttemptID       string
	RaceID          string
	ConfigurationID string
	Candidate       entity.InventoryCandidate
	Quantity        int
	PaymentRef      string
	// Context is nil on a cold start. Adapters must only read it.
	Context *entity.PreloadedContext
}

// Adapter performs a purchase on one inventory source. It must be safe for
// concurrent use and should return promptly once ctx is cancelled.
type Adapter interface {
	AttemptPurchase(ctx context.Context, req PurchaseRequest) (entity.PurchaseResult, error)
}

type AdapterResolver interface {
	Resolve(source string) (Adapter, bool)
}

type AdapterFunc func(ctx context.Context, req PurchaseRequest) (entity.PurchaseResult, error)

func (f AdapterFunc) AttemptPurchase(ctx context.Context, req PurchaseRequest) (entity.PurchaseResult, error) {
	return f(ctx, req)
}
