package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// InventoryCandidate is one purchasable offer snapshot at race time.
type InventoryCandidate struct {
	Source     string          `json:"source"`
	ListingID  string          `json:"listing_id"`
	Price      decimal.Decimal `json:"price"`
	Quantity   int             `json:"quantity"`
	Section    string          `json:"section"`
	ObservedAt time.Time       `json:"observed_at"`
}

// ScoredCandidate pairs a candidate with its composite score for one race.
type ScoredCandidate struct {
	Candidate InventoryCandidate
	Score     float64
}

// InventorySnapshot is what the upstream feed hands over for one configuration.
type InventorySnapshot struct {
	ConfigurationID string               `json:"configuration_id" validate:"required"`
	Candidates      []InventoryCandidate `json:"candidates"`
	ReceivedAt      time.Time            `json:"received_at"`
}
