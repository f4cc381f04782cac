package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventPurchaseSucceeded EventType = "auto_purchase_success"
	EventPurchaseFailed    EventType = "auto_purchase_failed"
	EventNotAttempted      EventType = "auto_purchase_not_attempted"
	EventRetryScheduled    EventType = "auto_purchase_retry_scheduled"
)

type Urgency string

const (
	UrgencyHigh   Urgency = "high"
	UrgencyMedium Urgency = "medium"
)

// OutcomeEvent is the structured summary handed to the notifier. Rendering
// it for a channel is the notifier's business.
type OutcomeEvent struct {
	Type            EventType       `json:"type"`
	Urgency         Urgency         `json:"urgency"`
	OwnerID         int64           `json:"owner_id"`
	ConfigurationID string          `json:"configuration_id"`
	AttemptID       string          `json:"attempt_id,omitempty"`
	Kind            AttemptKind     `json:"kind,omitempty"`
	Strategy        string          `json:"strategy,omitempty"`
	Source          string          `json:"source,omitempty"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	Quantity        int             `json:"quantity,omitempty"`
	TotalPaid       decimal.Decimal `json:"total_paid"`
	Elapsed         time.Duration   `json:"elapsed"`
	RetryAt         *time.Time      `json:"retry_at,omitempty"`
	Reasons         []string        `json:"reasons,omitempty"`
	OccurredAt      time.Time       `json:"occurred_at"`
}
