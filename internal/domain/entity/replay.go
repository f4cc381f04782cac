package entity

import "time"

// ReplayToken carries everything a delayed retry needs to re-run a race.
type ReplayToken struct {
	ConfigurationID string               `json:"configuration_id" validate:"required"`
	Candidates      []InventoryCandidate `json:"candidates"`
	ScheduledAt     time.Time            `json:"scheduled_at"`
	RunAfter        time.Time            `json:"run_after"`
}
