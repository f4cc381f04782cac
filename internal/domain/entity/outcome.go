package entity

import "time"

// DiscardedSuccess is a success reported after the race already had a winner
// or was closed. The real-world order behind it may need manual reconciliation.
type DiscardedSuccess struct {
	RaceID          string
	ConfigurationID string
	AttemptID       string
	Source          string
	ListingID       string
	Result          PurchaseResult
	At              time.Time
}

// RaceOutcome is the in-memory result of one race.
type RaceOutcome struct {
	RaceID    string
	Kind      AttemptKind
	Winner    *PurchaseAttempt
	Losers    []*PurchaseAttempt
	Discarded []DiscardedSuccess
	Elapsed   time.Duration
}

func (o RaceOutcome) HasWinner() bool {
	return o.Winner != nil
}

// Attempts returns the winner (if any) followed by the losers.
func (o RaceOutcome) Attempts() []*PurchaseAttempt {
	attempts := make([]*PurchaseAttempt, 0, len(o.Losers)+1)
	if o.Winner != nil {
		attempts = append(attempts, o.Winner)
	}
	return append(attempts, o.Losers...)
}

// Sources lists the sources that took part in the race.
func (o RaceOutcome) Sources() []string {
	sources := make([]string, 0, len(o.Losers)+1)
	for _, a := range o.Attempts() {
		sources = append(sources, a.Candidate.Source)
	}
	return sources
}

// FailureReasons collects the reasons of every non-successful attempt.
func (o RaceOutcome) FailureReasons() []string {
	reasons := make([]string, 0, len(o.Losers))
	for _, a := range o.Losers {
		if a.FailureReason != "" {
			reasons = append(reasons, a.Candidate.Source+": "+a.FailureReason)
		}
	}
	return reasons
}
