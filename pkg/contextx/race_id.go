package contextx

import (
	"context"
	"fmt"
)

// RaceID identifies one orchestration cycle across all of its sub-attempts.
type RaceID string

type contextKeyRaceID struct{}

func (r RaceID) String() string {
	return string(r)
}

func WithRaceID(ctx context.Context, raceID RaceID) context.Context {
	return context.WithValue(ctx, contextKeyRaceID{}, raceID)
}

func RaceIDFromContext(ctx context.Context) (RaceID, error) {
	raceID, ok := ctx.Value(contextKeyRaceID{}).(RaceID)
	if !ok {
		return "", fmt.Errorf("race id: %w", ErrNoValue)
	}

	return raceID, nil
}
