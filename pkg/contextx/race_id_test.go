package contextx_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"autobuy/pkg/contextx"
)

func TestRaceID(t *testing.T) {
	rq := require.New(t)
	ctx := context.Background()

	var testRaceIDEmpty contextx.RaceID

	testRaceIDNotEmpty := contextx.RaceID("test-race-id")

	raceID, err := contextx.RaceIDFromContext(ctx)
	rq.Equal(testRaceIDEmpty, raceID)
	rq.ErrorIs(err, contextx.ErrNoValue)
	rq.ErrorContains(err, "race id: no value in context")

	ctx = contextx.WithRaceID(ctx, testRaceIDNotEmpty)

	raceID, err = contextx.RaceIDFromContext(ctx)
	rq.Equal(testRaceIDNotEmpty, raceID)
	rq.NoError(err)
}
