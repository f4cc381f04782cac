package limits

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryCounter keeps counters in process. Good for a single instance and
// for tests; restarts reset it.
type MemoryCounter struct {
	store *cache.Cache
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{store: cache.New(cache.NoExpiration, time.Hour)}
}

func (c *MemoryCounter) Count(_ context.Context, configurationID string, day time.Time) (int, error) {
	v, ok := c.store.Get(key(configurationID, day))
	if !ok {
		return 0, nil
	}
	return v.(int), nil //nolint:forcetypeassert
}

func (c *MemoryCounter) Increment(_ context.Context, configurationID string, day time.Time) (int, error) {
	k := key(configurationID, day)

	// Add only succeeds for the first writer of the day.
	if err := c.store.Add(k, 1, time.Until(endOfDay(day))); err == nil {
		return 1, nil
	}

	n, err := c.store.IncrementInt(k, 1)
	if err != nil {
		// The entry expired between Add and IncrementInt.
		c.store.Set(k, 1, time.Until(endOfDay(day)))
		return 1, nil
	}

	return n, nil
}

func key(configurationID string, day time.Time) string {
	return "autobuy:daily:" + configurationID + ":" + dayKey(day)
}
