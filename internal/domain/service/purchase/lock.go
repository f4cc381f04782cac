package purchase

import (
	"context"
	"sync"
)

// keyedMutex serialises runs of the same configuration. Different
// configurations never wait on each other.
type keyedMutex struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{held: make(map[string]chan struct{})}
}

// lock blocks until id is free or ctx is done. The returned func releases it.
func (k *keyedMutex) lock(ctx context.Context, id string) (func(), error) {
	for {
		k.mu.Lock()
		busy, ok := k.held[id]
		if !ok {
			released := make(chan struct{})
			k.held[id] = released
			k.mu.Unlock()

			return func() {
				k.mu.Lock()
				delete(k.held, id)
				k.mu.Unlock()
				close(released)
			}, nil
		}
		k.mu.Unlock()

		select {
		case <-busy:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
