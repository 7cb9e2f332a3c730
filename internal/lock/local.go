// Package lock provides per-order mutual exclusion, in process for a single
// instance and on Redis when several instances share the order store.
package lock

import (
	"context"
	"sync"

	"github.com/dejobratic/orderflow/internal/orders/ports"
)

// Local serializes operations per key within one process.
type Local struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewLocal() *Local {
	return &Local{held: make(map[string]chan struct{})}
}

// Lock blocks until the key is free or ctx is done.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	for {
		release, wait := l.acquire(key)
		if release != nil {
			return release, nil
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TryLock fails with ports.ErrLocked instead of waiting.
func (l *Local) TryLock(_ context.Context, key string) (func(), error) {
	release, _ := l.acquire(key)
	if release == nil {
		return nil, ports.ErrLocked
	}
	return release, nil
}

func (l *Local) acquire(key string) (func(), <-chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if wait, busy := l.held[key]; busy {
		return nil, wait
	}
	done := make(chan struct{})
	l.held[key] = done

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
			close(done)
		})
	}, nil
}
