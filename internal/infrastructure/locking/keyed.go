// Package locking serializes mutations of a single learner's progress record.
package locking

import (
	"context"
	"sync"

	"github.com/physiohub/progress-engine/internal/domain/progress"
)

// KeyedLocker is an in-process per-key mutex. Entries are reference counted
// and removed once the last waiter releases.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	sem  chan struct{}
	refs int
}

// NewKeyedLocker creates an empty locker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedEntry)}
}

// Lock implements progress.LearnerLocker.
func (k *KeyedLocker) Lock(ctx context.Context, learnerID string) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[learnerID]
	if !ok {
		e = &keyedEntry{sem: make(chan struct{}, 1)}
		k.locks[learnerID] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		k.release(learnerID, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			k.release(learnerID, e)
		})
	}, nil
}

func (k *KeyedLocker) release(key string, e *keyedEntry) {
	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

// Len reports how many keys are held or awaited.
func (k *KeyedLocker) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// Chain acquires lockers in order and releases them in reverse.
type Chain []progress.LearnerLocker

// Lock implements progress.LearnerLocker.
func (c Chain) Lock(ctx context.Context, learnerID string) (func(), error) {
	unlocks := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}

	for _, l := range c {
		unlock, err := l.Lock(ctx, learnerID)
		if err != nil {
			releaseAll()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return releaseAll, nil
}
