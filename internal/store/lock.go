package store

import (
	"context"
	"sync"
)

// Locker provides a short-lived exclusive lease per session key. The lease
// spans validate, transition and persist for one inbound message; callers for
// different keys never block each other.
type Locker interface {
	// Acquire blocks until the lease for key is held or ctx is done. The
	// returned release function must be called exactly once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// KeyedMutex is an in-process Locker backed by one mutex per key. Suitable
// for single-node deployments; the lockfile on the state directory guards
// against a second process.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Acquire locks the per-key mutex. Lock entries are reference counted and
// removed once the last holder releases, so the map does not grow without
// bound.
func (k *KeyedMutex) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	acquired := make(chan struct{})
	go func() {
		l.mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-ctx.Done():
		// The goroutine above will still obtain the mutex eventually;
		// release it as soon as it does.
		go func() {
			<-acquired
			k.release(key, l)
		}()
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { k.release(key, l) })
	}, nil
}

func (k *KeyedMutex) release(key string, l *keyedLock) {
	l.mu.Unlock()
	k.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}
