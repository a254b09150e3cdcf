package service

import (
	"context"
	"sync"
)

var _ Locker = (*KeyedMutex)(nil)

// KeyedMutex is an in-process Locker holding one mutex per account.
// Entries are reference counted and dropped once no caller holds or waits
// on them, so the map stays bounded by the number of in-flight accounts.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sem  chan struct{}
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until the lock for accountID is held or ctx is done.
func (k *KeyedMutex) Lock(ctx context.Context, accountID string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[accountID]
	if !ok {
		l = &keyedLock{sem: make(chan struct{}, 1)}
		k.locks[accountID] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		k.release(accountID, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			k.release(accountID, l)
		})
	}, nil
}

func (k *KeyedMutex) release(accountID string, l *keyedLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, accountID)
	}
}

// Len returns the number of accounts with a held or awaited lock.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
