package engine

import "sync"

// auctionLocks hands out one RWMutex per auction. Bids take the read side so
// different participants proceed in parallel; cancellation, resolution and
// claim transitions take the write side.
type auctionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func newAuctionLocks() *auctionLocks {
	return &auctionLocks{locks: make(map[string]*sync.RWMutex)}
}

func (l *auctionLocks) get(auctionID string) *sync.RWMutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[auctionID]
	if !ok {
		lock = &sync.RWMutex{}
		l.locks[auctionID] = lock
	}
	return lock
}

// keyedMutex serializes work per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock acquires key and returns the matching unlock.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
