package core

import "sync"

// stockLocks serializes work per stock id. Entries are reference counted and
// dropped once the last holder unlocks so the map does not grow with the
// catalogue.
type stockLocks struct {
	mu    sync.Mutex
	locks map[string]*stockLock
}

type stockLock struct {
	mu   sync.Mutex
	refs int
}

func newStockLocks() *stockLocks {
	return &stockLocks{locks: make(map[string]*stockLock)}
}

// lock blocks until id is free and returns the matching unlock.
func (l *stockLocks) lock(id string) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &stockLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// held reports the number of ids with a holder or waiter.
func (l *stockLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
