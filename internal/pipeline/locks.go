package pipeline

import "sync"

// userLocks provides per-key mutual exclusion. A user's lock is held for a
// whole pipeline run, so two messages from the same user never interleave;
// distinct users proceed in parallel. Entries are reference-counted and
// removed when idle, so the map does not grow with the user population.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

// lock acquires the mutex for key, creating it on first use.
func (ul *userLocks) lock(key string) {
	ul.mu.Lock()
	l, ok := ul.locks[key]
	if !ok {
		l = &userLock{}
		ul.locks[key] = l
	}
	l.refs++
	ul.mu.Unlock()

	l.mu.Lock()
}

// unlock releases the mutex for key and discards it when no one is waiting.
func (ul *userLocks) unlock(key string) {
	ul.mu.Lock()
	l := ul.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(ul.locks, key)
	}
	ul.mu.Unlock()

	l.mu.Unlock()
}
