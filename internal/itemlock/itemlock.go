// Package itemlock serializes state transitions per catalog item.
package itemlock

import "sync"

// Locker hands out one mutex per key. Mutexes are never freed; the key space
// is bounded by the catalog size.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns an empty Locker.
func New() *Locker {
	return &Locker{locks: make(map[string]*sync.Mutex)}
}

// Lock blocks until key is free and returns the matching unlock function.
func (l *Locker) Lock(key string) func() {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
