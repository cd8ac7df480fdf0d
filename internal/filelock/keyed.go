package filelock

import "sync"

// KeyedMutex serializes writers per key (task id, file path) while allowing
// concurrent access across keys. Locks are created lazily and never discarded;
// the key space is bounded by the number of tasks a workspace holds.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutex creates an empty keyed mutex set.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the exclusive lock for key and returns the release function.
func (km *KeyedMutex) Lock(key string) func() {
	km.mu.Lock()
	lock, ok := km.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		km.locks[key] = lock
	}
	km.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
