package attendance

import "sync"

// keyedMutex serializes work per key while unrelated keys proceed in
// parallel. Entries are reference-counted and dropped when idle so the map
// does not grow with the student body.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[string]*lockEntry)}
}

// Lock acquires the lock for key and returns the matching unlock func.
func (km *keyedMutex) Lock(key string) (unlock func()) {
	km.mu.Lock()
	e, ok := km.entries[key]
	if !ok {
		e = &lockEntry{}
		km.entries[key] = e
	}
	e.refs++
	km.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		km.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(km.entries, key)
		}
		km.mu.Unlock()
	}
}
