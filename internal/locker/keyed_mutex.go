package locker

import (
	"context"
	"sync"
)

type keyEntry struct {
	sem  chan struct{}
	refs int
}

// KeyedMutex is an in-process Locker. Entries are dropped once nobody holds or waits on them.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyEntry
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*keyEntry)}
}

func (m *KeyedMutex) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	held := make([]string, 0, len(keys))

	releaseHeld := func() {
		for i := len(held) - 1; i >= 0; i-- {
			m.unlock(held[i])
		}
	}

	for _, key := range keys {
		e := m.ref(key)
		select {
		case e.sem <- struct{}{}:
			held = append(held, key)
		case <-ctx.Done():
			m.unref(key)
			releaseHeld()
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() { once.Do(releaseHeld) }, nil
}

func (m *KeyedMutex) ref(key string) *keyEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		e = &keyEntry{sem: make(chan struct{}, 1)}
		m.entries[key] = e
	}
	e.refs++
	return e
}

func (m *KeyedMutex) unref(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[key]
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}

func (m *KeyedMutex) unlock(key string) {
	m.mu.Lock()
	e := m.entries[key]
	m.mu.Unlock()
	<-e.sem
	m.unref(key)
}
