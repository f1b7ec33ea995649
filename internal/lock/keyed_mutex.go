package lock

import (
	"context"
	"sync"
)

// KeyedMutex hands out one exclusive hold per key. Waiting honours context
// cancellation, unlike sync.Mutex.
type KeyedMutex[K comparable] struct {
	mu    sync.Mutex
	slots map[K]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex[K comparable]() *KeyedMutex[K] {
	return &KeyedMutex[K]{slots: make(map[K]*slot)}
}

// Lock blocks until key is free or ctx is done. The returned func releases
// the hold and is safe to call more than once.
func (m *KeyedMutex[K]) Lock(ctx context.Context, key K) (func(), error) {
	m.mu.Lock()
	s, ok := m.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	m.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		m.forget(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			m.forget(key, s)
		})
	}, nil
}

// Held reports how many keys currently have a holder or waiter.
func (m *KeyedMutex[K]) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

func (m *KeyedMutex[K]) forget(key K, s *slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
}
