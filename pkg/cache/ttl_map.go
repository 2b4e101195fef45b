package cache

import (
	"sync"
	"time"
)

type item[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLMap is a mutex guarded map whose entries go stale after a deadline.
// A zero deadline never expires.
type TTLMap[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]item[V]
}

func NewTTLMap[K comparable, V any]() *TTLMap[K, V] {
	return &TTLMap[K, V]{items: map[K]item[V]{}}
}

func (m *TTLMap[K, V]) Get(key K) (V, time.Time, bool) {
	var zero V
	if m == nil {
		return zero, time.Time{}, false
	}
	m.mu.RLock()
	it, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		return zero, time.Time{}, false
	}
	return it.value, it.expiresAt, true
}

func (m *TTLMap[K, V]) GetFresh(key K, now time.Time) (V, bool) {
	var zero V
	v, exp, ok := m.Get(key)
	if !ok {
		return zero, false
	}
	if !exp.IsZero() && !now.Before(exp) {
		return zero, false
	}
	return v, true
}

func (m *TTLMap[K, V]) SetWithTTL(key K, value V, now time.Time, ttl time.Duration) {
	if m == nil {
		return
	}
	exp := time.Time{}
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	m.mu.Lock()
	m.items[key] = item[V]{value: value, expiresAt: exp}
	m.mu.Unlock()
}

func (m *TTLMap[K, V]) Delete(key K) {
	if m == nil {
		return
	}
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
}
