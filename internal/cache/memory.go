package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultMaxEntries bounds the in-memory cache size before LRU eviction.
const DefaultMaxEntries = 10000

// entry is one cached value with its freshness budget.
type entry struct {
	key        string
	value      []byte
	insertedAt time.Time
	ttl        time.Duration
	elem       *list.Element
}

func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.insertedAt) >= e.ttl
}

// Memory is an in-process Cache with TTL expiry and LRU eviction.
type Memory struct {
	mu         sync.Mutex
	entries    map[string]*entry
	order      *list.List // front = most recently used
	maxEntries int
}

// NewMemory creates an in-memory cache bounded to maxEntries
// (DefaultMaxEntries if <= 0).
func NewMemory(maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Memory{
		entries:    make(map[string]*entry),
		order:      list.New(),
		maxEntries: maxEntries,
	}
}

func (m *Memory) Get(_ context.Context, key Key) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key.String()]
	if !ok {
		return nil, false, nil
	}
	if e.expired(time.Now()) {
		m.remove(e)
		return nil, false, nil
	}

	m.order.MoveToFront(e.elem)
	val := make([]byte, len(e.value))
	copy(val, e.value)
	return val, true, nil
}

func (m *Memory) Set(_ context.Context, key Key, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key.String()
	val := make([]byte, len(value))
	copy(val, value)

	if e, ok := m.entries[k]; ok {
		// Last-writer-wins: replace in place
		e.value = val
		e.insertedAt = time.Now()
		e.ttl = ttl
		m.order.MoveToFront(e.elem)
		return nil
	}

	e := &entry{key: k, value: val, insertedAt: time.Now(), ttl: ttl}
	e.elem = m.order.PushFront(e)
	m.entries[k] = e

	// Evict least recently used beyond capacity
	for len(m.entries) > m.maxEntries {
		back := m.order.Back()
		if back == nil {
			break
		}
		m.remove(back.Value.(*entry))
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key.String()]; ok {
		m.remove(e)
	}
	return nil
}

// Len returns the current number of live entries (expired entries that
// have not been touched still count).
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// remove deletes an entry. Caller must hold m.mu.
func (m *Memory) remove(e *entry) {
	m.order.Remove(e.elem)
	delete(m.entries, e.key)
}
