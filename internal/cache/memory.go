package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	lrucache "github.com/cognusion/go-cache-lru"
)

// memoryCleanupInterval is how often the backing store sweeps expired items.
const memoryCleanupInterval = time.Minute

type memoryEntry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

// Memory is an in-process Cache for tests and single-node deployments.
// Items live in an expiring lrucache; mu serialises the compound
// operations (SetNX, GetDel) so they stay atomic.
//
// Expiry is also checked against the clock set with SetClock, which lets
// tests move time forward without waiting for the store's sweeper.
type Memory struct {
	mu    sync.Mutex
	items *lrucache.Cache
	now   func() time.Time
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		items: lrucache.New(lrucache.NoExpiration, memoryCleanupInterval),
		now:   time.Now,
	}
}

// SetClock replaces the time source. Used by tests to expire entries.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Len returns the number of live entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.items.Items() {
		if _, ok := m.lookupLocked(k); ok {
			n++
		}
	}
	return n
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookupLocked(key)
	if !ok {
		return nil, ErrMiss
	}
	return clone(e.value), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items.Set(key, m.entry(value, ttl), storeTTL(ttl))
	return nil
}

func (m *Memory) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Drops a logically expired entry so Add sees the slot as free.
	m.lookupLocked(key)
	if err := m.items.Add(key, m.entry(value, ttl), storeTTL(ttl)); err != nil {
		return false, nil
	}
	return true, nil
}

func (m *Memory) GetDel(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookupLocked(key)
	if !ok {
		return nil, ErrMiss
	}
	m.items.Delete(key)
	return e.value, nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		m.items.Delete(k)
	}
	return nil
}

func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.items.Items() {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if _, ok := m.lookupLocked(k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error {
	m.items.Flush()
	return nil
}

// lookupLocked returns a live entry, evicting it if expired.
func (m *Memory) lookupLocked(key string) (memoryEntry, bool) {
	v, ok := m.items.Get(key)
	if !ok {
		return memoryEntry{}, false
	}
	e, ok := v.(memoryEntry)
	if !ok {
		m.items.Delete(key)
		return memoryEntry{}, false
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		m.items.Delete(key)
		return memoryEntry{}, false
	}
	return e, true
}

func (m *Memory) entry(value []byte, ttl time.Duration) memoryEntry {
	e := memoryEntry{value: clone(value)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	return e
}

// storeTTL maps a Cache TTL onto the backing store's expiration.
func storeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return lrucache.NoExpiration
	}
	return ttl
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
