package cache

import (
	"context"
	"sync"
	"time"
)

// TTLEntry represents an entry in TTLMap
type TTLEntry struct {
	Value     interface{}
	ExpiresAt time.Time
}

// TTLMap is a thread-safe map with TTL for each entry
type TTLMap struct {
	Data map[string]*TTLEntry
	Mu   sync.RWMutex
	TTL  time.Duration
	now  func() time.Time
}

// NewTTLMapWithClock creates a TTLMap whose expiry is measured by now.
func NewTTLMapWithClock(ttl time.Duration, now func() time.Time) *TTLMap {
	return &TTLMap{
		Data: make(map[string]*TTLEntry),
		TTL:  ttl,
		now:  now,
	}
}

// SetIfAbsent stores value unless a live entry already exists. It reports
// whether the value was stored.
func (m *TTLMap) SetIfAbsent(key string, value interface{}) bool {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	now := m.now()
	if current, ok := m.Data[key]; ok && !now.After(current.ExpiresAt) {
		return false
	}
	m.Data[key] = &TTLEntry{
		Value:     value,
		ExpiresAt: now.Add(m.TTL),
	}
	return true
}

// Delete removes a key from the TTLMap
func (m *TTLMap) Delete(key string) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	delete(m.Data, key)
}

// Purge drops every expired entry and returns how many were removed.
func (m *TTLMap) Purge() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	now := m.now()
	removed := 0
	for key, entry := range m.Data {
		if now.After(entry.ExpiresAt) {
			delete(m.Data, key)
			removed++
		}
	}
	return removed
}

// StartJanitor purges expired entries every interval until ctx is done.
func (m *TTLMap) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Purge()
			}
		}
	}()
}
