package cache

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryTier is an in-process tier. Expired entries are removed lazily on
// read and by Purge.
type MemoryTier struct {
	name    string
	clock   clock.Clock
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryTier creates an empty in-process tier.
func NewMemoryTier(name string, clk clock.Clock) *MemoryTier {
	return &MemoryTier{
		name:    name,
		clock:   clk,
		entries: make(map[string]memoryEntry),
	}
}

func (m *MemoryTier) Name() string {
	return m.name
}

func (m *MemoryTier) Get(_ context.Context, key string) ([]byte, bool, error) {
	now := m.clock.Now()

	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if entry.expired(now) {
		m.mu.Lock()
		// Another writer may have replaced the entry in between.
		if current, ok := m.entries[key]; ok && current.expired(now) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

func (m *MemoryTier) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = m.clock.Now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

func (m *MemoryTier) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryTier) Ping(context.Context) error {
	return nil
}

// Purge removes every expired entry and returns how many were removed.
func (m *MemoryTier) Purge() int {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, entry := range m.entries {
		if entry.expired(now) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (m *MemoryTier) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Clear drops every entry.
func (m *MemoryTier) Clear() {
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.mu.Unlock()
}
