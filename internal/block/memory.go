package block

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRegistry keeps entries in a map. Re-blocking an IP replaces its entry.
type MemoryRegistry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

var _ Registry = (*MemoryRegistry)(nil)

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: make(map[string]Entry)}
}

func (m *MemoryRegistry) IsBlocked(_ context.Context, ip string, now time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[ip]
	return ok && e.Active(now), nil
}

func (m *MemoryRegistry) Block(_ context.Context, e Entry) error {
	if err := validate(e); err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[e.IP] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryRegistry) Unblock(_ context.Context, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[ip]; !ok {
		return ErrNotFound
	}
	delete(m.entries, ip)
	return nil
}

func (m *MemoryRegistry) Get(_ context.Context, ip string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[ip]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (m *MemoryRegistry) ListActive(_ context.Context, now time.Time) ([]Entry, error) {
	m.mu.RLock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if e.Active(now) {
			out = append(out, e)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].BlockedUntil.Before(out[j].BlockedUntil) })
	return out, nil
}

func (m *MemoryRegistry) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for ip, e := range m.entries {
		if !e.Active(now) {
			delete(m.entries, ip)
			n++
		}
	}
	return n, nil
}
