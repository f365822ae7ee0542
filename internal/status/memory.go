package status

import (
	"context"
	"sort"
	"sync"
	"time"

	"transcoder/internal/services"
)

type memoryEntry struct {
	status  Status
	updated time.Time
}

// Memory is an in-process Store for tests and ephemeral runs.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry)}
}

func (m *Memory) Get(_ context.Context, key string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return "", services.Wrap(services.ErrNotFound, "status", "get", key, nil)
	}
	return entry.status, nil
}

func (m *Memory) Set(_ context.Context, key string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{status: status, updated: time.Now()}
	return nil
}

func (m *Memory) Claim(_ context.Context, key string, status Status) (Status, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.entries[key]; ok {
		return existing.status, false, nil
	}
	m.entries[key] = memoryEntry{status: status, updated: time.Now()}
	return status, true, nil
}

func (m *Memory) Replace(_ context.Context, key string, from, to Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.entries[key]; !ok || current.status != from {
		return false, nil
	}
	m.entries[key] = memoryEntry{status: to, updated: time.Now()}
	return true, nil
}

func (m *Memory) Reclaim(_ context.Context, cutoff time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for key, entry := range m.entries {
		if entry.status.IsActive() && !entry.updated.After(cutoff) {
			m.entries[key] = memoryEntry{status: Failed, updated: time.Now()}
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Snapshot returns a copy of every stored status.
func (m *Memory) Snapshot() map[string]Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Status, len(m.entries))
	for k, v := range m.entries {
		out[k] = v.status
	}
	return out
}

func (m *Memory) Close() error { return nil }
