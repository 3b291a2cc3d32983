package rooms

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend keeps the roster in process memory. It is used for tests and
// for throwaway deployments.
type MemoryBackend struct {
	mu    sync.Mutex
	rooms map[string]Room
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{rooms: make(map[string]Room)}
}

func (m *MemoryBackend) Seed(_ context.Context, roster []Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range roster {
		if _, ok := m.rooms[r.ID]; !ok {
			m.rooms[r.ID] = r
		}
	}
	return nil
}

func (m *MemoryBackend) List(_ context.Context) ([]Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	Sort(out)
	return out, nil
}

func (m *MemoryBackend) Get(_ context.Context, id string) (Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return Room{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryBackend) Update(_ context.Context, id string, fn Mutator) (Room, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.rooms[id]
	if !ok {
		return Room{}, false, ErrNotFound
	}
	next, changed := fn(current)
	if !changed {
		return current, false, nil
	}
	next.ID = current.ID
	m.rooms[id] = next
	return next, true, nil
}

func (m *MemoryBackend) Reset(_ context.Context, stamp Stamper) ([]Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest time.Time
	for _, r := range m.rooms {
		if r.UpdatedAt.After(latest) {
			latest = r.UpdatedAt
		}
	}
	at := stamp(latest)
	out := make([]Room, 0, len(m.rooms))
	for id, r := range m.rooms {
		r = Cleared(r, at)
		m.rooms[id] = r
		out = append(out, r)
	}
	Sort(out)
	return out, nil
}

func (m *MemoryBackend) Close() error {
	return nil
}
