// Package jsonfile stores the roster as a single JSON document on disk.
// Every accepted change rewrites the document through a synced temporary
// file and an atomic rename before it is reported as committed.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/astromechza/roomboard/pkg/rooms"
)

type document struct {
	Rooms []rooms.Room `json:"rooms"`
}

type Backend struct {
	path string

	mu    sync.Mutex
	rooms map[string]rooms.Room
}

// Open loads path if it exists. A missing file starts an empty roster that
// is written on the first Seed.
func Open(path string) (*Backend, error) {
	b := &Backend{path: path, rooms: make(map[string]rooms.Room)}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return b, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	for _, r := range doc.Rooms {
		b.rooms[r.ID] = r
	}
	return b, nil
}

func (b *Backend) Seed(_ context.Context, roster []rooms.Room) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.copyLocked()
	added := 0
	for _, r := range roster {
		if _, ok := next[r.ID]; !ok {
			next[r.ID] = r
			added++
		}
	}
	if added == 0 {
		if _, err := os.Stat(b.path); err == nil {
			return nil
		}
	}
	if err := b.writeLocked(next); err != nil {
		return err
	}
	b.rooms = next
	return nil
}

func (b *Backend) List(_ context.Context) ([]rooms.Room, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sortedLocked(b.rooms), nil
}

func (b *Backend) Get(_ context.Context, id string) (rooms.Room, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rooms[id]
	if !ok {
		return rooms.Room{}, rooms.ErrNotFound
	}
	return r, nil
}

func (b *Backend) Update(_ context.Context, id string, fn rooms.Mutator) (rooms.Room, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	current, ok := b.rooms[id]
	if !ok {
		return rooms.Room{}, false, rooms.ErrNotFound
	}
	updated, changed := fn(current)
	if !changed {
		return current, false, nil
	}
	updated.ID = id
	next := b.copyLocked()
	next[id] = updated
	if err := b.writeLocked(next); err != nil {
		return rooms.Room{}, false, err
	}
	b.rooms = next
	return updated, true, nil
}

func (b *Backend) Reset(_ context.Context, stamp rooms.Stamper) ([]rooms.Room, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	at := stamp(rooms.Latest(b.sortedLocked(b.rooms)))
	next := make(map[string]rooms.Room, len(b.rooms))
	for id, r := range b.rooms {
		next[id] = rooms.Cleared(r, at)
	}
	if err := b.writeLocked(next); err != nil {
		return nil, err
	}
	b.rooms = next
	return b.sortedLocked(next), nil
}

func (b *Backend) Close() error {
	return nil
}

func (b *Backend) copyLocked() map[string]rooms.Room {
	out := make(map[string]rooms.Room, len(b.rooms))
	for id, r := range b.rooms {
		out[id] = r
	}
	return out
}

func (b *Backend) sortedLocked(m map[string]rooms.Room) []rooms.Room {
	out := make([]rooms.Room, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	rooms.Sort(out)
	return out
}

func (b *Backend) writeLocked(m map[string]rooms.Room) error {
	raw, err := json.MarshalIndent(document{Rooms: b.sortedLocked(m)}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode rooms: %w", err)
	}
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", b.path, err)
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
