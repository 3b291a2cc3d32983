package rooms

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Mutator computes the next version of a room from the stored one. Returning
// false leaves the stored record untouched.
type Mutator func(Room) (Room, bool)

// Backend is a durable home for the roster. Implementations must have
// committed a change before returning from Update or Reset.
type Backend interface {
	Seed(ctx context.Context, roster []Room) error
	List(ctx context.Context) ([]Room, error)
	Get(ctx context.Context, id string) (Room, error)
	Update(ctx context.Context, id string, fn Mutator) (Room, bool, error)
	Reset(ctx context.Context, stamp Stamper) ([]Room, error)
	Close() error
}

// Stamper chooses the shared reset stamp from the newest stamp stored.
// Backends call it while concurrent writers are excluded, so the result is
// later than anything committed before the reset.
type Stamper func(latest time.Time) time.Time

// Publisher receives every committed change in commit order.
type Publisher interface {
	PublishUpdate(room Room)
	PublishReset(roster []Room)
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Store is the authoritative room state. Updates to different rooms run
// independently, updates to the same room are applied one at a time in
// arrival order, and a reset excludes all updates while it runs.
type Store struct {
	backend   Backend
	publisher Publisher
	now       func() time.Time
	logger    *slog.Logger

	resetLock sync.RWMutex
	keys      keyedMutex
}

func NewStore(backend Backend, publisher Publisher, opts ...Option) *Store {
	s := &Store{
		backend:   backend,
		publisher: publisher,
		now:       time.Now,
		logger:    slog.Default(),
		keys:      keyedMutex{entries: make(map[string]*keyEntry)},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Seed(ctx context.Context, roster []Room) error {
	seen := make(map[string]bool, len(roster))
	for _, r := range roster {
		if r.ID == "" {
			return fmt.Errorf("roster entry with empty room id")
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate room id %q in roster", r.ID)
		}
		seen[r.ID] = true
	}
	if err := s.backend.Seed(ctx, roster); err != nil {
		return fmt.Errorf("failed to seed roster: %w", err)
	}
	s.logger.Info("seeded roster", "rooms", len(roster))
	return nil
}

func (s *Store) List(ctx context.Context) ([]Room, error) {
	rs, err := s.backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	Sort(rs)
	return rs, nil
}

func (s *Store) Get(ctx context.Context, id string) (Room, error) {
	return s.backend.Get(ctx, id)
}

// Update applies the supplied fields of patch to room id. A patch that
// changes nothing returns the current record without a new stamp and
// without notifying anyone.
func (s *Store) Update(ctx context.Context, id string, patch Patch) (Room, error) {
	if err := patch.Validate(); err != nil {
		return Room{}, err
	}

	s.resetLock.RLock()
	defer s.resetLock.RUnlock()
	unlock := s.keys.lock(id)
	defer unlock()

	updated, changed, err := s.backend.Update(ctx, id, func(current Room) (Room, bool) {
		next, changed := patch.Apply(current)
		if !changed {
			return current, false
		}
		next.UpdatedAt = NextStamp(s.now(), current.UpdatedAt)
		return next, true
	})
	if err != nil {
		return Room{}, err
	}
	if changed {
		s.logger.Debug("room updated", "room", id, "active", updated.IsActive, "checkout", updated.IsCheckout, "at", updated.UpdatedAt)
		if s.publisher != nil {
			s.publisher.PublishUpdate(updated)
		}
	}
	return updated, nil
}

// Reset clears every room and stamps them all with one shared time that is
// later than any existing stamp.
func (s *Store) Reset(ctx context.Context) ([]Room, error) {
	s.resetLock.Lock()
	defer s.resetLock.Unlock()

	var at time.Time
	roster, err := s.backend.Reset(ctx, func(latest time.Time) time.Time {
		at = NextStamp(s.now(), latest)
		return at
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reset rooms: %w", err)
	}
	Sort(roster)
	s.logger.Info("roster reset", "rooms", len(roster), "at", at)
	if s.publisher != nil {
		s.publisher.PublishReset(roster)
	}
	return roster, nil
}

func (s *Store) Close() error {
	return s.backend.Close()
}

type keyEntry struct {
	mu   sync.Mutex
	refs int
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyEntry
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &keyEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
