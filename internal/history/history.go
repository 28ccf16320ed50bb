// Package history keeps the bounded, newest-first notification log of each
// user on top of a storage.Store.
package history

import (
	"context"
	"encoding/json"
	"sync"

	"nudge/internal/notification"
	"nudge/internal/storage"
	logx "nudge/pkg/logx"
)

// DefaultCapacity bounds a user's history.
const DefaultCapacity = 200

type Option func(*Store)

func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(s *Store) { s.log = log }
}

// Store serializes read-modify-write cycles per process. Errors are
// PersistenceErrors; callers log them and move on.
type Store struct {
	mu       sync.Mutex
	kv       storage.Store
	capacity int
	log      logx.Logger
}

func New(kv storage.Store, opts ...Option) *Store {
	s := &Store{kv: kv, capacity: DefaultCapacity}
	for _, fn := range opts {
		fn(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Store) Capacity() int { return s.capacity }

// Load returns the user's history, newest first. A missing or corrupt record
// yields an empty list; corruption is logged.
func (s *Store) Load(ctx context.Context, userID string) ([]notification.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx, userID)
}

// Append prepends items (the batch keeps its relative order) and truncates
// to capacity before persisting. It returns the stored list.
func (s *Store) Append(ctx context.Context, userID string, items ...notification.Item) ([]notification.Item, error) {
	if len(items) == 0 {
		return s.Load(ctx, userID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.loadLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	next := make([]notification.Item, 0, len(items)+len(cur))
	next = append(next, items...)
	next = append(next, cur...)
	if len(next) > s.capacity {
		next = next[:s.capacity]
	}
	if err := s.saveLocked(ctx, userID, next); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *Store) MarkAllRead(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.loadLocked(ctx, userID)
	if err != nil {
		return err
	}
	for i := range cur {
		cur[i].Read = true
	}
	return s.saveLocked(ctx, userID, cur)
}

// MarkRead flags a single item. It reports whether the item exists.
func (s *Store) MarkRead(ctx context.Context, userID, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.loadLocked(ctx, userID)
	if err != nil {
		return false, err
	}
	found := false
	for i := range cur {
		if cur[i].ID == id {
			found = true
			if cur[i].Read {
				return true, nil
			}
			cur[i].Read = true
		}
	}
	if !found {
		return false, nil
	}
	return true, s.saveLocked(ctx, userID, cur)
}

// Clear persists an empty list.
func (s *Store) Clear(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx, userID, []notification.Item{})
}

func (s *Store) loadLocked(ctx context.Context, userID string) ([]notification.Item, error) {
	key := storage.HistoryKey(userID)
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, notification.PersistenceError("get", key, err)
	}
	if !ok || len(raw) == 0 {
		return []notification.Item{}, nil
	}
	var items []notification.Item
	if err := json.Unmarshal(raw, &items); err != nil {
		s.log.Warn("history corrupt; starting empty", logx.String("key", key), logx.Err(err))
		return []notification.Item{}, nil
	}
	if len(items) > s.capacity {
		items = items[:s.capacity]
	}
	return items, nil
}

func (s *Store) saveLocked(ctx context.Context, userID string, items []notification.Item) error {
	key := storage.HistoryKey(userID)
	b, err := json.Marshal(items)
	if err != nil {
		return notification.PersistenceError("encode", key, err)
	}
	if err := s.kv.Set(ctx, key, b); err != nil {
		return notification.PersistenceError("set", key, err)
	}
	return nil
}
