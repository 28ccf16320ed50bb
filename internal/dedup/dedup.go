// Package dedup implements bounded per-category "seen key" sets.
//
// One Deduplicator serves every category of a single user. Sets are loaded
// lazily from the key-value store and written back on every MarkSeen; a store
// failure is logged and the in-memory set keeps working.
package dedup

import (
	"context"
	"encoding/json"
	"sync"

	"nudge/internal/notification"
	"nudge/internal/storage"
	logx "nudge/pkg/logx"
)

// DefaultCapacity is the per-category cap on remembered keys.
const DefaultCapacity = 500

type options struct {
	capacity int
	log      logx.Logger
}

type Option func(*options)

func WithCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.capacity = n
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(o *options) { o.log = log }
}

type seenSet struct {
	keys  []string // oldest first
	index map[string]struct{}
}

// Deduplicator is safe for concurrent use.
type Deduplicator[C ~string] struct {
	mu       sync.Mutex
	store    storage.Store
	userID   string
	capacity int
	log      logx.Logger
	sets     map[C]*seenSet
}

func New[C ~string](store storage.Store, userID string, opts ...Option) *Deduplicator[C] {
	o := options{capacity: DefaultCapacity}
	for _, fn := range opts {
		fn(&o)
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	return &Deduplicator[C]{
		store:    store,
		userID:   userID,
		capacity: o.capacity,
		log:      o.log,
		sets:     map[C]*seenSet{},
	}
}

// IsSeen reports whether key was marked for category.
func (d *Deduplicator[C]) IsSeen(ctx context.Context, category C, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.setLocked(ctx, category).index[key]
	return ok
}

// MarkSeen records key, evicting the oldest keys past the cap, then persists.
// Marking an already-seen key is a no-op.
func (d *Deduplicator[C]) MarkSeen(ctx context.Context, category C, key string) {
	if key == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	set := d.setLocked(ctx, category)
	if _, ok := set.index[key]; ok {
		return
	}
	set.keys = append(set.keys, key)
	set.index[key] = struct{}{}
	for len(set.keys) > d.capacity {
		delete(set.index, set.keys[0])
		set.keys = set.keys[1:]
	}
	d.persistLocked(ctx, category, set)
}

// Keys returns the remembered keys for category, oldest first.
func (d *Deduplicator[C]) Keys(ctx context.Context, category C) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.setLocked(ctx, category).keys...)
}

func (d *Deduplicator[C]) Len(ctx context.Context, category C) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.setLocked(ctx, category).keys)
}

func (d *Deduplicator[C]) setLocked(ctx context.Context, category C) *seenSet {
	if set, ok := d.sets[category]; ok {
		return set
	}
	set := &seenSet{index: map[string]struct{}{}}
	d.sets[category] = set
	if d.store == nil {
		return set
	}

	key := storage.SeenKey(d.userID, string(category))
	raw, ok, err := d.store.Get(ctx, key)
	if err != nil {
		d.log.Warn("seen set load failed", logx.Err(notification.PersistenceError("get", key, err)))
		return set
	}
	if !ok {
		return set
	}
	var keys []string
	if err := json.Unmarshal(raw, &keys); err != nil {
		d.log.Warn("seen set corrupt; starting empty", logx.Err(notification.PersistenceError("decode", key, err)))
		return set
	}
	if len(keys) > d.capacity {
		keys = keys[len(keys)-d.capacity:]
	}
	for _, k := range keys {
		if _, dup := set.index[k]; dup || k == "" {
			continue
		}
		set.keys = append(set.keys, k)
		set.index[k] = struct{}{}
	}
	return set
}

func (d *Deduplicator[C]) persistLocked(ctx context.Context, category C, set *seenSet) {
	if d.store == nil {
		return
	}
	key := storage.SeenKey(d.userID, string(category))
	b, err := json.Marshal(set.keys)
	if err == nil {
		err = d.store.Set(ctx, key, b)
	}
	if err != nil {
		d.log.Warn("seen set persist failed", logx.Err(notification.PersistenceError("set", key, err)))
	}
}
