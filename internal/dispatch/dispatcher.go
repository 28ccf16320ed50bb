// Package dispatch merges producer output for one user.
//
// Every mutation runs on a single goroutine that consumes a bounded command
// queue: dedup, the in-app projection, history writes and the platform
// notification. Readers see an immutable snapshot swapped atomically after
// each command.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"nudge/internal/eventbus"
	"nudge/internal/notification"
	"nudge/internal/transport"
	logx "nudge/pkg/logx"
)

const (
	DefaultProjectionCap = 50
	DefaultQueueSize     = 64
)

const (
	EventDelivered  = "notification.delivered"
	EventProjection = "notification.projection"
	EventAttention  = "notification.attention"
	EventDeduped    = "notification.deduped"
)

var (
	ErrStopped        = errors.New("dispatcher stopped")
	ErrAlreadyStarted = errors.New("dispatcher already started")
)

type Seen interface {
	IsSeen(ctx context.Context, category notification.Category, key string) bool
	MarkSeen(ctx context.Context, category notification.Category, key string)
}

type History interface {
	Load(ctx context.Context, userID string) ([]notification.Item, error)
	Append(ctx context.Context, userID string, items ...notification.Item) ([]notification.Item, error)
	MarkRead(ctx context.Context, userID, id string) (bool, error)
	MarkAllRead(ctx context.Context, userID string) error
	Clear(ctx context.Context, userID string) error
}

// Platform is the OS-level notification surface. Notify must not block on
// the network.
type Platform interface {
	Permission(ctx context.Context, userID string) transport.Permission
	Notify(ctx context.Context, n transport.PlatformNotification) error
}

type Recorder interface {
	DeliveredItem(category string)
	DeduplicatedItem(category string)
	DroppedBatch(userID string)
	PlatformResult(result string)
	Unread(userID string, n int)
	ObserveIngest(start time.Time)
}

type Config struct {
	UserID        string
	ProjectionCap int
	QueueSize     int
	// AppBaseURL prefixes navigation paths in platform click-through links.
	AppBaseURL string
	// Verbose logs a trace line per item.
	Verbose bool
}

// Snapshot is the in-app projection: newest first.
type Snapshot struct {
	Unread int                 `json:"unread"`
	Items  []notification.Item `json:"items"`
}

// Attention is the payload of EventAttention.
type Attention struct {
	Count int    `json:"count"`
	First string `json:"first"`
}

type command func(ctx context.Context)

type Dispatcher struct {
	cfg      Config
	seen     Seen
	hist     History
	platform Platform
	bus      *eventbus.Bus
	rec      Recorder
	log      logx.Logger

	mu      sync.RWMutex
	cmds    chan command
	started bool
	stopped bool
	done    chan struct{}

	snap atomic.Pointer[Snapshot]

	// owned by the loop goroutine
	items []notification.Item
}

type Option func(*Dispatcher)

func WithPlatform(p Platform) Option    { return func(d *Dispatcher) { d.platform = p } }
func WithBus(b *eventbus.Bus) Option    { return func(d *Dispatcher) { d.bus = b } }
func WithRecorder(r Recorder) Option    { return func(d *Dispatcher) { d.rec = r } }
func WithLogger(log logx.Logger) Option { return func(d *Dispatcher) { d.log = log } }

func New(cfg Config, seen Seen, hist History, opts ...Option) *Dispatcher {
	if cfg.ProjectionCap <= 0 {
		cfg.ProjectionCap = DefaultProjectionCap
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	d := &Dispatcher{
		cfg:  cfg,
		seen: seen,
		hist: hist,
		cmds: make(chan command, cfg.QueueSize),
		done: make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	d.log = d.log.With(logx.String("user", cfg.UserID))
	d.snap.Store(&Snapshot{Items: []notification.Item{}})
	return d
}

func (d *Dispatcher) UserID() string { return d.cfg.UserID }

// Start hydrates the projection from history and launches the loop.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrStopped
	}
	if d.started {
		return ErrAlreadyStarted
	}

	items, err := d.hist.Load(ctx, d.cfg.UserID)
	if err != nil {
		d.log.Warn("history hydrate failed", logx.Err(err))
	}
	if len(items) > d.cfg.ProjectionCap {
		items = items[:d.cfg.ProjectionCap]
	}
	d.items = append([]notification.Item(nil), items...)
	d.storeSnapshot()

	d.started = true
	go d.loop()
	return nil
}

// Stop refuses new commands, runs the ones already queued and waits for the
// loop to exit. No history or seen-set mutation happens after it returns.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.stopped = true
	close(d.cmds)
	started := d.started
	d.mu.Unlock()

	if !started {
		close(d.done)
		return
	}
	<-d.done
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	ctx := context.Background()
	for cmd := range d.cmds {
		cmd(ctx)
	}
}

// Ingest enqueues a batch without blocking. It reports false when the batch
// was dropped because the queue is full or the dispatcher is stopped.
func (d *Dispatcher) Ingest(items []notification.Item) bool {
	if len(items) == 0 {
		return true
	}
	batch := append([]notification.Item(nil), items...)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		d.log.Debug("batch after stop ignored", logx.Int("items", len(batch)))
		return false
	}
	select {
	case d.cmds <- func(ctx context.Context) { d.ingest(ctx, batch) }:
		return true
	default:
		d.log.Warn("dispatch queue full; batch dropped", logx.Int("items", len(batch)), logx.Int("queue", cap(d.cmds)))
		if d.rec != nil {
			d.rec.DroppedBatch(d.cfg.UserID)
		}
		return false
	}
}

func (d *Dispatcher) send(ctx context.Context, cmd command) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}
	select {
	case d.cmds <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func call[T any](ctx context.Context, d *Dispatcher, fn func(ctx context.Context) T) (T, error) {
	var zero T
	out := make(chan T, 1)
	if err := d.send(ctx, func(c context.Context) { out <- fn(c) }); err != nil {
		return zero, err
	}
	select {
	case v := <-out:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Flush waits until every command enqueued before it has run.
func (d *Dispatcher) Flush(ctx context.Context) error {
	_, err := call(ctx, d, func(context.Context) struct{} { return struct{}{} })
	return err
}

type readResult struct {
	item  notification.Item
	found bool
}

// MarkRead acknowledges one item and returns it. Items that fell out of the
// projection are looked up in history.
func (d *Dispatcher) MarkRead(ctx context.Context, id string) (notification.Item, bool, error) {
	r, err := call(ctx, d, func(c context.Context) readResult {
		it, ok := d.markRead(c, id)
		return readResult{item: it, found: ok}
	})
	return r.item, r.found, err
}

func (d *Dispatcher) MarkAllRead(ctx context.Context) error {
	_, err := call(ctx, d, func(c context.Context) struct{} {
		d.markAllRead(c)
		return struct{}{}
	})
	return err
}

// Clear empties the projection and history. Seen sets are kept so cleared
// items are not delivered again.
func (d *Dispatcher) Clear(ctx context.Context) error {
	_, err := call(ctx, d, func(c context.Context) struct{} {
		d.clear(c)
		return struct{}{}
	})
	return err
}

// Snapshot returns the current projection. The result must not be mutated.
func (d *Dispatcher) Snapshot() Snapshot { return *d.snap.Load() }


func (d *Dispatcher) ingest(ctx context.Context, batch []notification.Item) {
	start := time.Now()
	if d.rec != nil {
		defer d.rec.ObserveIngest(start)
	}

	survivors := make([]notification.Item, 0, len(batch))
	inBatch := make(map[string]struct{}, len(batch))
	for _, it := range batch {
		if it.ID == "" {
			d.log.Debug("item without id dropped", logx.String("title", it.Title))
			continue
		}
		k := string(it.Category) + "\x00" + it.ID
		if _, dup := inBatch[k]; dup || d.seen.IsSeen(ctx, it.Category, it.ID) {
			d.deduped(it)
			continue
		}
		inBatch[k] = struct{}{}
		survivors = append(survivors, it)
	}
	if len(survivors) == 0 {
		return
	}

	for _, it := range survivors {
		d.seen.MarkSeen(ctx, it.Category, it.ID)
	}

	d.items = prepend(survivors, d.items, d.cfg.ProjectionCap)

	if _, err := d.hist.Append(ctx, d.cfg.UserID, survivors...); err != nil {
		d.log.Warn("history append failed", logx.Int("items", len(survivors)), logx.Err(err))
	}

	d.notifyPlatform(ctx, survivors[0])
	d.publish(EventAttention, Attention{Count: len(survivors), First: survivors[0].ID})

	for _, it := range survivors {
		if d.cfg.Verbose {
			d.log.Debug("delivered", logx.String("id", it.ID), logx.String("category", string(it.Category)))
		}
		if d.rec != nil {
			d.rec.DeliveredItem(string(it.Category))
		}
		d.publish(EventDelivered, it)
	}
	d.storeSnapshot()
}

func (d *Dispatcher) deduped(it notification.Item) {
	if d.cfg.Verbose {
		d.log.Debug("duplicate suppressed", logx.String("id", it.ID))
	}
	if d.rec != nil {
		d.rec.DeduplicatedItem(string(it.Category))
	}
	d.publish(EventDeduped, it)
}

func (d *Dispatcher) notifyPlatform(ctx context.Context, it notification.Item) {
	if d.platform == nil {
		return
	}
	if p := d.platform.Permission(ctx, d.cfg.UserID); p != transport.PermissionGranted {
		if d.rec != nil {
			d.rec.PlatformResult("denied")
		}
		if d.cfg.Verbose {
			d.log.Debug("platform notification skipped", logx.String("permission", p.String()))
		}
		return
	}
	n := transport.PlatformNotification{
		UserID: d.cfg.UserID,
		Title:  it.Title,
		Body:   it.Message,
		Tag:    it.ID,
		URL:    transport.JoinURL(d.cfg.AppBaseURL, it.NavigationPath),
	}
	if err := d.platform.Notify(ctx, n); err != nil {
		d.log.Warn("platform notification not queued", logx.String("id", it.ID), logx.Err(err))
	}
}

func (d *Dispatcher) markRead(ctx context.Context, id string) (notification.Item, bool) {
	var (
		it    notification.Item
		found bool
	)
	for i := range d.items {
		if d.items[i].ID != id {
			continue
		}
		found = true
		if !d.items[i].Read {
			items := append([]notification.Item(nil), d.items...)
			items[i].Read = true
			d.items = items
			d.storeSnapshot()
		}
		it = d.items[i]
		break
	}
	ok, err := d.hist.MarkRead(ctx, d.cfg.UserID, id)
	if err != nil {
		d.log.Warn("history mark read failed", logx.String("id", id), logx.Err(err))
	}
	if found || !ok {
		return it, found
	}

	stored, err := d.hist.Load(ctx, d.cfg.UserID)
	if err != nil {
		d.log.Warn("history load failed", logx.String("id", id), logx.Err(err))
	}
	for _, h := range stored {
		if h.ID == id {
			return h, true
		}
	}
	return notification.Item{ID: id, Read: true}, true
}

func (d *Dispatcher) markAllRead(ctx context.Context) {
	items := make([]notification.Item, len(d.items))
	for i, it := range d.items {
		it.Read = true
		items[i] = it
	}
	d.items = items
	if err := d.hist.MarkAllRead(ctx, d.cfg.UserID); err != nil {
		d.log.Warn("history mark all read failed", logx.Err(err))
	}
	d.storeSnapshot()
}

func (d *Dispatcher) clear(ctx context.Context) {
	d.items = nil
	if err := d.hist.Clear(ctx, d.cfg.UserID); err != nil {
		d.log.Warn("history clear failed", logx.Err(err))
	}
	d.storeSnapshot()
}

// storeSnapshot publishes d.items. d.items is never mutated in place after
// being stored, so the snapshot can share it.
func (d *Dispatcher) storeSnapshot() {
	items := d.items
	if items == nil {
		items = []notification.Item{}
	}
	s := &Snapshot{Unread: notification.Unread(items), Items: items}
	d.snap.Store(s)
	if d.rec != nil {
		d.rec.Unread(d.cfg.UserID, s.Unread)
	}
	d.publish(EventProjection, *s)
}

func (d *Dispatcher) publish(typ string, data any) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, User: d.cfg.UserID, Data: data})
}

// prepend returns head followed by tail, truncated to limit, in a new slice.
func prepend(head, tail []notification.Item, limit int) []notification.Item {
	n := len(head) + len(tail)
	if n > limit {
		n = limit
	}
	out := make([]notification.Item, 0, n)
	out = append(out, head...)
	out = append(out, tail...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
