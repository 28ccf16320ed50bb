// Package session owns one user's producers and dispatcher.
//
// A Session wires the reminder poller and the push subscription into a
// single dispatcher through a shared deduplicator. Close stops the poller
// schedule, then the push channel, then the dispatcher loop; once it returns
// nothing mutates the user's history or seen sets.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"nudge/internal/dedup"
	"nudge/internal/dispatch"
	"nudge/internal/eventbus"
	"nudge/internal/history"
	"nudge/internal/metrics"
	"nudge/internal/notification"
	"nudge/internal/reminder"
	"nudge/internal/storage"
	"nudge/internal/stream"
	logx "nudge/pkg/logx"
)

var ErrClosed = errors.New("session closed")

type Config struct {
	UserID       string
	SeenCapacity int
	Dispatch     dispatch.Config
	Poller       reminder.Config
	Router       stream.Router
}

// Deps are shared across sessions. Stream, Platform, Bus and Metrics may be
// nil.
type Deps struct {
	Store    storage.Store
	History  *history.Store
	Stream   *stream.Client
	Platform dispatch.Platform
	Bus      *eventbus.Bus
	Metrics  *metrics.Metrics
	Log      logx.Logger
}

type Session struct {
	userID  string
	seen    *dedup.Deduplicator[notification.Category]
	disp    *dispatch.Dispatcher
	poller  *reminder.Poller
	sub     *stream.Subscription
	router  stream.Router
	metrics *metrics.Metrics
	log     logx.Logger

	mu     sync.Mutex
	closed bool
}

// Open builds and starts a session: hydrate, schedule, subscribe.
func Open(ctx context.Context, cfg Config, deps Deps) (*Session, error) {
	if cfg.UserID == "" {
		return nil, errors.New("session: user id is required")
	}
	if deps.Store == nil || deps.History == nil {
		return nil, errors.New("session: store and history are required")
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("user", cfg.UserID))

	s := &Session{
		userID:  cfg.UserID,
		router:  cfg.Router,
		metrics: deps.Metrics,
		log:     log,
	}

	seenOpts := []dedup.Option{dedup.WithLogger(log.With(logx.String("comp", "dedup")))}
	if cfg.SeenCapacity > 0 {
		seenOpts = append(seenOpts, dedup.WithCapacity(cfg.SeenCapacity))
	}
	s.seen = dedup.New[notification.Category](deps.Store, cfg.UserID, seenOpts...)

	dcfg := cfg.Dispatch
	dcfg.UserID = cfg.UserID
	dopts := []dispatch.Option{dispatch.WithLogger(log.With(logx.String("comp", "dispatch")))}
	if deps.Platform != nil {
		dopts = append(dopts, dispatch.WithPlatform(deps.Platform))
	}
	if deps.Bus != nil {
		dopts = append(dopts, dispatch.WithBus(deps.Bus))
	}
	if deps.Metrics != nil {
		dopts = append(dopts, dispatch.WithRecorder(deps.Metrics))
	}
	s.disp = dispatch.New(dcfg, s.seen, deps.History, dopts...)

	pcfg := cfg.Poller
	pcfg.UserID = cfg.UserID
	popts := []reminder.Option{reminder.WithLogger(log.With(logx.String("comp", "reminder")))}
	if deps.Metrics != nil {
		popts = append(popts, reminder.WithRecorder(deps.Metrics))
	}
	poller, err := reminder.NewPoller(pcfg, s.seen, s.ingest, popts...)
	if err != nil {
		return nil, err
	}
	s.poller = poller

	if err := s.disp.Start(ctx); err != nil {
		return nil, err
	}
	if err := s.poller.Start(); err != nil {
		s.disp.Stop()
		return nil, err
	}
	if deps.Stream != nil {
		s.sub = deps.Stream.Subscribe(cfg.UserID, s.onMessage, s.onTerminate)
	}
	log.Info("session opened", logx.Int("groups", len(pcfg.Groups)), logx.Bool("stream", s.sub != nil))
	return s, nil
}

func (s *Session) UserID() string { return s.userID }

func (s *Session) Dispatcher() *dispatch.Dispatcher { return s.disp }

// StreamState reports the push channel state; ok is false without one.
func (s *Session) StreamState() (h stream.Handle, ok bool) {
	if s.sub == nil {
		return stream.Handle{}, false
	}
	return s.sub.Snapshot(), true
}

// PollNow runs one poller group immediately and ingests its items. It
// reports how many items were handed to the dispatcher.
func (s *Session) PollNow(ctx context.Context, group string) (int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	items, err := s.poller.Poll(ctx, group)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}
	if !s.disp.Ingest(items) {
		return 0, fmt.Errorf("session: batch of %d dropped", len(items))
	}
	return len(items), nil
}

// Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.poller.Stop()
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	s.disp.Stop()
	s.log.Info("session closed")
}

func (s *Session) ingest(items []notification.Item) {
	s.disp.Ingest(items)
}

func (s *Session) onMessage(m stream.Message) {
	it, err := s.router.Item(m)
	if err != nil {
		s.log.Debug("push frame dropped", logx.String("type", m.Type), logx.Err(err))
		s.metrics.ParseFailure("stream")
		return
	}
	s.disp.Ingest([]notification.Item{it})
}

func (s *Session) onTerminate(err error) {
	if errors.Is(err, stream.ErrRetriesExhausted) {
		s.log.Error("push channel gave up; polling continues", logx.Err(err))
		return
	}
	s.log.Debug("push channel dropped", logx.Err(err))
}
