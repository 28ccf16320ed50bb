package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"nudge/internal/eventbus"
	rtsup "nudge/internal/runtime/supervisor"
	"nudge/internal/transport"
	logx "nudge/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Service is safe for concurrent use.
type Service struct {
	surface transport.Surface
	bus     *eventbus.Bus
	rec     Recorder
	log     logx.Logger

	mu        sync.RWMutex
	cfg       Config
	limiter   *rate.Limiter
	queue     chan transport.PlatformNotification
	sup       *rtsup.Supervisor
	workers   *sync.WaitGroup
	accepting bool

	dmu   sync.Mutex
	dedup map[string]time.Time
}

func New(cfg Config, surface transport.Surface, bus *eventbus.Bus, rec Recorder, log logx.Logger) *Service {
	if surface == nil {
		surface = transport.Disabled{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{surface: surface, bus: bus, rec: rec, log: log, dedup: map[string]time.Time{}}
	s.cfg = withDefaults(cfg)
	s.limiter = rate.NewLimiter(rate.Limit(s.cfg.RatePerSec), burst(s.cfg.RatePerSec))
	return s
}

func withDefaults(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	return cfg
}

func burst(perSec float64) int {
	if perSec < 1 {
		return 1
	}
	return int(perSec)
}

// Apply swaps rate and retry settings; queue size and workers take effect
// on the next Start.
func (s *Service) Apply(cfg Config) {
	cfg = withDefaults(cfg)
	s.mu.Lock()
	s.cfg = cfg
	s.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
	s.limiter.SetBurst(burst(cfg.RatePerSec))
	s.mu.Unlock()
}

func (s *Service) Surface() string { return s.surface.Name() }

// Permission reports the surface permission of userID.
func (s *Service) Permission(ctx context.Context, userID string) transport.Permission {
	return s.surface.Permission(ctx, userID)
}

// Start launches the workers. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return
	}
	s.queue = make(chan transport.PlatformNotification, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	q := s.queue
	wg := &sync.WaitGroup{}
	s.workers = wg
	wg.Add(s.cfg.Workers)
	for i := 0; i < s.cfg.Workers; i++ {
		s.sup.GoRestart(fmt.Sprintf("platform.worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			wg.Done()
			return nil
		})
	}
	s.log.Info("platform pipeline started", logx.String("surface", s.surface.Name()), logx.Int("workers", s.cfg.Workers))
}

// Stop refuses new notifications, lets workers drain the queue and waits
// for them until ctx ends.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	q, sup, wg := s.queue, s.sup, s.workers
	if q == nil {
		s.mu.Unlock()
		return nil
	}
	s.accepting = false
	s.queue = nil
	s.sup = nil
	s.workers = nil
	close(q)
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
	}
	return sup.Stop(ctx)
}

// Notify enqueues n without blocking.
func (s *Service) Notify(ctx context.Context, n transport.PlatformNotification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.allow(n) {
		s.publish(EventDeduped, n, 0, nil)
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.accepting {
		return ErrStopped
	}
	select {
	case s.queue <- n:
		s.publish(EventQueued, n, 0, nil)
		return nil
	default:
		s.publish(EventDropped, n, 0, ErrQueueFull)
		s.record("dropped")
		return ErrQueueFull
	}
}

func (s *Service) allow(n transport.PlatformNotification) bool {
	s.mu.RLock()
	window := s.cfg.DedupWindow
	s.mu.RUnlock()
	if window <= 0 || n.Tag == "" {
		return true
	}
	key := n.UserID + "\x00" + n.Tag
	now := time.Now()

	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	s.dedup[key] = now.Add(window)
	return true
}

func (s *Service) workerLoop(ctx context.Context, q <-chan transport.PlatformNotification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, n)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, n transport.PlatformNotification) {
	s.mu.RLock()
	cfg := s.cfg
	s.mu.RUnlock()

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := s.surface.Deliver(callCtx, n)
		cancel()
		if err == nil {
			s.publish(EventSent, n, attempt, nil)
			s.record("sent")
			return
		}
		lastErr = err
		s.log.Debug("platform send failed", logx.String("tag", n.Tag), logx.Int("attempt", attempt), logx.Err(err))
		if attempt == attempts {
			break
		}

		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	s.log.Warn("platform notification failed", logx.String("user", n.UserID), logx.String("tag", n.Tag), logx.Int("attempts", attempts), logx.Err(lastErr))
	s.publish(EventFailed, n, attempts, lastErr)
	s.record("failed")
}

func (s *Service) record(result string) {
	if s.rec != nil {
		s.rec.PlatformResult(result)
	}
}

func (s *Service) publish(typ string, n transport.PlatformNotification, attempt int, err error) {
	if s.bus == nil {
		return
	}
	ev := Event{Surface: s.surface.Name(), Tag: n.Tag, At: time.Now(), Attempt: attempt}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, User: n.UserID, Time: ev.At, Data: ev})
}

// retryDelay is base*2^(attempt-1) with 0.7..1.3 jitter, capped.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
