package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"nudge/internal/notification"
	logx "nudge/pkg/logx"
)

// ErrRetriesExhausted is reported through onTerminate when MaxAttempts
// consecutive attempts failed. The subscription is then Disconnected.
var ErrRetriesExhausted = errors.New("stream: retries exhausted")

// Message is one push frame.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Conn is an open push channel. Close must unblock a pending Receive.
// Receive reports an undecodable frame with an error wrapping
// notification.ErrParse; the subscription drops it and keeps reading.
type Conn interface {
	Receive() (Message, error)
	Close() error
}

// Dialer opens push channels addressed by user.
type Dialer interface {
	Dial(ctx context.Context, userID string) (Conn, error)
}

type DialerFunc func(ctx context.Context, userID string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, userID string) (Conn, error) { return f(ctx, userID) }

type Config struct {
	RetryFloor   time.Duration
	RetryCeiling time.Duration
	// MaxAttempts bounds consecutive failed attempts; 0 retries forever.
	MaxAttempts int
}

// Recorder receives connection outcomes.
type Recorder interface {
	StreamState(userID, state string)
	Reconnect(userID string)
	ParseFailure(component string)
}

type Option func(*Client)

func WithLogger(log logx.Logger) Option { return func(c *Client) { c.log = log } }

func WithRecorder(r Recorder) Option { return func(c *Client) { c.rec = r } }

// Client creates subscriptions over one Dialer.
type Client struct {
	dialer Dialer
	cfg    Config
	log    logx.Logger
	rec    Recorder
}

func NewClient(d Dialer, cfg Config, opts ...Option) *Client {
	if cfg.RetryFloor <= 0 {
		cfg.RetryFloor = DefaultRetryFloor
	}
	if cfg.RetryCeiling <= 0 {
		cfg.RetryCeiling = DefaultRetryCeiling
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	c := &Client{dialer: d, cfg: cfg}
	for _, fn := range opts {
		fn(c)
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	return c
}

// Handle is a snapshot of a subscription.
type Handle struct {
	State        State
	RetryDelay   time.Duration
	RetryCeiling time.Duration
}

// Subscription is one user's push channel.
type Subscription struct {
	userID      string
	dialer      Dialer
	onMessage   func(Message)
	onTerminate func(error)
	maxAttempts int
	log         logx.Logger
	rec         Recorder

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	state   State
	conn    Conn
	backoff *backoff
}

// Subscribe starts the push channel of userID. onMessage receives every
// frame unmodified; onTerminate receives every transport failure, the last
// one wrapped in ErrRetriesExhausted when MaxAttempts is reached. Both run
// on the subscription goroutine and must not call Unsubscribe.
func (c *Client) Subscribe(userID string, onMessage func(Message), onTerminate func(error)) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscription{
		userID:      userID,
		dialer:      c.dialer,
		onMessage:   onMessage,
		onTerminate: onTerminate,
		maxAttempts: c.cfg.MaxAttempts,
		log:         c.log.With(logx.String("user", userID)),
		rec:         c.rec,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		state:       Disconnected,
		backoff:     newBackoff(c.cfg.RetryFloor, c.cfg.RetryCeiling),
	}
	go s.run()
	return s
}

// Unsubscribe closes the transport, cancels any pending reconnect and
// waits for the subscription goroutine to exit. It is idempotent.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})
	<-s.done
}

// Done is closed once the subscription goroutine has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) Snapshot() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Handle{State: s.state, RetryDelay: s.backoff.Current(), RetryCeiling: s.backoff.ceiling}
}

func (s *Subscription) apply(e Event) {
	s.mu.Lock()
	next, ok := Transition(s.state, e)
	if !ok {
		s.mu.Unlock()
		s.log.Debug("ignored stream event", logx.String("state", s.state.String()), logx.String("event", e.String()))
		return
	}
	s.state = next
	s.mu.Unlock()
	if s.rec != nil {
		s.rec.StreamState(s.userID, next.String())
	}
}

func (s *Subscription) run() {
	defer close(s.done)
	defer s.apply(EventUnsubscribe)

	failures := 0
	for {
		if s.ctx.Err() != nil {
			return
		}
		connID := uuid.NewString()
		log := s.log.With(logx.String("conn", connID))

		s.mu.Lock()
		retrying := s.state == Backoff
		s.mu.Unlock()
		if retrying {
			s.apply(EventRetry)
			if s.rec != nil {
				s.rec.Reconnect(s.userID)
			}
		} else {
			s.apply(EventDial)
		}

		conn, err := s.dialer.Dial(s.ctx, s.userID)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			failures++
			if !s.fail(log, notification.ConnectionError("dial", err), failures) {
				return
			}
			continue
		}

		s.mu.Lock()
		if s.ctx.Err() != nil {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conn = conn
		s.backoff.Reset()
		s.mu.Unlock()
		s.apply(EventConnected)
		failures = 0
		log.Info("stream connected")

		err = s.read(log, conn)

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close()
		if s.ctx.Err() != nil {
			return
		}
		failures++
		if !s.fail(log, notification.ConnectionError("receive", err), failures) {
			return
		}
	}
}

func (s *Subscription) read(log logx.Logger, conn Conn) error {
	for {
		msg, err := conn.Receive()
		if err != nil {
			if !errors.Is(err, notification.ErrParse) || s.ctx.Err() != nil {
				return err
			}
			log.Warn("dropping malformed frame", logx.Err(err))
			if s.rec != nil {
				s.rec.ParseFailure("stream")
			}
			continue
		}
		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}
		if s.onMessage != nil {
			s.onMessage(msg)
		}
	}
}

// fail reports err, moves to Backoff and waits out the delay. It returns
// false when the subscription must stop.
func (s *Subscription) fail(log logx.Logger, err error, failures int) bool {
	s.apply(EventFailure)
	if s.maxAttempts > 0 && failures >= s.maxAttempts {
		log.Warn("stream retries exhausted", logx.Int("attempts", failures), logx.Err(err))
		if s.onTerminate != nil {
			s.onTerminate(fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, failures, err))
		}
		return false
	}
	if s.onTerminate != nil {
		s.onTerminate(err)
	}

	s.mu.Lock()
	delay := s.backoff.Next()
	s.mu.Unlock()
	log.Warn("stream lost; retrying", logx.Duration("delay", delay), logx.Int("attempt", failures), logx.Err(err))

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}
