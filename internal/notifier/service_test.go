package notifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nudge/internal/eventbus"
	"nudge/internal/transport"
	logx "nudge/pkg/logx"
)

type fakeSurface struct {
	mu        sync.Mutex
	delivered []transport.PlatformNotification
	failFirst int
	calls     atomic.Int64
	block     chan struct{}
}

func (f *fakeSurface) Name() string { return "fake" }

func (f *fakeSurface) Permission(context.Context, string) transport.Permission {
	return transport.PermissionGranted
}

func (f *fakeSurface) Deliver(ctx context.Context, n transport.PlatformNotification) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if int(f.calls.Add(1)) <= f.failFirst {
		return errors.New("503")
	}
	f.mu.Lock()
	f.delivered = append(f.delivered, n)
	f.mu.Unlock()
	return nil
}

func (f *fakeSurface) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

type results struct {
	mu sync.Mutex
	m  map[string]int
}

func (r *results) PlatformResult(res string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.m == nil {
		r.m = map[string]int{}
	}
	r.m[res]++
}

func (r *results) get(res string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m[res]
}

func TestDeliversWithRetry(t *testing.T) {
	t.Parallel()
	surface := &fakeSurface{failFirst: 2}
	rec := &results{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(eventbus.Filter{Types: []string{EventSent}}, 4)
	defer unsub()

	s := New(Config{RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}, surface, bus, rec, logx.Nop())
	s.Start(context.Background())
	require.NoError(t, s.Notify(context.Background(), transport.PlatformNotification{UserID: "u1", Tag: "meeting_1_5"}))

	select {
	case e := <-events:
		require.Equal(t, "u1", e.User)
		require.Equal(t, 3, e.Data.(Event).Attempt)
	case <-time.After(5 * time.Second):
		t.Fatal("notification never sent")
	}
	require.NoError(t, s.Stop(context.Background()))
	require.Equal(t, 1, surface.count())
	require.Equal(t, 1, rec.get("sent"))
}

func TestGivesUpAfterRetries(t *testing.T) {
	t.Parallel()
	surface := &fakeSurface{failFirst: 100}
	rec := &results{}
	s := New(Config{RetryMax: 1, RetryBase: time.Millisecond}, surface, nil, rec, logx.Nop())
	s.Start(context.Background())
	require.NoError(t, s.Notify(context.Background(), transport.PlatformNotification{UserID: "u1", Tag: "a"}))

	require.Eventually(t, func() bool { return rec.get("failed") == 1 }, 5*time.Second, 5*time.Millisecond)
	require.Equal(t, int64(2), surface.calls.Load())
	require.NoError(t, s.Stop(context.Background()))
}

func TestQueueFullDropsWithoutBlocking(t *testing.T) {
	t.Parallel()
	surface := &fakeSurface{block: make(chan struct{})}
	rec := &results{}
	s := New(Config{Workers: 1, QueueSize: 1}, surface, nil, rec, logx.Nop())
	s.Start(context.Background())

	var full int
	for i := 0; i < 5; i++ {
		if err := s.Notify(context.Background(), transport.PlatformNotification{UserID: "u1"}); errors.Is(err, ErrQueueFull) {
			full++
		}
	}
	require.GreaterOrEqual(t, full, 3)
	require.Equal(t, full, rec.get("dropped"))

	close(surface.block)
	require.NoError(t, s.Stop(context.Background()))
	require.ErrorIs(t, s.Notify(context.Background(), transport.PlatformNotification{UserID: "u1"}), ErrStopped)
}

func TestDedupWindowSuppressesSameTag(t *testing.T) {
	t.Parallel()
	surface := &fakeSurface{}
	s := New(Config{DedupWindow: time.Hour}, surface, nil, nil, logx.Nop())
	s.Start(context.Background())

	n := transport.PlatformNotification{UserID: "u1", Tag: "document_9_0"}
	require.NoError(t, s.Notify(context.Background(), n))
	require.NoError(t, s.Notify(context.Background(), n))
	n.UserID = "u2"
	require.NoError(t, s.Notify(context.Background(), n))

	require.NoError(t, s.Stop(context.Background()))
	require.Equal(t, 2, surface.count())
}
