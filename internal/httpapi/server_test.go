package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"nudge/internal/auth"
	"nudge/internal/dispatch"
	"nudge/internal/eventbus"
	"nudge/internal/history"
	"nudge/internal/notification"
	"nudge/internal/session"
	"nudge/internal/storage"
)

type harness struct {
	reg  *session.Registry
	bus  *eventbus.Bus
	sess *session.Session
	srv  *Server
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	kv := storage.NewMemory()
	h := &harness{reg: session.NewRegistry(), bus: eventbus.New()}
	sess, err := session.Open(context.Background(), session.Config{UserID: "alice"}, session.Deps{
		Store:   kv,
		History: history.New(kv),
		Bus:     h.bus,
	})
	require.NoError(t, err)
	h.reg.Add(sess)
	t.Cleanup(h.reg.CloseAll)
	h.sess = sess
	h.srv = New(cfg, h.reg, append([]Option{WithBus(h.bus)}, opts...)...)
	return h
}

func (h *harness) ingest(t *testing.T, items ...notification.Item) {
	t.Helper()
	require.True(t, h.sess.Dispatcher().Ingest(items))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.sess.Dispatcher().Flush(ctx))
}

func (h *harness) do(t *testing.T, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func meeting(id, nav string) notification.Item {
	return notification.Item{ID: id, Title: "Standup", Message: "in 5 minutes", Category: notification.CategoryMeeting, NavigationPath: nav}
}

func TestOpenResolvesItemsOutsideProjection(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{AppBaseURL: "https://app.example.com"})
	items := make([]notification.Item, 0, 60)
	for i := 59; i >= 0; i-- {
		items = append(items, meeting(fmt.Sprintf("meeting_%d_5", i), fmt.Sprintf("/meetings/%d", i)))
	}
	h.ingest(t, items...)
	require.Len(t, h.sess.Dispatcher().Snapshot().Items, dispatch.DefaultProjectionCap)

	// meeting_0_5 is last in the batch, so only history still holds it
	rec := h.do(t, http.MethodGet, "/api/users/alice/notifications/meeting_0_5/open", "")
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "https://app.example.com/meetings/0", rec.Header().Get("Location"))
}

func TestOpenDoesNotLeaveTheApplication(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{AppBaseURL: "https://app.example.com"})
	h.ingest(t,
		meeting("meeting_1_5", "https://evil.test/phish"),
		meeting("meeting_2_5", "//evil.test/phish"))

	for _, id := range []string{"meeting_1_5", "meeting_2_5"} {
		rec := h.do(t, http.MethodGet, "/api/users/alice/notifications/"+id+"/open", "")
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, "https://app.example.com/", rec.Header().Get("Location"), id)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	var failing error
	h := newHarness(t, Config{}, WithHealth(func() error { return failing }))

	rec := h.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())

	failing = errors.New("http: listener died")
	rec = h.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "nudge_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()
	h := newHarness(t, Config{}, WithGatherer(reg))

	rec := h.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "nudge_test_total 1")
}

func TestNotificationLifecycle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{AppBaseURL: "https://app.example.com"})
	h.ingest(t, meeting("meeting_1_5", "/meetings/1"), meeting("meeting_2_5", "/meetings/2"))

	rec := h.do(t, http.MethodGet, "/api/users/alice/notifications", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap dispatch.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Equal(t, 2, snap.Unread)
	require.Equal(t, "meeting_1_5", snap.Items[0].ID)

	rec = h.do(t, http.MethodPost, "/api/users/alice/notifications/meeting_1_5/read", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, h.sess.Dispatcher().Snapshot().Unread)

	rec = h.do(t, http.MethodPost, "/api/users/alice/notifications/nope/read", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/users/alice/notifications/meeting_2_5/open", "")
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "https://app.example.com/meetings/2", rec.Header().Get("Location"))
	require.Equal(t, 0, h.sess.Dispatcher().Snapshot().Unread)

	rec = h.do(t, http.MethodGet, "/api/users/alice/notifications/nope/open", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	h.ingest(t, meeting("meeting_3_5", "/meetings/3"))
	rec = h.do(t, http.MethodPost, "/api/users/alice/notifications/read", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0, h.sess.Dispatcher().Snapshot().Unread)

	rec = h.do(t, http.MethodDelete, "/api/users/alice/notifications", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, h.sess.Dispatcher().Snapshot().Items)

	rec = h.do(t, http.MethodGet, "/api/users/alice/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"user":"alice","unread":0}`, rec.Body.String())
}

func TestUnknownUserAndGroup(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})

	rec := h.do(t, http.MethodGet, "/api/users/bob/notifications", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/users/alice/poll/nightly", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBearerAuth(t *testing.T) {
	t.Parallel()
	tokens, err := auth.NewTokens("s3cret", "nudge", "nudge-api", time.Hour)
	require.NoError(t, err)
	h := newHarness(t, Config{Tokens: tokens})

	rec := h.do(t, http.MethodGet, "/api/users/alice/notifications", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	bob, err := tokens.Issue("bob")
	require.NoError(t, err)
	rec = h.do(t, http.MethodGet, "/api/users/alice/notifications", bob)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/users/alice/notifications", "garbage")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	alice, err := tokens.Issue("alice")
	require.NoError(t, err)
	rec = h.do(t, http.MethodGet, "/api/users/alice/notifications", alice)
	require.Equal(t, http.StatusOK, rec.Code)

	// health stays public
	rec = h.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestEventStream(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ts := httptest.NewServer(h.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/users/alice/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	next := func(prefix string) string {
		t.Helper()
		for lines.Scan() {
			if strings.HasPrefix(lines.Text(), prefix) {
				return strings.TrimPrefix(lines.Text(), prefix)
			}
		}
		t.Fatalf("stream ended before %q", prefix)
		return ""
	}

	require.Equal(t, dispatch.EventProjection, next("event: "))
	require.Equal(t, `{"unread":0,"items":[]}`, next("data: "))

	h.ingest(t, meeting("meeting_9_5", "/meetings/9"))
	for {
		if next("event: ") == dispatch.EventAttention {
			break
		}
	}
	require.JSONEq(t, `{"count":1,"first":"meeting_9_5"}`, next("data: "))
}
