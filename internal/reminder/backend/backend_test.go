package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"nudge/internal/notification"
)

func newServer(t *testing.T, mux *http.ServeMux) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestMeetingsSubstitutesUserAndDecodesRecords(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	var gotAuth, gotPath string
	mux.HandleFunc("/api/meetings/", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id": 42, "title": "Sprint review", "date": "2026-03-02", "startTime": "10:00", "reminderMinutes": "30", "owner": 7, "attendees": ["u 1", 9]},
			{"title": "no id"},
			"not an object",
			{"id": "m-2", "name": "Retro", "timestamp": "2026-03-02T15:00:00Z", "type": "personal"}
		]`))
	})
	srv := newServer(t, mux)

	c, err := New(Config{BaseURL: srv.URL, MeetingPath: "/api/meetings/{user}"},
		WithToken(func(userID string) (string, error) { return "tok-" + userID, nil }))
	require.NoError(t, err)

	cands, err := c.Meetings().Fetch(context.Background(), "u 1")
	require.NoError(t, err)
	require.Equal(t, "/api/meetings/u 1", gotPath)
	require.Equal(t, "Bearer tok-u 1", gotAuth)
	require.Len(t, cands, 2)

	first := cands[0]
	require.Equal(t, notification.CategoryMeeting, first.Kind)
	require.Equal(t, "42", first.ID)
	require.Equal(t, "Sprint review", first.Title)
	require.Equal(t, "10:00", first.Time)
	require.NotNil(t, first.ReminderMinutes)
	require.Equal(t, 30, *first.ReminderMinutes)
	require.Equal(t, "7", first.Owner)
	require.Equal(t, []string{"u 1", "9"}, first.Attendees)

	second := cands[1]
	require.Equal(t, "Retro", second.Title)
	require.Equal(t, "2026-03-02T15:00:00Z", second.Timestamp)
	require.Equal(t, "personal", second.EntryType)
	require.Nil(t, second.ReminderMinutes)
}

func TestFetchFailureIsSourceFetchError(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	mux.HandleFunc("/documents", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"not":"an array"}`))
	})
	srv := newServer(t, mux)

	c, err := New(Config{BaseURL: srv.URL, CalendarPath: "/events", DocumentPath: "/documents"})
	require.NoError(t, err)

	_, err = c.Calendar().Fetch(context.Background(), "u1")
	require.True(t, errors.Is(err, notification.ErrSourceFetch))
	_, err = c.Documents().Fetch(context.Background(), "u1")
	require.True(t, errors.Is(err, notification.ErrSourceFetch))
}

func TestDisabledSourceReturnsNothing(t *testing.T) {
	t.Parallel()
	c, err := New(Config{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	require.False(t, c.Enabled(notification.CategoryActivity))

	cands, err := c.Activity().Fetch(context.Background(), "u1")
	require.NoError(t, err)
	require.Empty(t, cands)
}

func TestNewValidatesBaseURL(t *testing.T) {
	t.Parallel()
	_, err := New(Config{})
	require.Error(t, err)
	_, err = New(Config{BaseURL: "ftp://example.org"})
	require.Error(t, err)
}
