package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nudge/internal/config"
	"nudge/internal/notification"
	"nudge/internal/reminder"
	logx "nudge/pkg/logx"
)

func TestMapGroups(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Sources: config.SourcesConfig{
		BaseURL:      "https://backend.example.com",
		CalendarPath: "/events",
		DocumentPath: "/users/{user}/documents",
	}}
	b, err := mapBackend(cfg, logx.Nop())
	require.NoError(t, err)

	groups, err := mapGroups(cfg, b)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	require.Equal(t, "agenda", groups[0].Name)
	require.Equal(t, "10s", groups[0].Schedule)
	require.Len(t, groups[0].Sources, 1)
	require.Equal(t, notification.CategoryCalendar, groups[0].Sources[0].Kind())
	require.Equal(t, "documents", groups[1].Name)
	require.Equal(t, "30s", groups[1].Schedule)
	require.Len(t, groups[1].Sources, 1)
	require.Equal(t, notification.CategoryDocument, groups[1].Sources[0].Kind())

	full := &config.Config{Sources: config.SourcesConfig{
		BaseURL:      "https://backend.example.com",
		CalendarPath: "/events",
		MeetingPath:  "/users/{user}/meetings",
		DocumentPath: "/users/{user}/documents",
	}}
	fb, err := mapBackend(full, logx.Nop())
	require.NoError(t, err)
	groups, err = mapGroups(full, fb)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	require.Equal(t, notification.CategoryMeeting, groups[0].Sources[1].Kind())

	cfg.Reminder.Groups = []config.ReminderGroup{
		{Name: "fast", Schedule: "30s", Sources: []string{"document"}},
		{Name: "meetings", Schedule: "1m", Sources: []string{"meeting"}}, // no path: dropped
	}
	groups, err = mapGroups(cfg, b)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, "fast", groups[0].Name)

	groups, err = mapGroups(&config.Config{}, nil)
	require.NoError(t, err)
	require.Empty(t, groups)
}

func TestMapSessionDefaults(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Reminder.DueTail = "45m"
	sc := mapSession(cfg, config.UserConfig{ID: " alice ", Privileged: true}, nil, time.UTC)

	require.Equal(t, "alice", sc.UserID)
	require.True(t, sc.Poller.Privileged)
	require.Equal(t, 45*time.Minute, sc.Poller.Tail)
	require.Equal(t, reminder.DefaultLead, sc.Poller.DefaultLead)
	require.Equal(t, time.UTC, sc.Poller.Location)
}

func TestAppRunsSessionsFromConfig(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now().Add(-time.Minute).UTC().Format(time.RFC3339)
		_ = json.NewEncoder(w).Encode([]map[string]any{{"id": 7, "title": "Design doc", "uploadedAt": start}})
	}))
	defer backend.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "nudge.json")
	raw, err := json.Marshal(map[string]any{
		"logging":  map[string]any{"level": "error"},
		"storage":  map[string]any{"driver": "file", "path": filepath.Join(dir, "state")},
		"reminder": map[string]any{"groups": []map[string]any{{"name": "docs", "schedule": "cron:0 0 0 1 1 *", "sources": []string{"document"}}}},
		"sources":  map[string]any{"base_url": backend.URL, "document_path": "/documents"},
		"platform": map[string]any{"surface": "log"},
		"users":    []map[string]any{{"id": "alice"}},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	a, err := NewApp(path)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	s, ok := a.Sessions().Get("alice")
	require.True(t, ok)
	n, err := s.PollNow(context.Background(), "docs")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Dispatcher().Flush(ctx))
	require.Equal(t, "document_7_0", s.Dispatcher().Snapshot().Items[0].ID)

	require.NoError(t, a.Stop(ctx, StopAppStop))
	select {
	case <-a.Done():
	default:
		t.Fatal("app context still live after Stop")
	}
	_, ok = a.Sessions().Get("alice")
	require.False(t, ok)
}
