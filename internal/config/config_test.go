package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: info
  console: true
storage:
  driver: sqlite
  path: ./data/nudge.db
reminder:
  timezone: UTC
  due_tail: 45m
  groups:
    - name: calendar
      schedule: 1m
      sources: [calendar, meeting]
sources:
  base_url: https://backend.example.com
  calendar_path: /api/events
stream:
  enabled: true
  url: wss://push.example.com/ws
  max_attempts: 5
platform:
  surface: telegram
  telegram:
    token: file-token
users:
  - id: alice
    privileged: true
    telegram_chat_id: 42
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("nudge.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	require.Equal(t, "sqlite", cfg.Storage.Driver)
	require.Equal(t, "45m", cfg.Reminder.DueTail)
	require.Equal(t, []string{"calendar", "meeting"}, cfg.Reminder.Groups[0].Sources)
	require.Equal(t, 5, cfg.Stream.MaxAttempts)
	require.Equal(t, int64(42), cfg.Users[0].TelegramChatID)
	require.Equal(t, 45*time.Minute, Duration(cfg.Reminder.DueTail, time.Hour))
}

func TestDecodeIsStrict(t *testing.T) {
	t.Parallel()
	_, err := Decode("nudge.json", []byte(`{"users":[{"id":"a"}],"unknown":1}`))
	require.Error(t, err)

	_, err = Decode("nudge.json", []byte(`{"users":[{"id":"a"}]} {}`))
	require.ErrorContains(t, err, "trailing data")

	_, err = Decode("nudge.yml", []byte("storage:\n  drvier: file\n"))
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	cfg.Platform.Telegram.Token = "file-token"
	cfg.Storage.DSN = "postgres://file"

	err := ApplyEnv(cfg, map[string]string{
		"NUDGE_TELEGRAM_TOKEN":      "env-token",
		"NUDGE_STREAM_TOKEN_SECRET": "s3cret",
		"NUDGE_LOG_LEVEL":           "debug",
		"NUDGE_STORAGE_DSN":         "  ",
	})
	require.NoError(t, err)
	require.Equal(t, "env-token", cfg.Platform.Telegram.Token)
	require.Equal(t, "s3cret", cfg.Stream.TokenSecret)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "postgres://file", cfg.Storage.DSN)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		edit func(*Config)
		want string
	}{
		{"no users", func(c *Config) { c.Users = nil }, "at least one user"},
		{"duplicate user", func(c *Config) { c.Users = append(c.Users, UserConfig{ID: "alice"}) }, "duplicate"},
		{"bad driver", func(c *Config) { c.Storage.Driver = "mongo" }, "unknown driver"},
		{"bad tail", func(c *Config) { c.Reminder.DueTail = "soon" }, "reminder.due_tail"},
		{"negative duration", func(c *Config) { c.Stream.RetryFloor = "-1s" }, "stream.retry_floor"},
		{"bad source", func(c *Config) { c.Reminder.Groups[0].Sources = []string{"mail"} }, "unknown source"},
		{"stream scheme", func(c *Config) { c.Stream.URL = "https://push.example.com" }, "stream.url"},
		{"telegram token", func(c *Config) { c.Platform.Telegram.Token = "" }, "platform.telegram.token"},
		{"bad timezone", func(c *Config) { c.Reminder.Timezone = "Mars/Olympus" }, "reminder.timezone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Decode("nudge.yaml", []byte(sampleYAML))
			require.NoError(t, err)
			tt.edit(cfg)
			require.ErrorContains(t, Validate(cfg), tt.want)
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	a, err := Decode("nudge.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	b, err := Decode("nudge.yaml", []byte(sampleYAML))
	require.NoError(t, err)

	changed, _ := SummarizeConfigChange(a, b)
	require.Empty(t, changed)

	b.Logging.Level = "debug"
	changed, _ = SummarizeConfigChange(a, b)
	require.Equal(t, []string{"logging"}, changed)
	require.True(t, HotReloadable(changed))

	b.Platform.Telegram.Token = "rotated"
	changed, attrs := SummarizeConfigChange(a, b)
	require.Equal(t, []string{"logging", "platform"}, changed)
	require.False(t, HotReloadable(changed))
	require.Len(t, attrs, 5)
}

func TestWatchPublishesChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nudge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	m := NewConfigManager(path)
	m.SetEnvironment(map[string]string{})
	_, err := m.Load()
	require.NoError(t, err)

	updates := m.Subscribe(1)
	defer m.Unsubscribe(updates)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// give the watcher time to register the directory
	time.Sleep(200 * time.Millisecond)
	changed := sampleYAML + "dispatch:\n  verbose: true\n"
	require.NoError(t, os.WriteFile(path, []byte(changed), 0o600))

	select {
	case cfg := <-updates:
		require.True(t, cfg.Dispatch.Verbose)
		require.Same(t, cfg, m.Get())
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}
}
