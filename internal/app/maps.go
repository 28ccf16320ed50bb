package app

import (
	"fmt"
	"strings"
	"time"

	"nudge/internal/auth"
	"nudge/internal/config"
	"nudge/internal/dispatch"
	"nudge/internal/notification"
	"nudge/internal/notifier"
	"nudge/internal/reminder"
	"nudge/internal/reminder/backend"
	"nudge/internal/session"
	"nudge/internal/storage"
	"nudge/internal/stream"
	"nudge/internal/transport/telegram"
	logx "nudge/pkg/logx"
)

const (
	defaultTokenTTL = 5 * time.Minute
	apiTokenTTL     = time.Hour
	tokenIssuer     = "nudge"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorage(cfg *config.Config) storage.Config {
	sc := cfg.Storage
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		URL:         strings.TrimSpace(sc.URL),
		KeyPrefix:   sc.KeyPrefix,
		BusyTimeout: config.Duration(sc.BusyTimeout, 0),
		OpTimeout:   config.Duration(sc.OpTimeout, 0),
	}
}

func mapLocation(cfg *config.Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.Reminder.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

// mapBackend returns nil when no base URL is configured.
func mapBackend(cfg *config.Config, log logx.Logger) (*backend.Client, error) {
	sc := cfg.Sources
	if strings.TrimSpace(sc.BaseURL) == "" {
		return nil, nil
	}
	opts := []backend.Option{backend.WithLogger(log)}
	if secret := strings.TrimSpace(sc.TokenSecret); secret != "" {
		tokens, err := auth.NewTokens(secret, tokenIssuer, "nudge-backend", defaultTokenTTL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, backend.WithToken(tokens.Issue))
	}
	return backend.New(backend.Config{
		BaseURL:      sc.BaseURL,
		CalendarPath: sc.CalendarPath,
		MeetingPath:  sc.MeetingPath,
		DocumentPath: sc.DocumentPath,
		ActivityPath: sc.ActivityPath,
		Timeout:      config.Duration(sc.Timeout, 0),
	}, opts...)
}

func sourceFor(b *backend.Client, kind notification.Category) reminder.Source {
	switch kind {
	case notification.CategoryCalendar:
		return b.Calendar()
	case notification.CategoryMeeting:
		return b.Meetings()
	case notification.CategoryDocument:
		return b.Documents()
	default:
		return b.Activity()
	}
}

// defaultGroups poll calendar and meetings every 10s and uploads every 30s.
var defaultGroups = []config.ReminderGroup{
	{Name: "agenda", Schedule: "10s", Sources: []string{"calendar", "meeting"}},
	{Name: "documents", Schedule: "30s", Sources: []string{"document", "activity"}},
}

// mapGroups binds configured group source names to backend sources. With
// no groups configured defaultGroups apply.
func mapGroups(cfg *config.Config, b *backend.Client) ([]reminder.Group, error) {
	if b == nil {
		return nil, nil
	}
	groups := cfg.Reminder.Groups
	if len(groups) == 0 {
		groups = defaultGroups
	}

	out := make([]reminder.Group, 0, len(groups))
	for _, g := range groups {
		rg := reminder.Group{Name: strings.TrimSpace(g.Name), Schedule: g.Schedule}
		for _, name := range g.Sources {
			kind, ok := notification.ParseCategory(name)
			if !ok {
				return nil, fmt.Errorf("reminder group %q: unknown source %q", g.Name, name)
			}
			if b.Enabled(kind) {
				rg.Sources = append(rg.Sources, sourceFor(b, kind))
			}
		}
		if len(rg.Sources) > 0 {
			out = append(out, rg)
		}
	}
	return out, nil
}

// mapStream returns nil when the push channel is disabled.
func mapStream(cfg *config.Config, rec stream.Recorder, log logx.Logger) (*stream.Client, error) {
	sc := cfg.Stream
	if !sc.Enabled {
		return nil, nil
	}
	d := stream.WebSocketDialer{URL: sc.URL, Origin: sc.Origin}
	if secret := strings.TrimSpace(sc.TokenSecret); secret != "" {
		tokens, err := auth.NewTokens(secret, tokenIssuer, "nudge-stream", config.Duration(sc.TokenTTL, defaultTokenTTL))
		if err != nil {
			return nil, err
		}
		d.Token = tokens.Issue
	}
	return stream.NewClient(d, stream.Config{
		RetryFloor:   config.Duration(sc.RetryFloor, stream.DefaultRetryFloor),
		RetryCeiling: config.Duration(sc.RetryCeiling, stream.DefaultRetryCeiling),
		MaxAttempts:  sc.MaxAttempts,
	}, stream.WithLogger(log), stream.WithRecorder(rec)), nil
}

func mapNotifier(cfg *config.Config) notifier.Config {
	nc := cfg.Platform.Notifier
	return notifier.Config{
		Workers:       nc.Workers,
		QueueSize:     nc.QueueSize,
		RatePerSec:    nc.RatePerSec,
		RetryMax:      nc.RetryMax,
		RetryBase:     config.Duration(nc.RetryBase, 0),
		RetryMaxDelay: config.Duration(nc.RetryMaxDelay, 0),
		DedupWindow:   config.Duration(nc.DedupWindow, 0),
	}
}

func mapTelegram(cfg *config.Config) telegram.Config {
	tc := cfg.Platform.Telegram
	chats := make(map[string]int64, len(cfg.Users))
	for _, u := range cfg.Users {
		if u.TelegramChatID != 0 {
			chats[strings.TrimSpace(u.ID)] = u.TelegramChatID
		}
	}
	return telegram.Config{
		Token:      tc.Token,
		APIURL:     tc.APIURL,
		Timeout:    config.Duration(tc.Timeout, 0),
		ButtonText: tc.ButtonText,
		Chats:      chats,
	}
}

// mapAPITokens returns nil when API auth is off.
func mapAPITokens(cfg *config.Config) (*auth.Tokens, error) {
	secret := strings.TrimSpace(cfg.API.TokenSecret)
	if secret == "" {
		return nil, nil
	}
	issuer := strings.TrimSpace(cfg.API.Issuer)
	if issuer == "" {
		issuer = tokenIssuer
	}
	return auth.NewTokens(secret, issuer, "nudge-api", apiTokenTTL)
}

func mapSession(cfg *config.Config, u config.UserConfig, groups []reminder.Group, loc *time.Location) session.Config {
	return session.Config{
		UserID:       strings.TrimSpace(u.ID),
		SeenCapacity: cfg.Reminder.SeenCapacity,
		Dispatch: dispatch.Config{
			ProjectionCap: cfg.Dispatch.ProjectionCap,
			QueueSize:     cfg.Dispatch.QueueSize,
			AppBaseURL:    cfg.Dispatch.AppBaseURL,
			Verbose:       cfg.Dispatch.Verbose,
		},
		Poller: reminder.Config{
			Privileged:  u.Privileged,
			DefaultLead: config.Duration(cfg.Reminder.DefaultLead, reminder.DefaultLead),
			Tail:        config.Duration(cfg.Reminder.DueTail, reminder.DefaultDueTail),
			Location:    loc,
			Groups:      groups,
		},
	}
}
