package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

var (
	knownDrivers  = []string{"memory", "file", "sqlite", "postgres", "redis"}
	knownSurfaces = []string{"", "none", "log", "telegram"}
	knownSources  = []string{"calendar", "meeting", "document", "activity"}
)

// Validate checks cross-field rules and every duration. All problems are
// reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d != "" && !contains(knownDrivers, d) {
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)
	dur("storage.op_timeout", cfg.Storage.OpTimeout)

	if tz := strings.TrimSpace(cfg.Reminder.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("reminder.timezone: %w", err))
		}
	}
	dur("reminder.default_lead", cfg.Reminder.DefaultLead)
	dur("reminder.due_tail", cfg.Reminder.DueTail)
	groups := map[string]bool{}
	for i, g := range cfg.Reminder.Groups {
		path := fmt.Sprintf("reminder.groups[%d]", i)
		name := strings.TrimSpace(g.Name)
		switch {
		case name == "":
			add(fmt.Errorf("%s.name: required", path))
		case groups[name]:
			add(fmt.Errorf("%s.name: duplicate %q", path, name))
		}
		groups[name] = true
		if strings.TrimSpace(g.Schedule) == "" {
			add(fmt.Errorf("%s.schedule: required", path))
		}
		for _, s := range g.Sources {
			if !contains(knownSources, strings.ToLower(strings.TrimSpace(s))) {
				add(fmt.Errorf("%s.sources: unknown source %q", path, s))
			}
		}
	}

	if raw := strings.TrimSpace(cfg.Sources.BaseURL); raw != "" {
		add(checkURL("sources.base_url", raw, "http", "https"))
	}
	dur("sources.timeout", cfg.Sources.Timeout)

	if cfg.Stream.Enabled {
		if strings.TrimSpace(cfg.Stream.URL) == "" {
			add(errors.New("stream.url: required when stream is enabled"))
		} else {
			add(checkURL("stream.url", cfg.Stream.URL, "ws", "wss"))
		}
	}
	dur("stream.token_ttl", cfg.Stream.TokenTTL)
	dur("stream.retry_floor", cfg.Stream.RetryFloor)
	dur("stream.retry_ceiling", cfg.Stream.RetryCeiling)
	if cfg.Stream.MaxAttempts < 0 {
		add(errors.New("stream.max_attempts: must be >= 0"))
	}

	if cfg.Dispatch.QueueSize < 0 || cfg.Dispatch.ProjectionCap < 0 {
		add(errors.New("dispatch: sizes must be >= 0"))
	}

	surface := strings.ToLower(strings.TrimSpace(cfg.Platform.Surface))
	if !contains(knownSurfaces, surface) {
		add(fmt.Errorf("platform.surface: unknown surface %q", cfg.Platform.Surface))
	}
	if surface == "telegram" && strings.TrimSpace(cfg.Platform.Telegram.Token) == "" {
		add(errors.New("platform.telegram.token: required for the telegram surface"))
	}
	dur("platform.telegram.timeout", cfg.Platform.Telegram.Timeout)
	dur("platform.notifier.retry_base", cfg.Platform.Notifier.RetryBase)
	dur("platform.notifier.retry_max_delay", cfg.Platform.Notifier.RetryMaxDelay)
	dur("platform.notifier.dedup_window", cfg.Platform.Notifier.DedupWindow)

	dur("api.read_header_timeout", cfg.API.ReadHeaderTimeout)
	dur("api.shutdown_timeout", cfg.API.ShutdownTimeout)

	if len(cfg.Users) == 0 {
		add(errors.New("users: at least one user is required"))
	}
	users := map[string]bool{}
	for i, u := range cfg.Users {
		id := strings.TrimSpace(u.ID)
		switch {
		case id == "":
			add(fmt.Errorf("users[%d].id: required", i))
		case users[id]:
			add(fmt.Errorf("users[%d].id: duplicate %q", i, id))
		}
		users[id] = true
	}

	return errors.Join(errs...)
}

func checkURL(path, raw string, schemes ...string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if !contains(schemes, strings.ToLower(u.Scheme)) || u.Host == "" {
		return fmt.Errorf("%s: want %s URL, got %q", path, strings.Join(schemes, " or "), raw)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
