package config

import (
	"reflect"
	"strings"

	logx "nudge/pkg/logx"
)

// SummarizeConfigChange lists changed sections and safe attributes for a
// reload log line. Secrets are reported only as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)
	set := func(s string) bool { return strings.TrimSpace(s) != "" }

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if !reflect.DeepEqual(oldCfg.Reminder, newCfg.Reminder) {
		changed = append(changed, "reminder")
		attrs = append(attrs,
			logx.String("reminder.due_tail", newCfg.Reminder.DueTail),
			logx.Int("reminder.groups", len(newCfg.Reminder.Groups)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Sources, newCfg.Sources) {
		changed = append(changed, "sources")
		attrs = append(attrs,
			logx.String("sources.base_url", newCfg.Sources.BaseURL),
			logx.Bool("sources.token_set", set(newCfg.Sources.TokenSecret)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Stream, newCfg.Stream) {
		changed = append(changed, "stream")
		attrs = append(attrs,
			logx.Bool("stream.enabled", newCfg.Stream.Enabled),
			logx.Int("stream.max_attempts", newCfg.Stream.MaxAttempts),
			logx.Bool("stream.token_set", set(newCfg.Stream.TokenSecret)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Dispatch, newCfg.Dispatch) {
		changed = append(changed, "dispatch")
		attrs = append(attrs, logx.Bool("dispatch.verbose", newCfg.Dispatch.Verbose))
	}
	if !reflect.DeepEqual(oldCfg.Platform, newCfg.Platform) {
		changed = append(changed, "platform")
		attrs = append(attrs,
			logx.String("platform.surface", newCfg.Platform.Surface),
			logx.Bool("platform.telegram.token_set", set(newCfg.Platform.Telegram.Token)),
		)
	}
	if !reflect.DeepEqual(oldCfg.API, newCfg.API) {
		changed = append(changed, "api")
		attrs = append(attrs,
			logx.Bool("api.enabled", newCfg.API.Enabled),
			logx.String("api.addr", newCfg.API.Addr),
			logx.Bool("api.token_set", set(newCfg.API.TokenSecret)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Users, newCfg.Users) {
		changed = append(changed, "users")
		attrs = append(attrs, logx.Int("users", len(newCfg.Users)))
	}
	return changed, attrs
}

// HotReloadable reports whether every changed section can be applied
// without a restart.
func HotReloadable(changed []string) bool {
	for _, s := range changed {
		if s != "logging" {
			return false
		}
	}
	return true
}
