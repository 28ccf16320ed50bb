package config

import (
	"strings"

	"github.com/caarlos0/env/v11"
)

// secrets are overlaid from the environment after decoding, so files can
// stay free of tokens.
type secrets struct {
	TelegramToken      string `env:"NUDGE_TELEGRAM_TOKEN"`
	StreamTokenSecret  string `env:"NUDGE_STREAM_TOKEN_SECRET"`
	APITokenSecret     string `env:"NUDGE_API_TOKEN_SECRET"`
	SourcesTokenSecret string `env:"NUDGE_SOURCES_TOKEN_SECRET"`
	StorageDSN         string `env:"NUDGE_STORAGE_DSN"`
	StorageURL         string `env:"NUDGE_STORAGE_URL"`
	LogLevel           string `env:"NUDGE_LOG_LEVEL"`
}

// ApplyEnv overlays non-empty variables onto cfg. environ nil reads the
// process environment.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	var s secrets
	if err := env.ParseWithOptions(&s, env.Options{Environment: environ}); err != nil {
		return err
	}
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Platform.Telegram.Token, s.TelegramToken)
	set(&cfg.Stream.TokenSecret, s.StreamTokenSecret)
	set(&cfg.API.TokenSecret, s.APITokenSecret)
	set(&cfg.Sources.TokenSecret, s.SourcesTokenSecret)
	set(&cfg.Storage.DSN, s.StorageDSN)
	set(&cfg.Storage.URL, s.StorageURL)
	set(&cfg.Logging.Level, s.LogLevel)
	return nil
}
