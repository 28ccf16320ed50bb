package config

// Config is the whole nudge configuration. Durations are Go duration
// strings ("500ms", "10s", "1h"); empty means the component default.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Reminder ReminderConfig `json:"reminder"`
	Sources  SourcesConfig  `json:"sources"`
	Stream   StreamConfig   `json:"stream"`
	Dispatch DispatchConfig `json:"dispatch"`
	Platform PlatformConfig `json:"platform"`
	API      APIConfig      `json:"api"`
	Users    []UserConfig   `json:"users"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the key-value backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/nudge.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // postgres
	URL         string `json:"url,omitempty"` // redis
	KeyPrefix   string `json:"key_prefix,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	OpTimeout   string `json:"op_timeout,omitempty"`
}

// ReminderConfig controls due evaluation and poll cadence.
//
// Defaults:
//   - timezone: local
//   - default_lead: "15m"
//   - due_tail: "60m"
//   - seen_capacity: 500
//   - history_capacity: 200
//   - groups: "agenda" (calendar, meeting) every 10s and "documents"
//     (document, activity) every 30s
type ReminderConfig struct {
	Timezone        string          `json:"timezone,omitempty"`
	DefaultLead     string          `json:"default_lead,omitempty"`
	DueTail         string          `json:"due_tail,omitempty"`
	SeenCapacity    int             `json:"seen_capacity,omitempty"`
	HistoryCapacity int             `json:"history_capacity,omitempty"`
	Groups          []ReminderGroup `json:"groups,omitempty"`
}

// ReminderGroup polls Sources (calendar, meeting, document, activity) on
// Schedule ("1m", "00:05", "cron:*/30 * * * * *").
type ReminderGroup struct {
	Name     string   `json:"name"`
	Schedule string   `json:"schedule"`
	Sources  []string `json:"sources"`
}

// SourcesConfig points at the backend read endpoints. Paths may contain a
// {user} placeholder; an empty path disables that source.
type SourcesConfig struct {
	BaseURL      string `json:"base_url"`
	CalendarPath string `json:"calendar_path,omitempty"`
	MeetingPath  string `json:"meeting_path,omitempty"`
	DocumentPath string `json:"document_path,omitempty"`
	ActivityPath string `json:"activity_path,omitempty"`
	Timeout      string `json:"timeout,omitempty"`
	// TokenSecret signs per-user bearer tokens for backend calls.
	TokenSecret string `json:"token_secret,omitempty"`
}

type StreamConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url,omitempty"`
	Origin  string `json:"origin,omitempty"`
	// TokenSecret signs the bearer token presented on dial.
	TokenSecret  string `json:"token_secret,omitempty"`
	TokenTTL     string `json:"token_ttl,omitempty"`
	RetryFloor   string `json:"retry_floor,omitempty"`
	RetryCeiling string `json:"retry_ceiling,omitempty"`
	// MaxAttempts bounds consecutive failures; 0 retries forever.
	MaxAttempts int `json:"max_attempts,omitempty"`
}

type DispatchConfig struct {
	QueueSize     int    `json:"queue_size,omitempty"`
	ProjectionCap int    `json:"projection_cap,omitempty"`
	AppBaseURL    string `json:"app_base_url,omitempty"`
	Verbose       bool   `json:"verbose,omitempty"`
}

// PlatformConfig selects the OS-level surface: "none", "log" or
// "telegram".
type PlatformConfig struct {
	Surface  string         `json:"surface"`
	Telegram TelegramConfig `json:"telegram"`
	Notifier NotifierConfig `json:"notifier"`
}

type TelegramConfig struct {
	Token      string `json:"token,omitempty"`
	APIURL     string `json:"api_url,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
	ButtonText string `json:"button_text,omitempty"`
}

// NotifierConfig controls the async delivery pipeline in front of the
// surface.
type NotifierConfig struct {
	Workers       int     `json:"workers,omitempty"`
	QueueSize     int     `json:"queue_size,omitempty"`
	RatePerSec    float64 `json:"rate_per_sec,omitempty"`
	RetryMax      int     `json:"retry_max,omitempty"`
	RetryBase     string  `json:"retry_base,omitempty"`
	RetryMaxDelay string  `json:"retry_max_delay,omitempty"`
	DedupWindow   string  `json:"dedup_window,omitempty"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8080"
	// TokenSecret enables bearer auth on /api/users/{userID}/...
	TokenSecret string `json:"token_secret,omitempty"`
	Issuer      string `json:"issuer,omitempty"`
	Profiler    bool   `json:"profiler,omitempty"`

	ReadHeaderTimeout string `json:"read_header_timeout,omitempty"`
	ShutdownTimeout   string `json:"shutdown_timeout,omitempty"`
}

type UserConfig struct {
	ID             string `json:"id"`
	Privileged     bool   `json:"privileged,omitempty"`
	TelegramChatID int64  `json:"telegram_chat_id,omitempty"`
}
