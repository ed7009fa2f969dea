// Package config loads, validates and watches the bot configuration file.
package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("10s", "2m") so the JSON and YAML forms look the same.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Source   SourceConfig   `json:"source"`
	Schedule ScheduleConfig `json:"schedule"`
	Fanout   FanoutConfig   `json:"fanout"`
	Storage  StorageConfig  `json:"storage"`
	Health   HealthConfig   `json:"health"`
	Logging  LoggingConfig  `json:"logging"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// LogChatID receives log lines when logging.telegram is enabled.
	LogChatID   int64  `json:"log_chat_id,omitempty"`
	DropPending *bool  `json:"drop_pending,omitempty"` // default true
	APIURL      string `json:"api_url,omitempty"`
}

type SourceConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	Path    string `json:"path,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// ScheduleConfig controls when the poller checks for a new draw.
//
// Spec, when set, wins over At/Weekdays and accepts cron expressions
// ("cron:0 30 21 * * 2,5") or intervals ("every:15m", "15m", or "HH:MM"
// read as an interval, so "21:30" means every 21h30m). Use At for a time
// of day.
type ScheduleConfig struct {
	Spec         string   `json:"spec,omitempty"`
	At           string   `json:"at,omitempty"`
	Timezone     string   `json:"timezone,omitempty"`
	Weekdays     []string `json:"weekdays,omitempty"`
	CheckOnStart *bool    `json:"check_on_start,omitempty"` // default true
	TickTimeout  string   `json:"tick_timeout,omitempty"`
	OnRegression string   `json:"on_regression,omitempty"` // skip | announce
}

type FanoutConfig struct {
	Concurrency int    `json:"concurrency,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

// StorageConfig selects the registration and draw-cache backend.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // memory | file | sqlite | redis
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	RedisURL    string `json:"redis_url,omitempty"`
	KeyPrefix   string `json:"key_prefix,omitempty"` // redis
	AuditMax    int    `json:"audit_max,omitempty"`  // redis
}

type HealthConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level,omitempty"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}
