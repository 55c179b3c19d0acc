package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Timers   TimersConfig   `json:"timers"`
	Notifier NotifierConfig `json:"notifier"`
	Storage  StorageConfig  `json:"storage"`

	// Reminders tunes the reminder engine itself.
	Reminders RemindersConfig `json:"reminders"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is an optional chat id (as string) receiving warn+ log lines.
	GroupLog string `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// TimersConfig controls the timer service (one-shot jobs + maintenance cron).
type TimersConfig struct {
	Workers int `json:"workers"`
	// DefaultTimeout is a Go duration string; "0s" disables the per-job timeout.
	DefaultTimeout string `json:"default_timeout"`
	// Timezone is the canonical IANA zone for all reminder instants.
	// Empty means the process-local zone.
	Timezone string `json:"timezone,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
// All durations are Go duration strings (e.g. "500ms", "10s").
type NotifierConfig struct {
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

type RemindersConfig struct {
	// Grace is the forward bump applied to one-time reminders whose computed
	// instant is not strictly in the future. Default "5m".
	Grace string `json:"grace,omitempty"`
	// DefaultHour is the hour used for "on <date>" expressions without a time.
	DefaultHour int `json:"default_hour,omitempty"`
	// ModifierHour is the hour used for first/last-day-of-month schedules.
	ModifierHour int `json:"modifier_hour,omitempty"`
}
