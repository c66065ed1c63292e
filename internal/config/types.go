package config

// Config is the full on-disk configuration. Files may be JSON or YAML;
// unknown fields are rejected so typos fail fast at startup.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Reminders RemindersConfig `json:"reminders"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`

	// AdminIDs lists Telegram user ids allowed to run admin commands
	// (template CRUD, quiz management).
	AdminIDs []int64 `json:"admin_ids,omitempty"`

	// SendRatePerSec caps outbound messages per second (default 25,
	// slightly under Telegram's global limit).
	SendRatePerSec int `json:"send_rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console bool          `json:"console,omitempty"`
	File    FileLogConfig `json:"file,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	Path string `json:"path"`

	// BusyTimeout is a Go duration string; 0 means the sqlite default.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// RemindersConfig controls the reminder scheduler.
//
// All durations are Go duration strings (e.g. "15m", "24h").
type RemindersConfig struct {
	// Timezone is an IANA TZ name, e.g. "Europe/Moscow". Empty means local.
	Timezone string `json:"timezone,omitempty"`

	// RetryInterval between repeat sends of an unconfirmed reminder
	// (default "15m").
	RetryInterval string `json:"retry_interval,omitempty"`

	// MaxRetries is the number of repeat messages before a reminder is
	// marked missed (default 3).
	MaxRetries int `json:"max_retries,omitempty"`

	// MaxDelayedTasks bounds the in-memory continuation timer map
	// (default 1000).
	MaxDelayedTasks int `json:"max_delayed_tasks,omitempty"`

	// DelayedTaskTTL is the age after which armed continuation timers are
	// evicted first when the map is full (default "24h").
	DelayedTaskTTL string `json:"delayed_task_ttl,omitempty"`
}
