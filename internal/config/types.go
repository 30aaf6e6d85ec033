package config

// Config is the daemon's file configuration. YAML and JSON are both accepted;
// YAML is coerced to JSON so one strict decoder covers both. All durations are
// Go duration strings (e.g. "5m", "25h").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Triggers  TriggersConfig  `json:"triggers"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Fanout    FanoutConfig    `json:"fanout"`
	Transport TransportConfig `json:"transport"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LogFileConfig `json:"file"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// TriggersConfig wires the batch entry points to the external periodic
// trigger. Specs are 5-field cron expressions or descriptors ("@every 5m").
type TriggersConfig struct {
	SchedulerSpec string `json:"scheduler_spec,omitempty"` // default "@every 5m"
	DispatchSpec  string `json:"dispatch_spec,omitempty"`  // default "@every 1m"
	FanoutSpec    string `json:"fanout_spec,omitempty"`    // default "@every 1m"
	RunTimeout    string `json:"run_timeout,omitempty"`    // per-run deadline, default "2m"
}

type SchedulerConfig struct {
	// Window is the look-ahead; it must cover the longest lead time plus
	// slack (default "25h").
	Window string `json:"window,omitempty"`
	// Slack should match the scheduler trigger interval (default "5m").
	Slack       string `json:"slack,omitempty"`
	Workers     int    `json:"workers,omitempty"`
	DefaultLead string `json:"default_lead_minutes,omitempty"` // CSV, default "60"
}

type DispatchConfig struct {
	BatchSize      int      `json:"batch_size,omitempty"`
	RatePerSec     int      `json:"rate_per_sec,omitempty"`
	ReminderCutoff string   `json:"reminder_cutoff,omitempty"` // default "1m"
	SkipDomains    []string `json:"skip_domains,omitempty"`
}

type FanoutConfig struct {
	AnnouncerUserID int64 `json:"announcer_user_id,omitempty"`
	RatePerSec      int   `json:"rate_per_sec,omitempty"`
}

// TransportConfig selects the delivery adapter. Driver "none" logs instead of
// sending (useful for dry runs and local development).
type TransportConfig struct {
	Driver   string         `json:"driver"` // "none" | "telegram"
	Telegram TelegramConfig `json:"telegram,omitempty"`
}

type TelegramConfig struct {
	Token   string `json:"token"`
	Timeout string `json:"timeout,omitempty"`
}
