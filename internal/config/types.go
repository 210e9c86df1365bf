package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Bootstrap BootstrapConfig `json:"bootstrap"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// BootstrapConfig identifies the creator operator.
//
// The creator record is upserted once at startup and is never deletable.
type BootstrapConfig struct {
	CreatorID   int64  `json:"creator_id"`
	CreatorName string `json:"creator_name,omitempty"`
}

// SchedulerConfig controls the per-minute poll dispatch loop.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// UTCOffset is the fixed wall-clock offset used to compute the local
	// day and time for schedule matching, e.g. "+03:00" or "-05:30".
	// Empty means UTC.
	UTCOffset string `json:"utc_offset,omitempty"`

	// SendRatePerSec bounds outbound poll sends (Telegram flood control).
	// 0 means the default of 1 message per second.
	SendRatePerSec int `json:"send_rate_per_sec,omitempty"`

	// DispatchTimeout is a Go duration string bounding one gateway send.
	DispatchTimeout string `json:"dispatch_timeout,omitempty"`

	// Anonymous is the default anonymity flag for newly created polls.
	// Pointer so that "omitted" defaults to true.
	Anonymous *bool `json:"anonymous,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "postgres": PostgreSQL via DSN
//   - "memory": in-process only (tests/dev; not shared, not durable)
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
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

// DefaultAnonymous resolves the scheduler anonymity default.
func (c SchedulerConfig) DefaultAnonymous() bool {
	if c.Anonymous == nil {
		return true
	}
	return *c.Anonymous
}
