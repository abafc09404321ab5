package config

// Config is the root configuration document.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "5m").
type Config struct {
	// Timezone is the IANA zone used to interpret upstream month-day dates,
	// e.g. "Asia/Shanghai".
	Timezone string `json:"timezone"`

	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Source   SourceConfig   `json:"source"`
	Telegram TelegramConfig `json:"telegram"`
	Watch    WatchConfig    `json:"watch"`
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

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./matchwatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SourceConfig configures the upstream match data API client.
type SourceConfig struct {
	BaseURL    string `json:"base_url"`
	Timeout    string `json:"timeout,omitempty"`      // per-request; default "15s"
	RatePerMin int    `json:"rate_per_min,omitempty"` // upstream request budget; default 12
	UserAgent  string `json:"user_agent,omitempty"`
}

// TelegramConfig configures the Telegram notification sink.
type TelegramConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// WatchConfig tunes the polling orchestrator.
//
// Defaults (when fields are omitted/zero):
//   - min_interval: "5m"
//   - upcoming_window: "24h"
//   - end_grace: "24h"
//   - overdue_threshold: "15m"
//   - post_live_grace: "30m"
//   - fetch_retries: 3
//   - fetch_backoff: "2s"
type WatchConfig struct {
	MinInterval      string `json:"min_interval,omitempty"`
	UpcomingWindow   string `json:"upcoming_window,omitempty"`
	EndGrace         string `json:"end_grace,omitempty"`
	OverdueThreshold string `json:"overdue_threshold,omitempty"`
	PostLiveGrace    string `json:"post_live_grace,omitempty"`
	FetchRetries     int    `json:"fetch_retries,omitempty"`
	FetchBackoff     string `json:"fetch_backoff,omitempty"`
}
