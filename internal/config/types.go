package config

// Config is the on-disk configuration document (JSON or YAML).
//
// Durations are Go duration strings ("30m", "20s"). Every section is
// optional; env overrides fill in what the file leaves out.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Poller    PollerConfig    `json:"poller"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Storage   StorageConfig   `json:"storage"`
	Status    StatusConfig    `json:"status"`

	// Sources replaces the built-in catalog when non-empty.
	Sources []SourceConfig `json:"sources,omitempty"`
	// SteamAPIBase overrides the Steam Web API base URL.
	SteamAPIBase string `json:"steam_api_base,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is the long-poll timeout (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
	APIURL      string `json:"api_url,omitempty"`
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

// PollerConfig controls the polling cadence.
//
// Defaults:
//   - interval: "30m"
//   - fetch_timeout: "20s"
//   - identity: "title"
//
// A non-empty schedule (cron expression) replaces interval.
type PollerConfig struct {
	Interval     string `json:"interval,omitempty"`
	Schedule     string `json:"schedule,omitempty"`
	FetchTimeout string `json:"fetch_timeout,omitempty"`
	Identity     string `json:"identity,omitempty"`
}

type BroadcastConfig struct {
	Workers     int    `json:"workers,omitempty"`
	QueueSize   int    `json:"queue_size,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

// StorageConfig selects the persistence backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./patchbell.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// StatusConfig controls the read-only status HTTP server.
// Prefer a loopback address.
type StatusConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8089"
}

type SourceConfig struct {
	Key     string `json:"key"`
	Family  string `json:"family"`
	Locator string `json:"locator"`
	Name    string `json:"name,omitempty"`
}
