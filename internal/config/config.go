// Package config implements TOML configuration loading, validation, and
// override resolution for mseval. Values are layered: built-in defaults,
// then the config file, then environment variables, then CLI flags.
package config

import "time"

// Config is the top-level TOML document. Every section is optional; missing
// keys keep their defaults.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Network  NetworkConfig  `toml:"network"`
	Upload   UploadConfig   `toml:"upload"`
	Polling  PollingConfig  `toml:"polling"`
	Download DownloadConfig `toml:"download"`
	Logging  LoggingConfig  `toml:"logging"`
}

// ServerConfig selects the backend. An empty BaseURL means the default for
// Environment.
type ServerConfig struct {
	BaseURL     string `toml:"base_url"`
	Environment string `toml:"environment"`
}

// NetworkConfig holds HTTP client settings. Durations are Go duration
// strings ("30s", "5m").
type NetworkConfig struct {
	RequestTimeout string `toml:"request_timeout"`
	UploadTimeout  string `toml:"upload_timeout"`
	ConnectTimeout string `toml:"connect_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// UploadConfig controls manuscript submission.
type UploadConfig struct {
	MaxFileSize    string   `toml:"max_file_size"`
	DefaultMethods []string `toml:"default_methods"`
}

// PollingConfig controls how "evaluate --wait" and "wait" poll for results.
type PollingConfig struct {
	Interval string `toml:"interval"`
	Timeout  string `toml:"timeout"`
}

// DownloadConfig controls report downloads.
type DownloadConfig struct {
	Dir      string `toml:"dir"`
	Parallel int    `toml:"parallel"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogFile   string `toml:"log_file"`
}

// CLIOverrides holds values from command-line flags. Nil pointers mean the
// flag was not given.
type CLIOverrides struct {
	ConfigPath string
	BaseURL    *string
}

// Resolved is the effective configuration after all layers are applied, with
// durations and sizes already parsed.
type Resolved struct {
	ConfigPath  string `json:"config_path"`
	SessionPath string `json:"session_path"`
	HistoryPath string `json:"history_path"`

	BaseURL     string `json:"base_url"`
	Environment string `json:"environment"`

	RequestTimeout time.Duration `json:"request_timeout"`
	UploadTimeout  time.Duration `json:"upload_timeout"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	UserAgent      string        `json:"user_agent,omitempty"`

	MaxFileSize    int64    `json:"max_file_size"`
	DefaultMethods []string `json:"default_methods"`

	PollInterval time.Duration `json:"poll_interval"`
	PollTimeout  time.Duration `json:"poll_timeout"`

	DownloadDir      string `json:"download_dir"`
	DownloadParallel int    `json:"download_parallel"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
	LogFile   string `json:"log_file,omitempty"`
}
