package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and validates the TOML file at path. Keys missing from the file
// keep their defaults; unknown keys are an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
// First runs work without any config file.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return cfg, err
}

// Resolve applies the four layers and returns the effective configuration.
// The config path itself is chosen by --config, then MSEVAL_CONFIG, then
// the platform default.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	path := firstNonEmpty(cli.ConfigPath, env.ConfigPath, DefaultConfigPath())

	var (
		cfg *Config
		err error
	)

	// An explicitly named config file must exist.
	if cli.ConfigPath != "" || env.ConfigPath != "" {
		cfg, err = Load(path)
	} else {
		cfg, err = LoadOrDefault(path)
	}

	if err != nil {
		return nil, err
	}

	if env.Environment != "" {
		cfg.Server.Environment = env.Environment
	}

	if err := validateEnvironment(cfg.Server.Environment); err != nil {
		return nil, fmt.Errorf("config: %s: %w", EnvEnvironment, err)
	}

	baseURL := firstNonEmpty(env.BaseURL, cfg.Server.BaseURL, BaseURLFor(cfg.Server.Environment))
	if cli.BaseURL != nil && *cli.BaseURL != "" {
		baseURL = *cli.BaseURL
	}

	if err := validateBaseURL(baseURL); err != nil {
		return nil, fmt.Errorf("config: base url: %w", err)
	}

	return resolve(cfg, path, baseURL, firstNonEmpty(env.SessionFile, DefaultSessionPath()))
}

// resolve parses the already-validated string values.
func resolve(cfg *Config, path, baseURL, sessionPath string) (*Resolved, error) {
	r := &Resolved{
		ConfigPath:       path,
		SessionPath:      sessionPath,
		HistoryPath:      DefaultHistoryPath(),
		BaseURL:          strings.TrimRight(baseURL, "/"),
		Environment:      cfg.Server.Environment,
		UserAgent:        cfg.Network.UserAgent,
		DefaultMethods:   cfg.Upload.DefaultMethods,
		DownloadDir:      cfg.Download.Dir,
		DownloadParallel: cfg.Download.Parallel,
		LogLevel:         cfg.Logging.LogLevel,
		LogFormat:        cfg.Logging.LogFormat,
		LogFile:          cfg.Logging.LogFile,
	}

	durations := []struct {
		value string
		dst   *time.Duration
	}{
		{cfg.Network.RequestTimeout, &r.RequestTimeout},
		{cfg.Network.UploadTimeout, &r.UploadTimeout},
		{cfg.Network.ConnectTimeout, &r.ConnectTimeout},
		{cfg.Polling.Interval, &r.PollInterval},
		{cfg.Polling.Timeout, &r.PollTimeout},
	}

	for _, d := range durations {
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}

		*d.dst = v
	}

	size, err := ParseSize(cfg.Upload.MaxFileSize)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	r.MaxFileSize = size

	return r, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
