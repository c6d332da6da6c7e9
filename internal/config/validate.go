package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// Validation ranges.
const (
	minRequestTimeout = 1 * time.Second
	minUploadTimeout  = 10 * time.Second
	minConnectTimeout = 1 * time.Second
	minPollInterval   = 1 * time.Second
	maxFileSizeLimit  = 1 * gigabyte
	minParallel       = 1
	maxParallel       = 16
)

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"auto", "text", "json"}
)

// Validate checks every value and returns all problems at once, joined.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateUpload(&cfg.Upload)...)
	errs = append(errs, validatePolling(&cfg.Polling)...)
	errs = append(errs, validateDownload(&cfg.Download)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateServer(s *ServerConfig) []error {
	var errs []error

	if err := validateEnvironment(s.Environment); err != nil {
		errs = append(errs, fmt.Errorf("environment: %w", err))
	}

	if s.BaseURL != "" {
		if err := validateBaseURL(s.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("base_url: %w", err))
		}
	}

	return errs
}

func validateEnvironment(env string) error {
	if env != EnvironmentDevelopment && env != EnvironmentProduction {
		return fmt.Errorf("must be %q or %q, got %q", EnvironmentDevelopment, EnvironmentProduction, env)
	}

	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL %q must use http or https", raw)
	}

	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = appendDurationErr(errs, "request_timeout", n.RequestTimeout, minRequestTimeout)
	errs = appendDurationErr(errs, "upload_timeout", n.UploadTimeout, minUploadTimeout)
	errs = appendDurationErr(errs, "connect_timeout", n.ConnectTimeout, minConnectTimeout)

	if strings.ContainsAny(n.UserAgent, "\r\n") {
		errs = append(errs, errors.New("user_agent: must be a single line"))
	}

	return errs
}

func validateUpload(u *UploadConfig) []error {
	var errs []error

	size, err := ParseSize(u.MaxFileSize)

	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("max_file_size: %w", err))
	case size <= 0:
		errs = append(errs, errors.New("max_file_size: must be greater than zero"))
	case size > maxFileSizeLimit:
		errs = append(errs, fmt.Errorf("max_file_size: must be at most 1GB, got %q", u.MaxFileSize))
	}

	if len(u.DefaultMethods) == 0 {
		errs = append(errs, errors.New("default_methods: must list at least one method"))
	}

	for _, m := range u.DefaultMethods {
		if strings.TrimSpace(m) == "" {
			errs = append(errs, errors.New("default_methods: method names must not be blank"))
		}
	}

	return errs
}

func validatePolling(p *PollingConfig) []error {
	var errs []error

	errs = appendDurationErr(errs, "interval", p.Interval, minPollInterval)

	timeout, err := time.ParseDuration(p.Timeout)
	if err != nil {
		return append(errs, fmt.Errorf("timeout: invalid duration %q: %w", p.Timeout, err))
	}

	if timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout: must not be negative, got %q", p.Timeout))
	}

	return errs
}

func validateDownload(d *DownloadConfig) []error {
	var errs []error

	if d.Dir == "" {
		errs = append(errs, errors.New("dir: must not be empty"))
	}

	if d.Parallel < minParallel || d.Parallel > maxParallel {
		errs = append(errs, fmt.Errorf("parallel: must be between %d and %d, got %d", minParallel, maxParallel, d.Parallel))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !slices.Contains(validLogLevels, l.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level: must be one of %s, got %q", strings.Join(validLogLevels, ", "), l.LogLevel))
	}

	if !slices.Contains(validLogFormats, l.LogFormat) {
		errs = append(errs, fmt.Errorf("log_format: must be one of %s, got %q", strings.Join(validLogFormats, ", "), l.LogFormat))
	}

	return errs
}

func appendDurationErr(errs []error, field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return append(errs, fmt.Errorf("%s: invalid duration %q: %w", field, value, err))
	}

	if d < minimum {
		return append(errs, fmt.Errorf("%s: must be at least %s, got %s", field, minimum, d))
	}

	return errs
}
