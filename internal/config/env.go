package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig      = "MSEVAL_CONFIG"
	EnvBaseURL     = "MSEVAL_BASE_URL"
	EnvEnvironment = "MSEVAL_ENV"
	EnvSessionFile = "MSEVAL_SESSION_FILE"
)

// EnvOverrides holds values read from environment variables. Empty strings
// mean the variable was unset.
type EnvOverrides struct {
	ConfigPath  string
	BaseURL     string
	Environment string
	SessionFile string
}

// ReadEnvOverrides reads the MSEVAL_* variables.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:  os.Getenv(EnvConfig),
		BaseURL:     os.Getenv(EnvBaseURL),
		Environment: os.Getenv(EnvEnvironment),
		SessionFile: os.Getenv(EnvSessionFile),
	}
}
