package config

// Environments.
const (
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"
)

// Default backend URLs per environment.
const (
	DevelopmentBaseURL = "http://localhost:8000/api"
	ProductionBaseURL  = "https://api.mseval.app/api"
)

// Default values for configuration options.
const (
	defaultEnvironment    = EnvironmentDevelopment
	defaultRequestTimeout = "30s"
	defaultUploadTimeout  = "300s"
	defaultConnectTimeout = "10s"
	defaultMaxFileSize    = "25MB"
	defaultMethod         = "standard"
	defaultPollInterval   = "5s"
	defaultPollTimeout    = "30m"
	defaultDownloadDir    = "."
	defaultParallel       = 4
	defaultLogLevel       = "warn"
	defaultLogFormat      = "auto"
)

// DefaultConfig returns a Config populated with every default. Used when no
// config file exists and as the base the TOML file is decoded onto.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Environment: defaultEnvironment,
		},
		Network: NetworkConfig{
			RequestTimeout: defaultRequestTimeout,
			UploadTimeout:  defaultUploadTimeout,
			ConnectTimeout: defaultConnectTimeout,
		},
		Upload: UploadConfig{
			MaxFileSize:    defaultMaxFileSize,
			DefaultMethods: []string{defaultMethod},
		},
		Polling: PollingConfig{
			Interval: defaultPollInterval,
			Timeout:  defaultPollTimeout,
		},
		Download: DownloadConfig{
			Dir:      defaultDownloadDir,
			Parallel: defaultParallel,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}

// BaseURLFor returns the default backend URL for an environment.
func BaseURLFor(environment string) string {
	if environment == EnvironmentProduction {
		return ProductionBaseURL
	}

	return DevelopmentBaseURL
}
