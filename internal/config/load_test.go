package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

// isolateDirs points the platform directories at a temp home so tests never
// read the developer's real config.
func isolateDirs(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, "data"))

	return home
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeTestConfig(t, `
[server]
base_url = "https://staging.mseval.app/api"
environment = "production"

[network]
request_timeout = "45s"
upload_timeout = "10m"
connect_timeout = "5s"
user_agent = "mseval-ci/1.0"

[upload]
max_file_size = "50MB"
default_methods = ["standard", "rubric"]

[polling]
interval = "2s"
timeout = "1h"

[download]
dir = "/tmp/reports"
parallel = 8

[logging]
log_level = "debug"
log_format = "json"
log_file = "/tmp/mseval.log"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://staging.mseval.app/api", cfg.Server.BaseURL)
	assert.Equal(t, EnvironmentProduction, cfg.Server.Environment)
	assert.Equal(t, "10m", cfg.Network.UploadTimeout)
	assert.Equal(t, "mseval-ci/1.0", cfg.Network.UserAgent)
	assert.Equal(t, []string{"standard", "rubric"}, cfg.Upload.DefaultMethods)
	assert.Equal(t, "1h", cfg.Polling.Timeout)
	assert.Equal(t, 8, cfg.Download.Parallel)
	assert.Equal(t, "json", cfg.Logging.LogFormat)
	assert.Equal(t, "/tmp/mseval.log", cfg.Logging.LogFile)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, "[download]\nparallel = 2\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	want := DefaultConfig()
	want.Download.Parallel = 2
	assert.Equal(t, want, cfg)
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTestConfig(t, "[server\nbase_url = 1")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing")
}

func TestLoad_ValidationErrorsAreJoined(t *testing.T) {
	path := writeTestConfig(t, `
[network]
request_timeout = "soon"

[download]
parallel = 0

[logging]
log_level = "loud"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request_timeout")
	assert.Contains(t, err.Error(), "parallel")
	assert.Contains(t, err.Error(), "log_level")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolve_Defaults(t *testing.T) {
	home := isolateDirs(t)

	r, err := Resolve(EnvOverrides{}, CLIOverrides{})
	require.NoError(t, err)

	assert.Equal(t, DevelopmentBaseURL, r.BaseURL)
	assert.Equal(t, EnvironmentDevelopment, r.Environment)
	assert.Equal(t, 30*time.Second, r.RequestTimeout)
	assert.Equal(t, 300*time.Second, r.UploadTimeout)
	assert.Equal(t, 10*time.Second, r.ConnectTimeout)
	assert.Equal(t, int64(25_000_000), r.MaxFileSize)
	assert.Equal(t, []string{"standard"}, r.DefaultMethods)
	assert.Equal(t, 5*time.Second, r.PollInterval)
	assert.Equal(t, 30*time.Minute, r.PollTimeout)
	assert.Equal(t, 4, r.DownloadParallel)
	assert.Equal(t, "auto", r.LogFormat)

	if isXDGPlatform() {
		assert.Equal(t, filepath.Join(home, "config", appName, "config.toml"), r.ConfigPath)
		assert.Equal(t, filepath.Join(home, "data", appName, "session.json"), r.SessionPath)
		assert.Equal(t, filepath.Join(home, "data", appName, "history.db"), r.HistoryPath)
	}
}

func TestResolve_ProductionEnvironment(t *testing.T) {
	isolateDirs(t)

	r, err := Resolve(EnvOverrides{Environment: EnvironmentProduction}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, ProductionBaseURL, r.BaseURL)
}

func TestResolve_BaseURLPrecedence(t *testing.T) {
	isolateDirs(t)

	path := writeTestConfig(t, "[server]\nbase_url = \"https://file.example/api\"\n")

	fromFile, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, "https://file.example/api", fromFile.BaseURL)

	fromEnv, err := Resolve(EnvOverrides{BaseURL: "https://env.example/api/"}, CLIOverrides{ConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, "https://env.example/api", fromEnv.BaseURL, "trailing slash trimmed")

	flag := "https://flag.example/api"
	fromFlag, err := Resolve(EnvOverrides{BaseURL: "https://env.example/api"}, CLIOverrides{ConfigPath: path, BaseURL: &flag})
	require.NoError(t, err)
	assert.Equal(t, flag, fromFlag.BaseURL)
}

func TestResolve_ConfigPathPrecedence(t *testing.T) {
	isolateDirs(t)

	envPath := writeTestConfig(t, "[download]\nparallel = 2\n")
	cliPath := writeTestConfig(t, "[download]\nparallel = 3\n")

	r, err := Resolve(EnvOverrides{ConfigPath: envPath}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, 2, r.DownloadParallel)
	assert.Equal(t, envPath, r.ConfigPath)

	r, err = Resolve(EnvOverrides{ConfigPath: envPath}, CLIOverrides{ConfigPath: cliPath})
	require.NoError(t, err)
	assert.Equal(t, 3, r.DownloadParallel)
}

func TestResolve_ExplicitConfigMustExist(t *testing.T) {
	isolateDirs(t)

	_, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: filepath.Join(t.TempDir(), "missing.toml")})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestResolve_SessionFileOverride(t *testing.T) {
	isolateDirs(t)

	r, err := Resolve(EnvOverrides{SessionFile: "/run/mseval/session.json"}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "/run/mseval/session.json", r.SessionPath)
}

func TestResolve_RejectsBadOverrides(t *testing.T) {
	isolateDirs(t)

	_, err := Resolve(EnvOverrides{Environment: "staging"}, CLIOverrides{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvEnvironment)

	bad := "ftp://files.example"
	_, err = Resolve(EnvOverrides{}, CLIOverrides{BaseURL: &bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http or https")
}
