package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/mseval/internal/config"
)

// Global flag reset pattern: newRootCmd() binds flags via StringVar/BoolVar,
// which reset the global flag variables to their zero values. Tests must either:
//   - Set globals AFTER newRootCmd() returns (direct function tests), or
//   - Use cmd.SetArgs() + cmd.Execute() to let Cobra parse flags (integration tests).
//
// Setting a global before newRootCmd() and expecting it to survive is a bug.

// --- logLevel tests ---

func TestLogLevel(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		flags      CLIFlags
		want       slog.Level
	}{
		{"default is warn", "", CLIFlags{}, slog.LevelWarn},
		{"config warn", "warn", CLIFlags{}, slog.LevelWarn},
		{"config debug", "debug", CLIFlags{}, slog.LevelDebug},
		{"config info", "info", CLIFlags{}, slog.LevelInfo},
		{"config error", "error", CLIFlags{}, slog.LevelError},
		{"verbose overrides config", "error", CLIFlags{Verbose: true}, slog.LevelInfo},
		{"debug overrides config", "warn", CLIFlags{Debug: true}, slog.LevelDebug},
		{"quiet overrides config", "debug", CLIFlags{Quiet: true}, slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, logLevel(tt.configured, tt.flags))
		})
	}
}

func TestLogFormat(t *testing.T) {
	assert.Equal(t, "text", logFormat("auto", true))
	assert.Equal(t, "json", logFormat("auto", false))
	assert.Equal(t, "json", logFormat("", false))
	assert.Equal(t, "text", logFormat("text", false))
	assert.Equal(t, "json", logFormat("json", true))
}

// --- buildLogger tests ---

func testResolved(t *testing.T) *config.Resolved {
	t.Helper()

	dir := t.TempDir()

	return &config.Resolved{
		ConfigPath:       filepath.Join(dir, "config.toml"),
		SessionPath:      filepath.Join(dir, "session.json"),
		HistoryPath:      filepath.Join(dir, "history.db"),
		BaseURL:          "http://localhost:8000/api",
		Environment:      config.EnvironmentDevelopment,
		RequestTimeout:   30 * time.Second,
		UploadTimeout:    300 * time.Second,
		ConnectTimeout:   10 * time.Second,
		MaxFileSize:      25_000_000,
		DefaultMethods:   []string{"standard"},
		PollInterval:     5 * time.Second,
		DownloadDir:      dir,
		DownloadParallel: 4,
		LogLevel:         "warn",
		LogFormat:        "auto",
	}
}

func TestBuildLogger_Default(t *testing.T) {
	var stderr bytes.Buffer

	logger, logFile, err := buildLogger(testResolved(t), CLIFlags{}, &stderr)
	require.NoError(t, err)
	assert.Nil(t, logFile)

	// Default level is Warn: Warn enabled, Info not.
	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))

	// A buffer is not a terminal, so "auto" means JSON.
	logger.Warn("hello")
	assert.Contains(t, stderr.String(), `"msg":"hello"`)
}

func TestBuildLogger_LogFile(t *testing.T) {
	cfg := testResolved(t)
	cfg.LogFile = filepath.Join(t.TempDir(), "mseval.log")
	cfg.LogFormat = "text"

	var stderr bytes.Buffer

	logger, logFile, err := buildLogger(cfg, CLIFlags{Verbose: true}, &stderr)
	require.NoError(t, err)
	require.NotNil(t, logFile)

	logger.Info("to the file")
	require.NoError(t, logFile.Close())

	data, err := os.ReadFile(cfg.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg=\"to the file\"")
	assert.Empty(t, stderr.String())
}

func TestBuildLogger_LogFileUnwritable(t *testing.T) {
	cfg := testResolved(t)
	cfg.LogFile = filepath.Join(t.TempDir(), "missing", "mseval.log")

	_, _, err := buildLogger(cfg, CLIFlags{}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opening log file")
}

// --- root command tests ---

func findSub(cmd *cobra.Command, name string) *cobra.Command {
	for _, sub := range cmd.Commands() {
		if sub.Name() == name {
			return sub
		}
	}

	return nil
}

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	expected := []string{
		"login", "signup", "logout", "whoami", "status", "password",
		"evaluate", "wait", "list", "show", "update", "rm",
		"download", "downloads", "template", "profile", "config",
	}
	for _, name := range expected {
		assert.NotNil(t, findSub(cmd, name), "expected subcommand %q not found", name)
	}
}

func TestNewRootCmd_NestedSubcommands(t *testing.T) {
	cmd := newRootCmd()

	nested := map[string][]string{
		"password": {"forgot", "verify", "reset", "change"},
		"template": {"ls", "show", "add", "update", "rm", "get"},
		"profile":  {"show", "update", "delete"},
		"config":   {"show"},
	}

	for parent, subs := range nested {
		p := findSub(cmd, parent)
		require.NotNil(t, p, parent)

		for _, name := range subs {
			assert.NotNil(t, findSub(p, name), "expected %s subcommand %q not found", parent, name)
		}
	}
}

func TestNewRootCmd_PersistentFlags(t *testing.T) {
	cmd := newRootCmd()

	expectedFlags := []string{"config", "base-url", "json", "verbose", "debug", "quiet"}
	for _, name := range expectedFlags {
		flag := cmd.PersistentFlags().Lookup(name)
		assert.NotNil(t, flag, "expected persistent flag %q not found", name)
	}
}

func TestNewRootCmd_MutualExclusivity(t *testing.T) {
	// Cobra checks flag groups before PersistentPreRunE, so no config is
	// resolved for these invocations.
	pairs := [][]string{
		{"--verbose", "--debug"},
		{"--verbose", "--quiet"},
		{"--debug", "--quiet"},
	}

	for _, flags := range pairs {
		t.Run(flags[0]+"_"+flags[1], func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetArgs(append(flags, "status"))
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})

			err := cmd.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "none of the others can be")
		})
	}
}

func TestNeedsSetup(t *testing.T) {
	cmd := newRootCmd()

	// Force cobra to add its help and completion commands.
	cmd.InitDefaultHelpCmd()
	cmd.InitDefaultCompletionCmd()

	tests := []struct {
		args []string
		want bool
	}{
		{[]string{"status"}, true},
		{[]string{"template", "ls"}, true},
		{[]string{"help"}, false},
		{[]string{"completion", "bash"}, false},
	}

	for _, tt := range tests {
		sub, _, err := cmd.Find(tt.args)
		require.NoError(t, err)
		assert.Equal(t, tt.want, needsSetup(sub), "%v", tt.args)
	}
}

func TestNewRootCmd_HelpWithBrokenConfig(t *testing.T) {
	isolateCLI(t)
	t.Setenv(config.EnvConfig, filepath.Join(t.TempDir(), "does-not-exist.toml"))

	var out bytes.Buffer

	cmd := newRootCmd()
	cmd.SetArgs([]string{"help"})
	cmd.SetOut(&out)
	cmd.SetErr(&out)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "mseval")
}

// --- HTTP client tests ---

func TestDefaultHTTPClient_NoOverallTimeout(t *testing.T) {
	client := defaultHTTPClient(testResolved(t))

	// Deadlines are per request; a client-wide timeout would cut uploads short.
	assert.Zero(t, client.Timeout)
	require.NotNil(t, client.Transport)
}

func TestUserAgent(t *testing.T) {
	cfg := testResolved(t)
	assert.Equal(t, "mseval/"+version, userAgent(cfg))

	cfg.UserAgent = "custom/1.0"
	assert.Equal(t, "custom/1.0", userAgent(cfg))
}
