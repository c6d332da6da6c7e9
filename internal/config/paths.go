package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

const appName = "mseval"

// File names inside the config and data directories.
const (
	configFileName  = "config.toml"
	sessionFileName = "session.json"
	historyFileName = "history.db"
)

// DefaultConfigDir returns the directory holding config.toml. Linux honours
// XDG_CONFIG_HOME; macOS uses ~/Library/Application Support/mseval.
func DefaultConfigDir() string {
	return platformDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns the directory holding the session file and the
// history database. Linux honours XDG_DATA_HOME; on macOS it is the same
// directory as the config.
func DefaultDataDir() string {
	return platformDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func platformDir(xdgVar, homeRel string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		if xdg := os.Getenv(xdgVar); xdg != "" {
			return filepath.Join(xdg, appName)
		}

		return filepath.Join(home, homeRel, appName)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, homeRel, appName)
	}
}

// DefaultConfigPath is used when neither MSEVAL_CONFIG nor --config is set.
func DefaultConfigPath() string {
	return inDir(DefaultConfigDir(), configFileName)
}

// DefaultSessionPath is used when MSEVAL_SESSION_FILE is unset.
func DefaultSessionPath() string {
	return inDir(DefaultDataDir(), sessionFileName)
}

// DefaultHistoryPath returns the location of the local history database.
func DefaultHistoryPath() string {
	return inDir(DefaultDataDir(), historyFileName)
}

func inDir(dir, name string) string {
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, name)
}
