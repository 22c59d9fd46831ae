// Package appdir locates the dbgctl data directory, which holds the daemon
// log and the traffic transcripts.
package appdir

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

const (
	// DirEnv overrides the data directory.
	DirEnv = "DBGCTL_DIR"

	// LogsDirName is the subdirectory for log files.
	LogsDirName = "logs"

	// LogFileName is the default daemon log file.
	LogFileName = "dbgctl.log"

	// TrafficFileName is the default backend traffic transcript.
	TrafficFileName = "traffic.log"
)

var (
	cachedDir string
	mu        sync.RWMutex
)

// Dir returns the data directory path:
//  1. DBGCTL_DIR (if set)
//  2. Platform-specific default:
//     - macOS: ~/Library/Application Support/dbgctl
//     - Linux: $XDG_DATA_HOME/dbgctl or ~/.local/share/dbgctl
//     - Windows: %APPDATA%\dbgctl
//
// The directory is not created; use EnsureDir for that.
func Dir() (string, error) {
	mu.RLock()
	if cachedDir != "" {
		dir := cachedDir
		mu.RUnlock()
		return dir, nil
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	if cachedDir != "" {
		return cachedDir, nil
	}

	dir, err := resolveDir()
	if err != nil {
		return "", err
	}
	cachedDir = dir
	return dir, nil
}

func resolveDir() (string, error) {
	if envDir := os.Getenv(DirEnv); envDir != "" {
		return envDir, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", "dbgctl"), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(homeDir, "AppData", "Roaming")
		}
		return filepath.Join(appData, "dbgctl"), nil
	default:
		dataDir := os.Getenv("XDG_DATA_HOME")
		if dataDir == "" {
			dataDir = filepath.Join(homeDir, ".local", "share")
		}
		return filepath.Join(dataDir, "dbgctl"), nil
	}
}

// EnsureDir creates the data directory and its logs subdirectory.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	logs := filepath.Join(dir, LogsDirName)
	if err := os.MkdirAll(logs, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory %s: %w", logs, err)
	}
	return nil
}

// LogsDir returns the logs subdirectory.
func LogsDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, LogsDirName), nil
}

// LogFilePath returns the default daemon log path.
func LogFilePath() (string, error) {
	logs, err := LogsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(logs, LogFileName), nil
}

// TrafficLogPath returns the default traffic transcript path.
func TrafficLogPath() (string, error) {
	logs, err := LogsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(logs, TrafficFileName), nil
}

// ResetCache clears the cached directory. Used by tests.
func ResetCache() {
	mu.Lock()
	defer mu.Unlock()
	cachedDir = ""
}
