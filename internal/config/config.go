package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains file and directory locations used by the daemon.
type Paths struct {
	TasksFile string `toml:"tasks_file"`
	StateDir  string `toml:"state_dir"`
	LogDir    string `toml:"log_dir"`
}

// Daemon contains supervision timing and lifecycle settings.
type Daemon struct {
	ConfigDebounceSeconds       float64 `toml:"config_debounce_seconds"`
	HealthIntervalSeconds       int     `toml:"health_interval_seconds"`
	RestartMaxAttempts          int     `toml:"restart_max_attempts"`
	RestartBackoffSeconds       int     `toml:"restart_backoff_seconds"`
	WatchdogIntervalSeconds     int     `toml:"watchdog_interval_seconds"`
	WatchdogEnabled             bool    `toml:"watchdog_enabled"`
	ShutdownTimeoutSeconds      int     `toml:"shutdown_timeout_seconds"`
	DuplicateKillTimeoutSeconds int     `toml:"duplicate_kill_timeout_seconds"`
	ReloadPollSeconds           float64 `toml:"reload_poll_seconds"`
	PollReloadMarker            bool    `toml:"poll_reload_marker"`
}

// Executor contains settings for the rclone invocation.
type Executor struct {
	RcloneBinary          string   `toml:"rclone_binary"`
	TimeoutSeconds        int      `toml:"timeout_seconds"`
	Transfers             int      `toml:"transfers"`
	Checkers              int      `toml:"checkers"`
	Retries               int      `toml:"retries"`
	LowLevelRetries       int      `toml:"low_level_retries"`
	ConnectTimeoutSeconds int      `toml:"contimeout_seconds"`
	IOTimeoutSeconds      int      `toml:"io_timeout_seconds"`
	ExtraArgs             []string `toml:"extra_args"`
	DiagnosticBytes       int      `toml:"diagnostic_bytes"`
}

// History contains settings for the sync run history database.
type History struct {
	Enabled       bool `toml:"enabled"`
	RetentionDays int  `toml:"retention_days"`
}

// Notifications configures ntfy alerts for conditions that need a human.
type Notifications struct {
	// NtfyTopic is the full topic URL; empty disables notifications.
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all daemon settings.
//
// Task definitions live in a separate file (Paths.TasksFile) owned by the
// tasks package; this struct only covers how the daemon itself behaves.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Daemon        Daemon        `toml:"daemon"`
	Executor      Executor      `toml:"executor"`
	History       History       `toml:"history"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		if env := strings.TrimSpace(os.Getenv("CLOUDSYNC_CONFIG")); env != "" {
			path = env
		}
	}
	if path == "" {
		path = defaultConfigPath
	}
	expanded, err := expandPath(path)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("config path %s is a directory", expanded)
	}
	return expanded, true, nil
}

// EnsureDirectories creates the state and log directories plus the parent of
// the task file so the config watcher has a directory to observe.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.StateDir, c.Paths.LogDir, filepath.Dir(c.Paths.TasksFile)}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// PIDFile is the path of the single-instance PID record.
func (c *Config) PIDFile() string { return filepath.Join(c.Paths.StateDir, "cloudsync.pid") }

// LockFile is the path held with an exclusive flock while the daemon runs.
func (c *Config) LockFile() string { return filepath.Join(c.Paths.StateDir, "cloudsync.lock") }

// StopMarker is written by a graceful shutdown so the watchdog does not respawn.
func (c *Config) StopMarker() string { return filepath.Join(c.Paths.StateDir, "cloudsync.stopped") }

// ReloadMarker requests a task reload on platforms without a reload signal.
func (c *Config) ReloadMarker() string { return filepath.Join(c.Paths.StateDir, "cloudsync.reload") }

// SocketPath is the Unix socket served by the daemon.
func (c *Config) SocketPath() string { return filepath.Join(c.Paths.StateDir, "cloudsync.sock") }

// HistoryDB is the SQLite database of sync runs.
func (c *Config) HistoryDB() string { return filepath.Join(c.Paths.StateDir, "history.db") }

// ConfigDebounce returns the config watcher quiet period.
func (c *Config) ConfigDebounce() time.Duration {
	return secondsToDuration(c.Daemon.ConfigDebounceSeconds)
}

// HealthInterval returns the health monitor period.
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.Daemon.HealthIntervalSeconds) * time.Second
}

// RestartBackoff returns the delay before a dead task is restarted.
func (c *Config) RestartBackoff() time.Duration {
	return time.Duration(c.Daemon.RestartBackoffSeconds) * time.Second
}

// WatchdogInterval returns the period of the watchdog and self-check loops.
func (c *Config) WatchdogInterval() time.Duration {
	return time.Duration(c.Daemon.WatchdogIntervalSeconds) * time.Second
}

// ShutdownTimeout bounds how long shutdown waits for in-flight syncs.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Daemon.ShutdownTimeoutSeconds) * time.Second
}

// DuplicateKillTimeout bounds how long a duplicate instance gets to exit after SIGTERM.
func (c *Config) DuplicateKillTimeout() time.Duration {
	return time.Duration(c.Daemon.DuplicateKillTimeoutSeconds) * time.Second
}

// ReloadPollInterval returns the reload-marker polling period.
func (c *Config) ReloadPollInterval() time.Duration {
	return secondsToDuration(c.Daemon.ReloadPollSeconds)
}

// ExecutorTimeout bounds a single rclone run. Zero disables the limit.
func (c *Config) ExecutorTimeout() time.Duration {
	return time.Duration(c.Executor.TimeoutSeconds) * time.Second
}

// NotifyTimeout bounds a single ntfy request.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeoutSeconds) * time.Second
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
