package config

import (
	"errors"
	"fmt"
	"path/filepath"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateDaemon(); err != nil {
		return err
	}
	if err := c.validateExecutor(); err != nil {
		return err
	}
	if err := c.validateHistory(); err != nil {
		return err
	}
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		return errors.New("notifications.request_timeout_seconds must be positive")
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if filepath.Dir(c.Paths.TasksFile) == c.Paths.TasksFile {
		return errors.New("paths.tasks_file must name a file")
	}
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateDaemon() error {
	d := c.Daemon
	if d.ConfigDebounceSeconds < 0 {
		return errors.New("daemon.config_debounce_seconds must be zero or positive")
	}
	if d.HealthIntervalSeconds <= 0 {
		return errors.New("daemon.health_interval_seconds must be positive")
	}
	if d.RestartMaxAttempts <= 0 {
		return errors.New("daemon.restart_max_attempts must be positive")
	}
	if d.RestartBackoffSeconds < 0 {
		return errors.New("daemon.restart_backoff_seconds must be zero or positive")
	}
	if d.WatchdogIntervalSeconds <= 0 {
		return errors.New("daemon.watchdog_interval_seconds must be positive")
	}
	if d.ShutdownTimeoutSeconds <= 0 {
		return errors.New("daemon.shutdown_timeout_seconds must be positive")
	}
	if d.DuplicateKillTimeoutSeconds <= 0 {
		return errors.New("daemon.duplicate_kill_timeout_seconds must be positive")
	}
	if d.ReloadPollSeconds <= 0 {
		return errors.New("daemon.reload_poll_seconds must be positive")
	}
	return nil
}

func (c *Config) validateExecutor() error {
	e := c.Executor
	if e.TimeoutSeconds < 0 {
		return errors.New("executor.timeout_seconds must be zero (no limit) or positive")
	}
	for key, value := range map[string]int{
		"executor.transfers":          e.Transfers,
		"executor.checkers":           e.Checkers,
		"executor.contimeout_seconds": e.ConnectTimeoutSeconds,
		"executor.io_timeout_seconds": e.IOTimeoutSeconds,
	} {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	if e.Retries < 0 || e.LowLevelRetries < 0 {
		return errors.New("executor.retries and executor.low_level_retries must be zero or positive")
	}
	if e.DiagnosticBytes < 0 {
		return errors.New("executor.diagnostic_bytes must be zero or positive")
	}
	return nil
}

func (c *Config) validateHistory() error {
	if c.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be zero (keep forever) or positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be zero or positive")
	}
	return nil
}
