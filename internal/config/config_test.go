package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"cloudsync/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("CLOUDSYNC_CONFIG", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if want := filepath.Join(tempHome, ".config", "cloudsync", "config.toml"); resolved != want {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, want)
	}
	if want := filepath.Join(tempHome, ".config", "cloudsync", "tasks.toml"); cfg.Paths.TasksFile != want {
		t.Fatalf("unexpected tasks file: got %q want %q", cfg.Paths.TasksFile, want)
	}
	if want := filepath.Join(tempHome, ".local", "share", "cloudsync"); cfg.Paths.StateDir != want {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, want)
	}
	if cfg.HealthInterval() != time.Minute {
		t.Fatalf("expected 60s health interval, got %s", cfg.HealthInterval())
	}
	if cfg.RestartBackoff() != 30*time.Second {
		t.Fatalf("expected 30s restart backoff, got %s", cfg.RestartBackoff())
	}
	if cfg.Daemon.RestartMaxAttempts != 5 {
		t.Fatalf("expected 5 restart attempts, got %d", cfg.Daemon.RestartMaxAttempts)
	}
	if cfg.WatchdogInterval() != 30*time.Second {
		t.Fatalf("expected 30s watchdog interval, got %s", cfg.WatchdogInterval())
	}
	if cfg.ConfigDebounce() != time.Second {
		t.Fatalf("expected 1s config debounce, got %s", cfg.ConfigDebounce())
	}
	if cfg.ReloadPollInterval() != time.Second {
		t.Fatalf("expected 1s reload poll, got %s", cfg.ReloadPollInterval())
	}
	if cfg.Executor.RcloneBinary != "rclone" {
		t.Fatalf("unexpected rclone binary %q", cfg.Executor.RcloneBinary)
	}
	if !strings.HasPrefix(cfg.PIDFile(), cfg.Paths.StateDir) || !strings.HasSuffix(cfg.PIDFile(), ".pid") {
		t.Fatalf("unexpected pid file %q", cfg.PIDFile())
	}
}

func TestLoadCustomConfigOverridesDefaults(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(tempHome, "config.toml")
	payload := struct {
		Paths struct {
			TasksFile string `toml:"tasks_file"`
			StateDir  string `toml:"state_dir"`
		} `toml:"paths"`
		Daemon struct {
			RestartMaxAttempts int     `toml:"restart_max_attempts"`
			ReloadPollSeconds  float64 `toml:"reload_poll_seconds"`
		} `toml:"daemon"`
		Executor struct {
			ExtraArgs []string `toml:"extra_args"`
		} `toml:"executor"`
		Logging struct {
			Format string `toml:"format"`
		} `toml:"logging"`
	}{}
	payload.Paths.TasksFile = "~/sync/tasks.toml"
	payload.Paths.StateDir = "~/state"
	payload.Daemon.RestartMaxAttempts = 2
	payload.Daemon.ReloadPollSeconds = 0.25
	payload.Executor.ExtraArgs = []string{" --fast-list ", ""}
	payload.Logging.Format = "JSON"

	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected existing config at %q, got %q (exists=%v)", configPath, resolved, exists)
	}
	if cfg.Paths.TasksFile != filepath.Join(tempHome, "sync", "tasks.toml") {
		t.Fatalf("unexpected tasks file %q", cfg.Paths.TasksFile)
	}
	if cfg.Paths.StateDir != filepath.Join(tempHome, "state") {
		t.Fatalf("unexpected state dir %q", cfg.Paths.StateDir)
	}
	if cfg.Daemon.RestartMaxAttempts != 2 {
		t.Fatalf("expected restart attempts 2, got %d", cfg.Daemon.RestartMaxAttempts)
	}
	if cfg.ReloadPollInterval() != 250*time.Millisecond {
		t.Fatalf("expected 250ms reload poll, got %s", cfg.ReloadPollInterval())
	}
	if len(cfg.Executor.ExtraArgs) != 1 || cfg.Executor.ExtraArgs[0] != "--fast-list" {
		t.Fatalf("expected trimmed extra args, got %v", cfg.Executor.ExtraArgs)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected normalized json format, got %q", cfg.Logging.Format)
	}
	if cfg.Daemon.HealthIntervalSeconds != 60 {
		t.Fatalf("expected untouched defaults to survive, got health interval %d", cfg.Daemon.HealthIntervalSeconds)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"health interval", func(c *config.Config) { c.Daemon.HealthIntervalSeconds = 0 }, "daemon.health_interval_seconds"},
		{"restart attempts", func(c *config.Config) { c.Daemon.RestartMaxAttempts = 0 }, "daemon.restart_max_attempts"},
		{"reload poll", func(c *config.Config) { c.Daemon.ReloadPollSeconds = 0 }, "daemon.reload_poll_seconds"},
		{"transfers", func(c *config.Config) { c.Executor.Transfers = 0 }, "executor.transfers"},
		{"notify timeout", func(c *config.Config) { c.Notifications.RequestTimeoutSeconds = 0 }, "notifications.request_timeout_seconds"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"log level", func(c *config.Config) { c.Logging.Level = "loud" }, "logging.level"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Paths.StateDir = t.TempDir()
			cfg.Paths.LogDir = t.TempDir()
			cfg.Paths.TasksFile = filepath.Join(t.TempDir(), "tasks.toml")
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestEnsureDirectoriesCreatesTaskFileParent(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "state", "logs")
	cfg.Paths.TasksFile = filepath.Join(base, "conf", "tasks.toml")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StateDir, cfg.Paths.LogDir, filepath.Dir(cfg.Paths.TasksFile)} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s to exist (err=%v)", dir, err)
		}
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	target := filepath.Join(tempHome, "nested", "config.toml")

	if err := config.CreateSample(target); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	if _, _, exists, err := config.Load(target); err != nil || !exists {
		t.Fatalf("sample config should load cleanly (exists=%v): %v", exists, err)
	}
}
