package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"cloudsync/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "state", "logs")
	cfgVal.Paths.TasksFile = filepath.Join(base, "conf", "tasks.toml")
	cfgVal.Logging.RetentionDays = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithFastTimings shrinks every daemon period so lifecycle tests finish in
// well under a second per step.
func WithFastTimings() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Daemon.ConfigDebounceSeconds = 0.05
		b.cfg.Daemon.ReloadPollSeconds = 0.05
		b.cfg.Daemon.HealthIntervalSeconds = 1
		b.cfg.Daemon.RestartBackoffSeconds = 0
		b.cfg.Daemon.WatchdogIntervalSeconds = 1
		b.cfg.Daemon.ShutdownTimeoutSeconds = 2
		b.cfg.Daemon.DuplicateKillTimeoutSeconds = 1
	}
}

// WithStubbedRclone writes a stub rclone that appends its arguments to
// BaseDir/rclone.log and points the executor settings at it.
func WithStubbedRclone() ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		target := filepath.Join(binDir, "rclone")
		script := "#!/bin/sh\necho \"$@\" >> \"" + filepath.Join(b.baseDir, "rclone.log") + "\"\nexit 0\n"
		if err := os.WriteFile(target, []byte(script), 0o755); err != nil {
			b.t.Fatalf("write rclone stub: %v", err)
		}
		b.cfg.Executor.RcloneBinary = target
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
