package config

const (
	defaultConfigPath                  = "~/.config/cloudsync/config.toml"
	defaultTasksFile                   = "~/.config/cloudsync/tasks.toml"
	defaultStateDir                    = "~/.local/share/cloudsync"
	defaultLogDir                      = "~/.local/share/cloudsync/logs"
	defaultConfigDebounceSeconds       = 1.0
	defaultHealthIntervalSeconds       = 60
	defaultRestartMaxAttempts          = 5
	defaultRestartBackoffSeconds       = 30
	defaultWatchdogIntervalSeconds     = 30
	defaultShutdownTimeoutSeconds      = 60
	defaultDuplicateKillTimeoutSeconds = 5
	defaultReloadPollSeconds           = 1.0
	defaultRcloneBinary                = "rclone"
	defaultExecutorTimeoutSeconds      = 3600
	defaultTransfers                   = 4
	defaultCheckers                    = 8
	defaultRetries                     = 3
	defaultLowLevelRetries             = 10
	defaultConnectTimeoutSeconds       = 60
	defaultIOTimeoutSeconds            = 300
	defaultDiagnosticBytes             = 8192
	defaultHistoryRetentionDays        = 30
	defaultNotifyTimeoutSeconds        = 10
	defaultLogFormat                   = "console"
	defaultLogLevel                    = "info"
	defaultLogRetentionDays            = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			TasksFile: defaultTasksFile,
			StateDir:  defaultStateDir,
			LogDir:    defaultLogDir,
		},
		Daemon: Daemon{
			ConfigDebounceSeconds:       defaultConfigDebounceSeconds,
			HealthIntervalSeconds:       defaultHealthIntervalSeconds,
			RestartMaxAttempts:          defaultRestartMaxAttempts,
			RestartBackoffSeconds:       defaultRestartBackoffSeconds,
			WatchdogIntervalSeconds:     defaultWatchdogIntervalSeconds,
			WatchdogEnabled:             true,
			ShutdownTimeoutSeconds:      defaultShutdownTimeoutSeconds,
			DuplicateKillTimeoutSeconds: defaultDuplicateKillTimeoutSeconds,
			ReloadPollSeconds:           defaultReloadPollSeconds,
		},
		Executor: Executor{
			RcloneBinary:          defaultRcloneBinary,
			TimeoutSeconds:        defaultExecutorTimeoutSeconds,
			Transfers:             defaultTransfers,
			Checkers:              defaultCheckers,
			Retries:               defaultRetries,
			LowLevelRetries:       defaultLowLevelRetries,
			ConnectTimeoutSeconds: defaultConnectTimeoutSeconds,
			IOTimeoutSeconds:      defaultIOTimeoutSeconds,
			DiagnosticBytes:       defaultDiagnosticBytes,
		},
		History: History{
			Enabled:       true,
			RetentionDays: defaultHistoryRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNotifyTimeoutSeconds,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}

// DefaultDiagnosticBytes is the rclone output tail kept when none is configured.
const DefaultDiagnosticBytes = defaultDiagnosticBytes
