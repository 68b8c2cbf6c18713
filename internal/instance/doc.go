// Package instance enforces a single running cloudsync daemon.
//
// A daemon holds an exclusive flock on the lock file for its whole life and
// records its PID next to it. The lock is authoritative: the PID file is only
// a hint for other processes (the CLI, the watchdog) and is reclaimed when it
// names a process that is gone or is not a cloudsync daemon. A graceful stop
// leaves a marker file behind so the watchdog can tell an intentional exit
// from a crash.
//
// Process discovery (duplicate daemons, liveness) goes through gopsutil so
// the same code runs on every supported platform.
package instance
