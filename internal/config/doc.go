// Package config loads, normalizes, and validates cloudsync daemon settings.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), and reads TOML files. The Config type covers daemon timing,
// the rclone invocation, the history database, and logging, and derives the
// state-directory paths (PID file, lock, markers, socket) that the daemon and
// CLI must agree on.
//
// Sync task definitions are not part of this package; they live in the task
// file managed by internal/tasks.
package config
