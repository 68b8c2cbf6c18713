// Package logging assembles structured slog loggers and formatting helpers used
// across cloudsync.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so task code can tag log lines
// with task names and sync run IDs. The package also provides a no-op logger
// for tests and wiring code that cannot fail.
//
// Loggers are built once by the daemon runtime and handed to each component's
// constructor; nothing in this package keeps a process-wide logger.
package logging
