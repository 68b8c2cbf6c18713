// Package tasks owns the declarative sync task definitions.
//
// The task file is TOML with one [tasks.<name>] table per task. Decoding is
// strict: unknown keys, missing required keys, and invalid values all fail the
// whole load with ErrInvalidConfig so callers never act on a half-understood
// file. Writes go through a temp-file-and-rename so the daemon's file watcher
// never observes a partial document.
package tasks
