// Package history persists one row per sync run in a local SQLite database.
//
// The daemon records every rclone invocation so operators can inspect recent
// outcomes with `cloudsync history`, and bidirectional tasks consult it to
// decide whether the remote already has a baseline listing. History is an
// aid, not a dependency: callers log failures and carry on.
package history
